package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/nextgen-voice/internal/recorder"
)

const (
	defaultAckTimeout   = 5 * time.Second
	defaultBrowserMIME  = "audio/webm"
	controlWriteTimeout = 2 * time.Second
)

// Control message types exchanged with the browser peer
const (
	msgStart   = "start"
	msgPause   = "pause"
	msgResume  = "resume"
	msgStop    = "stop"
	msgGranted = "granted"
	msgDenied  = "denied"
	msgPaused  = "paused"
	msgStopped = "stopped"
)

// controlMessage is a JSON text frame on the capture socket
type controlMessage struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// BrowserCapture records through a browser's MediaRecorder.
//
// The browser connects over WebSocket and answers control messages; binary
// frames carry container chunks that are concatenated into the snapshot.
// Only one peer is served at a time; a new connection replaces the old one.
type BrowserCapture struct {
	upgrader   websocket.Upgrader
	ackTimeout time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	acks      chan controlMessage
	chunks    bytes.Buffer
	monitor   io.Writer
	recording bool
	mimeType  string

	writeMu sync.Mutex
}

// NewBrowserCapture creates a browser capture engine; allowedOrigin empty
// accepts same-origin connections only.
func NewBrowserCapture(ackTimeout time.Duration, allowedOrigin string, logger *slog.Logger) *BrowserCapture {
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	b := &BrowserCapture{
		ackTimeout: ackTimeout,
		logger:     logger,
		mimeType:   defaultBrowserMIME,
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
	}
	if allowedOrigin != "" {
		b.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		}
	}
	return b
}

// Connected reports whether a browser peer is attached
func (b *BrowserCapture) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

func (b *BrowserCapture) MIMEType() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mimeType
}

// ServeHTTP upgrades the request and attaches the browser peer
func (b *BrowserCapture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	acks := make(chan controlMessage, 8)

	b.mu.Lock()
	previous := b.conn
	b.conn = conn
	b.acks = acks
	b.recording = false
	b.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
		b.logger.Info("Browser peer replaced", slog.String("remote_addr", conn.RemoteAddr().String()))
	} else {
		b.logger.Info("Browser peer connected", slog.String("remote_addr", conn.RemoteAddr().String()))
	}

	b.readLoop(conn, acks)
}

func (b *BrowserCapture) readLoop(conn *websocket.Conn, acks chan<- controlMessage) {
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
			b.recording = false
		}
		b.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Warn("Browser peer read failed", slog.String("error", err.Error()))
			} else {
				b.logger.Info("Browser peer disconnected")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			b.appendChunk(data)

		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				b.logger.Warn("Invalid control message from browser", slog.String("error", err.Error()))
				continue
			}
			select {
			case acks <- msg:
			default:
				b.logger.Warn("Control queue full, dropping message", slog.String("type", msg.Type))
			}
		}
	}
}

func (b *BrowserCapture) appendChunk(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.recording {
		return
	}
	b.chunks.Write(data)
	if b.monitor != nil {
		_, _ = b.monitor.Write(data)
	}
}

// Start asks the browser to begin a new recording and waits for permission
func (b *BrowserCapture) Start(ctx context.Context, monitor io.Writer) error {
	return b.begin(ctx, msgStart, monitor, true)
}

// Resume asks the browser to continue the paused recording
func (b *BrowserCapture) Resume(ctx context.Context, monitor io.Writer) error {
	return b.begin(ctx, msgResume, monitor, false)
}

func (b *BrowserCapture) begin(ctx context.Context, command string, monitor io.Writer, fresh bool) error {
	conn, acks := b.peer()
	if conn == nil {
		return &recorder.DeviceAccessError{Device: "browser", Reason: "no browser connected"}
	}
	drain(acks)

	// Chunks may arrive before the grant and must already be recorded
	b.mu.Lock()
	if fresh {
		b.chunks.Reset()
	}
	b.monitor = monitor
	b.recording = true
	b.mu.Unlock()

	if err := b.send(conn, controlMessage{Type: command}); err != nil {
		b.mu.Lock()
		b.recording = false
		b.mu.Unlock()
		return &recorder.DeviceAccessError{Device: "browser", Reason: "failed to reach browser", Err: err}
	}

	msg, err := b.awaitAck(ctx, acks, msgGranted)
	if err != nil || msg.Type != msgGranted {
		b.mu.Lock()
		b.recording = false
		b.mu.Unlock()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &recorder.DeviceAccessError{Device: "browser", Reason: "no answer from browser", Err: err}
		}
		reason := msg.Reason
		if reason == "" {
			reason = "microphone permission denied"
		}
		return &recorder.DeviceAccessError{Device: "browser", Reason: reason}
	}

	if msg.MIMEType != "" {
		b.mu.Lock()
		b.mimeType = msg.MIMEType
		b.mu.Unlock()
	}
	return nil
}

// Pause asks the browser to pause and flush; the snapshot holds every chunk so far
func (b *BrowserCapture) Pause(ctx context.Context) ([]byte, error) {
	return b.halt(ctx, msgPause, msgPaused)
}

// Stop asks the browser to finish the recording and returns the full container
func (b *BrowserCapture) Stop(ctx context.Context) ([]byte, error) {
	return b.halt(ctx, msgStop, msgStopped)
}

func (b *BrowserCapture) halt(ctx context.Context, command, ack string) ([]byte, error) {
	conn, acks := b.peer()
	if conn != nil {
		drain(acks)
		if err := b.send(conn, controlMessage{Type: command}); err != nil {
			b.logger.Warn("Failed to send control message", slog.String("type", command), slog.String("error", err.Error()))
		} else if _, err := b.awaitAck(ctx, acks, ack); err != nil {
			// Chunks received so far are kept
			b.logger.Warn("Browser did not acknowledge", slog.String("type", command), slog.String("error", err.Error()))
		}
	} else {
		b.logger.Warn("Browser peer gone, returning captured chunks", slog.String("type", command))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.recording = false
	b.monitor = nil
	return append([]byte(nil), b.chunks.Bytes()...), nil
}

func (b *BrowserCapture) peer() (*websocket.Conn, chan controlMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn, b.acks
}

func (b *BrowserCapture) send(conn *websocket.Conn, msg controlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteMessage(websocket.TextMessage, data)
}

// awaitAck waits for want or a denial, bounded by the ack timeout and ctx
func (b *BrowserCapture) awaitAck(ctx context.Context, acks <-chan controlMessage, want string) (controlMessage, error) {
	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-acks:
			if msg.Type == want || msg.Type == msgDenied {
				return msg, nil
			}
			b.logger.Debug("Ignoring unexpected control message",
				slog.String("type", msg.Type),
				slog.String("want", want),
			)
		case <-timer.C:
			return controlMessage{}, fmt.Errorf("timed out after %s waiting for %q", b.ackTimeout, want)
		case <-ctx.Done():
			return controlMessage{}, ctx.Err()
		}
	}
}

func drain(acks chan controlMessage) {
	for {
		select {
		case <-acks:
		default:
			return
		}
	}
}
