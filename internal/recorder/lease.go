package recorder

import (
	"context"
	"io"
	"sync"
)

// captureLease hands a single shared capture engine to one session at a time.
// The owning session keeps it from Start until Stop or Close.
type captureLease struct {
	engine CaptureEngine

	mu    sync.Mutex
	owner string
}

func (l *captureLease) acquire(sessionID string) (fresh bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.owner {
	case sessionID:
		return false, nil
	case "":
		l.owner = sessionID
		return true, nil
	default:
		return false, l.busyError()
	}
}

func (l *captureLease) owns(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != sessionID {
		return l.busyError()
	}
	return nil
}

func (l *captureLease) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner == sessionID {
		l.owner = ""
	}
}

// holder returns the session currently holding the device, if any
func (l *captureLease) holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// busyError must be called with l.mu held
func (l *captureLease) busyError() error {
	reason := "not held by this session"
	if l.owner != "" {
		reason = "in use by session " + l.owner
	}
	return &DeviceAccessError{Device: "capture", Reason: reason}
}

// leasedCapture is one session's view of a shared engine
type leasedCapture struct {
	lease     *captureLease
	sessionID string
}

func (c *leasedCapture) Start(ctx context.Context, monitor io.Writer) error {
	fresh, err := c.lease.acquire(c.sessionID)
	if err != nil {
		return err
	}
	if err := c.lease.engine.Start(ctx, monitor); err != nil {
		if fresh {
			c.lease.release(c.sessionID)
		}
		return err
	}
	return nil
}

func (c *leasedCapture) Resume(ctx context.Context, monitor io.Writer) error {
	if err := c.lease.owns(c.sessionID); err != nil {
		return err
	}
	return c.lease.engine.Resume(ctx, monitor)
}

func (c *leasedCapture) Pause(ctx context.Context) ([]byte, error) {
	if err := c.lease.owns(c.sessionID); err != nil {
		return nil, err
	}
	return c.lease.engine.Pause(ctx)
}

func (c *leasedCapture) Stop(ctx context.Context) ([]byte, error) {
	if err := c.lease.owns(c.sessionID); err != nil {
		return nil, err
	}
	defer c.lease.release(c.sessionID)
	return c.lease.engine.Stop(ctx)
}

func (c *leasedCapture) MIMEType() string {
	return c.lease.engine.MIMEType()
}
