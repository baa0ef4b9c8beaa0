package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/nextgen-voice/internal/audio"
)

func newTestManager(t *testing.T, capture CaptureEngine, idle time.Duration) *Manager {
	t.Helper()
	mgr, err := NewManager(testLogger(), ManagerConfig{
		Session: SessionConfig{
			Capture: capture,
			Decoder: audio.NewWAVDecoder(),
		},
		IdleTimeout:     idle,
		CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return mgr
}

func TestNewManagerRequiresEngines(t *testing.T) {
	if _, err := NewManager(testLogger(), ManagerConfig{}); err == nil {
		t.Error("Expected error for missing capture engine")
	}
}

func TestManagerCreateAndGetSession(t *testing.T) {
	mgr := newTestManager(t, newFakeCapture(), time.Minute)
	defer mgr.Stop()

	session, err := mgr.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := uuid.Parse(session.ID); err != nil {
		t.Errorf("Expected UUID session ID, got %q: %v", session.ID, err)
	}
	if session.State() != StateIdle {
		t.Errorf("Expected idle session, got %s", session.State())
	}

	got, ok := mgr.GetSession(session.ID)
	if !ok || got != session {
		t.Fatal("Expected to find the created session")
	}

	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("Expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}
}

func TestManagerActiveSessionsOrdered(t *testing.T) {
	mgr := newTestManager(t, newFakeCapture(), time.Minute)
	defer mgr.Stop()

	first, _ := mgr.CreateSession()
	time.Sleep(2 * time.Millisecond)
	second, _ := mgr.CreateSession()

	sessions := mgr.ActiveSessions()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0] != first || sessions[1] != second {
		t.Error("Expected sessions ordered by creation time")
	}
}

func TestManagerRemoveSession(t *testing.T) {
	capture := newFakeCapture()
	mgr := newTestManager(t, capture, time.Minute)
	defer mgr.Stop()

	session, _ := mgr.CreateSession()
	_ = session.Start(context.Background())

	if !mgr.RemoveSession(session.ID) {
		t.Fatal("Expected RemoveSession to succeed")
	}
	if mgr.RemoveSession(session.ID) {
		t.Error("Expected second RemoveSession to report false")
	}
	if capture.stops != 1 {
		t.Errorf("Expected active capture to be stopped on removal, got %d", capture.stops)
	}
	if _, ok := mgr.GetSession(session.ID); ok {
		t.Error("Session should be gone")
	}
}

func TestManagerCleanupExpiredSessions(t *testing.T) {
	mgr := newTestManager(t, newFakeCapture(), time.Minute)
	defer mgr.Stop()

	idle, _ := mgr.CreateSession()
	recording, _ := mgr.CreateSession()
	fresh, _ := mgr.CreateSession()

	_ = recording.Start(context.Background())

	old := time.Now().Add(-2 * time.Minute)
	idle.mu.Lock()
	idle.lastActivity = old
	idle.mu.Unlock()
	recording.mu.Lock()
	recording.lastActivity = old
	recording.mu.Unlock()

	removed := mgr.cleanupExpiredSessions(time.Now())
	if removed != 1 {
		t.Fatalf("Expected 1 expired session, got %d", removed)
	}
	if _, ok := mgr.GetSession(idle.ID); ok {
		t.Error("Idle session should have expired")
	}
	if _, ok := mgr.GetSession(recording.ID); !ok {
		t.Error("Recording session must not expire")
	}
	if _, ok := mgr.GetSession(fresh.ID); !ok {
		t.Error("Fresh session must not expire")
	}
}

func TestManagerCleanupDisabled(t *testing.T) {
	mgr := newTestManager(t, newFakeCapture(), 0)
	defer mgr.Stop()

	session, _ := mgr.CreateSession()
	session.mu.Lock()
	session.lastActivity = time.Now().Add(-24 * time.Hour)
	session.mu.Unlock()

	if removed := mgr.cleanupExpiredSessions(time.Now()); removed != 0 {
		t.Errorf("Expected no expiry with zero timeout, got %d", removed)
	}
}

func TestManagerStopClosesSessions(t *testing.T) {
	capture := newFakeCapture()
	mgr := newTestManager(t, capture, time.Minute)

	session, _ := mgr.CreateSession()
	_ = session.Start(context.Background())

	mgr.Stop()

	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected no sessions after stop, got %d", mgr.GetActiveSessionCount())
	}
	if capture.stops != 1 {
		t.Errorf("Expected capture to be stopped, got %d", capture.stops)
	}
}

func TestManagerSessionsOwnTheirCapture(t *testing.T) {
	var engines []*fakeCapture
	mgr, err := NewManager(testLogger(), ManagerConfig{
		Session: SessionConfig{Decoder: audio.NewWAVDecoder()},
		NewCapture: func() (CaptureEngine, error) {
			engine := newFakeCapture()
			engines = append(engines, engine)
			return engine, nil
		},
		CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Stop()

	ctx := context.Background()
	a, _ := mgr.CreateSession()
	b, _ := mgr.CreateSession()
	if len(engines) != 2 {
		t.Fatalf("Expected one engine per session, got %d", len(engines))
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"a start", func() error { return a.Start(ctx) }},
		{"a pause", func() error { return a.Pause(ctx) }},
		{"b start", func() error { return b.Start(ctx) }},
		{"a resume", func() error { return a.Resume(ctx) }},
		{"a stop", func() error { return a.Stop(ctx) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("%s failed: %v", step.name, err)
		}
	}

	blob, _, ok := a.Blob()
	if !ok || string(blob) != "seg1seg2" {
		t.Errorf("Expected A to keep both of its segments, got %q", blob)
	}
	if b.State() != StateRecording {
		t.Errorf("Expected B to still be recording, got %s", b.State())
	}
	if engines[1].stops != 0 {
		t.Errorf("Stopping A must not stop B's engine, got %d stops", engines[1].stops)
	}

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("b stop failed: %v", err)
	}
	blob, _, _ = b.Blob()
	if string(blob) != "seg1" {
		t.Errorf("Expected B's own recording, got %q", blob)
	}
}

func TestManagerSharedCaptureIsExclusive(t *testing.T) {
	capture := newFakeCapture()
	mgr := newTestManager(t, capture, time.Minute)
	defer mgr.Stop()

	ctx := context.Background()
	a, _ := mgr.CreateSession()
	b, _ := mgr.CreateSession()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("a start failed: %v", err)
	}
	if mgr.CaptureHolder() != a.ID {
		t.Errorf("Expected A to hold the device, got %q", mgr.CaptureHolder())
	}

	err := b.Start(ctx)
	var devErr *DeviceAccessError
	if !errors.As(err, &devErr) {
		t.Fatalf("Expected DeviceAccessError for second session, got %v", err)
	}
	if !strings.Contains(devErr.Error(), a.ID) {
		t.Errorf("Expected error to name the holder, got %v", devErr)
	}
	if b.State() != StateIdle {
		t.Errorf("Expected B to stay idle, got %s", b.State())
	}
	if capture.starts != 1 {
		t.Errorf("Expected the engine to start once, got %d", capture.starts)
	}

	// Paused still holds the device
	if err := a.Pause(ctx); err != nil {
		t.Fatalf("a pause failed: %v", err)
	}
	if err := b.Start(ctx); err == nil {
		t.Fatal("Expected B to be refused while A is paused")
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("a stop failed: %v", err)
	}
	if mgr.CaptureHolder() != "" {
		t.Errorf("Expected device released after stop, got %q", mgr.CaptureHolder())
	}

	if err := b.Start(ctx); err != nil {
		t.Fatalf("b start after release failed: %v", err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("b stop failed: %v", err)
	}

	blobA, _, _ := a.Blob()
	blobB, _, _ := b.Blob()
	if string(blobA) != "seg1" || string(blobB) != "seg2" {
		t.Errorf("Expected separate recordings, got A=%q B=%q", blobA, blobB)
	}
}

func TestManagerRemoveReleasesSharedCapture(t *testing.T) {
	mgr := newTestManager(t, newFakeCapture(), time.Minute)
	defer mgr.Stop()

	ctx := context.Background()
	a, _ := mgr.CreateSession()
	b, _ := mgr.CreateSession()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("a start failed: %v", err)
	}
	mgr.RemoveSession(a.ID)

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Expected device free after removing its holder, got %v", err)
	}
}

func TestManagerCaptureFactoryError(t *testing.T) {
	mgr, err := NewManager(testLogger(), ManagerConfig{
		Session: SessionConfig{Decoder: audio.NewWAVDecoder()},
		NewCapture: func() (CaptureEngine, error) {
			return nil, errors.New("no device")
		},
		CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer mgr.Stop()

	if _, err := mgr.CreateSession(); err == nil {
		t.Error("Expected CreateSession to surface the factory error")
	}
	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("Expected no session registered, got %d", mgr.GetActiveSessionCount())
	}
}
