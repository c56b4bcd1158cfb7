package server

import (
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	sess := newSession(nil, 16, testLogger())
	t.Cleanup(sess.Close)
	return sess
}

func TestSessionManagerAddGetRemove(t *testing.T) {
	sm := NewSessionManager(testLogger())

	sess := newTestSession(t)
	sm.Add(sess)

	if sm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", sm.Count())
	}
	got, ok := sm.Get(sess.ID)
	if !ok || got != sess {
		t.Fatalf("Get(%s) = %v, %v", sess.ID, got, ok)
	}

	sm.Remove(sess)
	if sm.Count() != 0 {
		t.Errorf("Count() after Remove = %d, want 0", sm.Count())
	}
	if _, ok := sm.Get(sess.ID); ok {
		t.Error("Get should miss after Remove")
	}
}

func TestSessionManagerReserveNameConflict(t *testing.T) {
	sm := NewSessionManager(testLogger())
	a := newTestSession(t)
	b := newTestSession(t)

	if err := sm.ReserveName("Ann", a.ID); err != nil {
		t.Fatalf("first ReserveName: %v", err)
	}
	err := sm.ReserveName("ann", b.ID)
	if err == nil {
		t.Fatal("case-insensitive duplicate should be rejected")
	}
	want := "This username is already in use. Please choose another one."
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestSessionManagerReserveNameIdempotent(t *testing.T) {
	sm := NewSessionManager(testLogger())
	a := newTestSession(t)

	if err := sm.ReserveName("Ann", a.ID); err != nil {
		t.Fatalf("ReserveName: %v", err)
	}
	if err := sm.ReserveName("Ann", a.ID); err != nil {
		t.Fatalf("re-reserving own name should succeed, got %v", err)
	}
}

func TestSessionManagerReleaseNameOwnerOnly(t *testing.T) {
	sm := NewSessionManager(testLogger())
	a := newTestSession(t)
	b := newTestSession(t)

	if err := sm.ReserveName("Ann", a.ID); err != nil {
		t.Fatalf("ReserveName: %v", err)
	}

	sm.ReleaseName("Ann", b.ID)
	if !sm.NameInUse("ann") {
		t.Fatal("non-owner release should not free the name")
	}

	sm.ReleaseName("Ann", a.ID)
	if sm.NameInUse("Ann") {
		t.Error("owner release should free the name")
	}
}

func TestSessionManagerRemoveFreesName(t *testing.T) {
	sm := NewSessionManager(testLogger())
	a := newTestSession(t)
	sm.Add(a)

	if err := sm.ReserveName("Ann", a.ID); err != nil {
		t.Fatalf("ReserveName: %v", err)
	}
	a.bindIdentity("Ann", "blue")

	sm.Remove(a)
	if sm.NameInUse("Ann") {
		t.Error("Remove should free the session's display name")
	}
}

func TestSessionManagerStats(t *testing.T) {
	sm := NewSessionManager(testLogger())

	a := newTestSession(t)
	b := newTestSession(t)
	sm.Add(a)
	sm.Add(b)
	sm.Remove(a)

	stats := sm.Stats()
	if stats.Active != 1 {
		t.Errorf("Active = %d, want 1", stats.Active)
	}
	if stats.TotalCreated != 2 {
		t.Errorf("TotalCreated = %d, want 2", stats.TotalCreated)
	}
	if stats.TotalClosed != 1 {
		t.Errorf("TotalClosed = %d, want 1", stats.TotalClosed)
	}
	if stats.Peak != 2 {
		t.Errorf("Peak = %d, want 2", stats.Peak)
	}
}

func TestSessionManagerShutdownClosesSessions(t *testing.T) {
	sm := NewSessionManager(testLogger())
	a := newTestSession(t)
	sm.Add(a)

	sm.Shutdown()

	if !a.closed.Load() {
		t.Error("Shutdown should close registered sessions")
	}
}
