package session_test

import (
	"errors"
	"sync"
	"testing"

	"relaycore/internal/observability/metrics"
	"relaycore/internal/session"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("session-test")
	m.Run()
}

type sentEvent struct {
	Event   string
	Payload any
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentEvent
	closed bool
	fail   bool
}

func (f *fakeSender) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, sentEvent{Event: event, Payload: payload})
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

func newDirectory() *session.Directory {
	return session.NewDirectory(session.NewPendingQueue(16))
}

func TestRegisterSupersedesStaleSession(t *testing.T) {
	dir := newDirectory()

	first := &fakeSender{}
	second := &fakeSender{}

	dir.Register("alice", "d1", first)
	dir.MarkReady("alice", "d1")
	dir.Register("alice", "d1", second)
	dir.MarkReady("alice", "d1")

	if !first.closed {
		t.Fatalf("superseded sender was not closed")
	}

	if !dir.RouteIfReady("alice", "d1", "ping", nil) {
		t.Fatalf("route to replacement session failed")
	}
	if len(second.events()) != 1 {
		t.Fatalf("expected the replacement sender to receive the event")
	}
	if len(first.events()) != 0 {
		t.Fatalf("stale sender received an event after takeover")
	}
}

func TestStaleUnregisterKeepsReplacement(t *testing.T) {
	dir := newDirectory()

	first := &fakeSender{}
	second := &fakeSender{}

	dir.Register("alice", "d1", first)
	dir.Register("alice", "d1", second)
	dir.Unregister("alice", "d1", first)
	dir.MarkReady("alice", "d1")

	if !dir.RouteIfReady("alice", "d1", "ping", nil) {
		t.Fatalf("replacement session was evicted by a stale unregister")
	}
}

func TestNotReadyEventsAreBufferedAndFlushedInOrder(t *testing.T) {
	dir := newDirectory()
	sender := &fakeSender{}

	dir.Register("bob", "d1", sender)

	if dir.RouteIfReady("bob", "d1", "first", 1) {
		t.Fatalf("route reported delivered for a not-ready session")
	}
	if dir.RouteIfReady("bob", "d1", "second", 2) {
		t.Fatalf("route reported delivered for a not-ready session")
	}
	if len(sender.events()) != 0 {
		t.Fatalf("events reached the sender before readiness")
	}

	dir.MarkReady("bob", "d1")

	got := sender.events()
	if len(got) != 2 {
		t.Fatalf("expected 2 flushed events, got %d", len(got))
	}
	if got[0].Event != "first" || got[1].Event != "second" {
		t.Fatalf("flush order broken: %+v", got)
	}
}

func TestRouteToAbsentSessionReturnsFalse(t *testing.T) {
	dir := newDirectory()
	if dir.RouteIfReady("nobody", "d1", "ping", nil) {
		t.Fatalf("route to absent session reported delivered")
	}
}

func TestBroadcastToUserCountsOnlyReadySessions(t *testing.T) {
	dir := newDirectory()

	ready := &fakeSender{}
	notReady := &fakeSender{}
	other := &fakeSender{}

	dir.Register("carol", "d1", ready)
	dir.MarkReady("carol", "d1")
	dir.Register("carol", "d2", notReady)
	dir.Register("dave", "d1", other)
	dir.MarkReady("dave", "d1")

	delivered := dir.BroadcastToUser("carol", "note", "hi")
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(notReady.events()) != 0 {
		t.Fatalf("not-ready session received a broadcast")
	}
	if len(other.events()) != 0 {
		t.Fatalf("broadcast leaked to another user")
	}
}

func TestSplitKeyRoundTrip(t *testing.T) {
	user, device := session.SplitKey(session.Key("erin", "d9"))
	if user != "erin" || device != "d9" {
		t.Fatalf("split got (%q, %q)", user, device)
	}
}
