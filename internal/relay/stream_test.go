package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/wavejoin/signal-relay/internal/metrics"
)

type chanSink struct {
	msgs       chan Message
	keepalives chan struct{}
	pushErr    error
}

func newChanSink() *chanSink {
	return &chanSink{
		msgs:       make(chan Message, 16),
		keepalives: make(chan struct{}, 16),
	}
}

func (s *chanSink) Push(msg Message) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	s.msgs <- msg
	return nil
}

func (s *chanSink) Keepalive() error {
	select {
	case s.keepalives <- struct{}{}:
	default:
	}
	return nil
}

func recvMsg(t *testing.T, s *chanSink) Message {
	t.Helper()
	select {
	case m := <-s.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivered message")
		return Message{}
	}
}

func recvErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func runStream(ctx context.Context, st *Stream, sink Sink) <-chan error {
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx, sink) }()
	return done
}

func TestBindRequiresJoin(t *testing.T) {
	r := newTestRegistry(t, Config{})

	if _, err := r.Bind("ABC123", "u1"); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("Bind without join: err = %v, want ErrPeerNotFound", err)
	}

	mustJoin(t, r, "ABC123", "u1", "Alice")
	if _, err := r.Bind("ABC123", "u2"); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("Bind for a non-member: err = %v, want ErrPeerNotFound", err)
	}
}

func TestStreamDeliversBacklogThenLive(t *testing.T) {
	r := newTestRegistry(t, Config{})
	mustJoin(t, r, "ABC123", "u1", "Alice")
	mustJoin(t, r, "ABC123", "u2", "Bob")

	// Queued between join and stream attach.
	if err := r.Send("ABC123", "u1", "u2", "offer", json.RawMessage(`{"sdp":"v=0"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	st, err := r.Bind("abc123", "u2")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := newChanSink()
	done := runStream(ctx, st, sink)

	if m := recvMsg(t, sink); m.From != "u1" || m.Kind != "offer" {
		t.Fatalf("backlog delivery = {%s %s}, want {u1 offer}", m.From, m.Kind)
	}

	if err := r.Send("ABC123", "u1", "u2", "candidate", nil); err != nil {
		t.Fatalf("Send while streaming: %v", err)
	}
	if m := recvMsg(t, sink); m.Kind != "candidate" {
		t.Fatalf("live delivery kind = %q, want candidate", m.Kind)
	}

	cancel()
	if err := recvErr(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if got := st.State(); got != StreamClosed {
		t.Fatalf("stream state after Run = %v, want closed", got)
	}
}

func TestStreamDisconnectRemovesParticipant(t *testing.T) {
	r := newTestRegistry(t, Config{})
	mustJoin(t, r, "ABC123", "u1", "Alice")
	mustJoin(t, r, "ABC123", "u2", "Bob")

	st, err := r.Bind("ABC123", "u2")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := runStream(ctx, st, newChanSink())

	// Transport drop: the participant leaves implicitly.
	cancel()
	recvErr(t, done)

	peers := r.Peers("ABC123")
	if len(peers) != 1 || peers[0].ID != "u1" {
		t.Fatalf("Peers after disconnect = %v, want [u1]", peers)
	}
	if err := r.Send("ABC123", "u1", "u2", "offer", nil); !errors.Is(err, ErrPeerNotFound) {
		t.Fatalf("Send after disconnect: err = %v, want ErrPeerNotFound", err)
	}
}

func TestStreamEndsWhenParticipantLeaves(t *testing.T) {
	r := newTestRegistry(t, Config{})
	mustJoin(t, r, "ABC123", "u1", "Alice")

	st, err := r.Bind("ABC123", "u1")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	done := runStream(context.Background(), st, newChanSink())

	r.Leave("ABC123", "u1")

	if err := recvErr(t, done); err != nil {
		t.Fatalf("Run after Leave returned %v, want nil", err)
	}
	if got := r.ActiveSessions(); got != 0 {
		t.Fatalf("ActiveSessions = %d, want 0", got)
	}
}

func TestStreamRebindIsLastWriterWins(t *testing.T) {
	r := newTestRegistry(t, Config{})
	mustJoin(t, r, "ABC123", "u1", "Alice")
	mustJoin(t, r, "ABC123", "u2", "Bob")

	st1, err := r.Bind("ABC123", "u2")
	if err != nil {
		t.Fatalf("first Bind: %v", err)
	}
	done1 := runStream(context.Background(), st1, newChanSink())

	st2, err := r.Bind("ABC123", "u2")
	if err != nil {
		t.Fatalf("second Bind: %v", err)
	}

	// The superseded stream ends cleanly without deregistering u2.
	if err := recvErr(t, done1); err != nil {
		t.Fatalf("superseded Run returned %v, want nil", err)
	}
	peers := r.Peers("ABC123")
	if len(peers) != 2 {
		t.Fatalf("Peers after rebind = %v, want both members", peers)
	}

	sink2 := newChanSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done2 := runStream(ctx, st2, sink2)

	if err := r.Send("ABC123", "u1", "u2", "answer", nil); err != nil {
		t.Fatalf("Send after rebind: %v", err)
	}
	if m := recvMsg(t, sink2); m.Kind != "answer" {
		t.Fatalf("delivery after rebind kind = %q, want answer", m.Kind)
	}

	cancel()
	recvErr(t, done2)
}

func TestStreamPushFailureDeregisters(t *testing.T) {
	r := newTestRegistry(t, Config{})
	mustJoin(t, r, "ABC123", "u1", "Alice")
	mustJoin(t, r, "ABC123", "u2", "Bob")

	if err := r.Send("ABC123", "u1", "u2", "offer", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	st, err := r.Bind("ABC123", "u2")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	sink := newChanSink()
	sink.pushErr = errors.New("broken pipe")
	done := runStream(context.Background(), st, sink)

	if err := recvErr(t, done); err == nil {
		t.Fatal("Run returned nil, want the transport error")
	}
	if peers := r.Peers("ABC123"); len(peers) != 1 || peers[0].ID != "u1" {
		t.Fatalf("Peers after push failure = %v, want [u1]", peers)
	}
}

func TestStreamKeepalive(t *testing.T) {
	r := NewRegistry(Config{KeepaliveInterval: 10 * time.Millisecond}, metrics.New(), newFakeClock())
	mustJoin(t, r, "ABC123", "u1", "Alice")

	st, err := r.Bind("ABC123", "u1")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := newChanSink()
	done := runStream(ctx, st, sink)

	select {
	case <-sink.keepalives:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive on an idle stream")
	}

	cancel()
	recvErr(t, done)
}
