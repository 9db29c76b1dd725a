package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wavejoin/signal-relay/internal/metrics"
)

// StreamState tracks the delivery stream lifecycle. Closed is terminal.
type StreamState int32

const (
	StreamConnecting StreamState = iota
	StreamOpen
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamConnecting:
		return "connecting"
	case StreamOpen:
		return "open"
	case StreamClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink is the transport half of a delivery stream, implemented by the HTTP
// boundary (SSE or WebSocket).
type Sink interface {
	// Push writes one framed event to the client.
	Push(Message) error
	// Keepalive writes a transport-level heartbeat on an idle connection.
	Keepalive() error
}

// Stream drains one participant's queue and pushes messages to its
// transport in FIFO order. A stream is created with Registry.Bind and
// driven by Run; when Run returns the participant has been removed from
// the registry (unless a newer bind superseded this stream).
type Stream struct {
	reg           *Registry
	sessionKey    string
	participantID string
	q             *messageQueue
	keepalive     time.Duration

	state atomic.Int32

	// replaced is closed when a newer stream binds to the same participant.
	// Binding twice is a caller error; behavior is last-writer-wins: the
	// older stream ends without deregistering the participant.
	replaced    chan struct{}
	replaceOnce sync.Once
	closeOnce   sync.Once
}

// Bind attaches a delivery stream to an existing participant. The client
// must have joined first; otherwise Bind fails with ErrPeerNotFound and no
// stream is created.
func (r *Registry) Bind(sessionID, participantID string) (*Stream, error) {
	key := sessionKey(sessionID)

	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		r.mu.Unlock()
		return nil, ErrPeerNotFound
	}
	p, ok := s.participants[participantID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrPeerNotFound
	}

	st := &Stream{
		reg:           r,
		sessionKey:    key,
		participantID: participantID,
		q:             p.queue,
		keepalive:     r.cfg.KeepaliveInterval,
		replaced:      make(chan struct{}),
	}
	prev := p.stream
	p.stream = st
	r.mu.Unlock()

	if prev != nil {
		prev.replace()
	}
	r.metrics.Inc(metrics.StreamOpened)
	return st, nil
}

func (st *Stream) State() StreamState {
	return StreamState(st.state.Load())
}

// Run pushes queued messages to sink until the transport context is
// cancelled, the participant leaves, or a newer stream supersedes this
// one. It always closes the stream on return; the returned error is the
// transport failure, if any, and carries no relay-level meaning.
func (st *Stream) Run(ctx context.Context, sink Sink) error {
	defer st.Close()
	st.state.Store(int32(StreamOpen))

	ticker := time.NewTicker(st.keepalive)
	defer ticker.Stop()

	// Deliver anything that was queued between join and stream attach.
	if done, err := st.flush(sink); done || err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-st.replaced:
			return nil
		case <-st.q.Wake():
			done, err := st.flush(sink)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case <-ticker.C:
			if err := sink.Keepalive(); err != nil {
				return err
			}
		}
	}
}

// flush drains the queue and pushes every message in order. done reports
// that the queue was closed (the participant left or rejoined).
func (st *Stream) flush(sink Sink) (done bool, err error) {
	msgs, closed := st.q.Drain()
	for i := range msgs {
		if err := sink.Push(msgs[i]); err != nil {
			return false, err
		}
	}
	return closed, nil
}

func (st *Stream) replace() {
	st.replaceOnce.Do(func() { close(st.replaced) })
}

// Close transitions the stream to Closed and removes the participant from
// the registry. Stream closure is the leave signal: a client that
// disconnects (navigated away, network drop) is deregistered here. Closing
// twice is a no-op, as is closing a stream that a newer bind superseded.
func (st *Stream) Close() {
	st.closeOnce.Do(func() {
		st.state.Store(int32(StreamClosed))
		st.reg.metrics.Inc(metrics.StreamClosed)

		select {
		case <-st.replaced:
			// The participant now belongs to the newer stream.
			return
		default:
		}
		st.reg.removeStreamParticipant(st)
	})
}

// removeStreamParticipant deregisters the stream's participant unless the
// registry entry has moved on (rejoin or newer bind).
func (r *Registry) removeStreamParticipant(st *Stream) {
	r.mu.Lock()
	s, ok := r.sessions[st.sessionKey]
	if !ok {
		r.mu.Unlock()
		return
	}
	p, ok := s.participants[st.participantID]
	if !ok || p.stream != st {
		r.mu.Unlock()
		return
	}
	r.removeLocked(st.sessionKey, s, st.participantID)
	r.mu.Unlock()

	p.queue.Close()
	r.metrics.Inc(metrics.ParticipantLeft)
}
