package relay

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/wavejoin/signal-relay/internal/metrics"
	"github.com/wavejoin/signal-relay/internal/ratelimit"
)

// PeerInfo is one row of a point-in-time session membership snapshot.
type PeerInfo struct {
	ID   string
	Name string
}

// Registry is the shared in-memory map from session code to participant
// set. It is the only process-wide mutable state in the relay; every
// request handler and delivery stream operates on it concurrently.
//
// A single registry mutex guards session/participant membership. Each
// participant's message queue carries its own lock, so a slow stream flush
// never blocks unrelated joins or sends.
type Registry struct {
	cfg     Config
	metrics *metrics.Metrics
	clock   ratelimit.Clock

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	participants map[string]*participant
	order        []string // join order, for stable snapshots
}

type participant struct {
	id      string
	name    string
	queue   *messageQueue
	limiter *ratelimit.TokenBucket // nil when sends are unlimited
	stream  *Stream                // currently bound delivery stream, if any
}

func NewRegistry(cfg Config, m *metrics.Metrics, clock ratelimit.Clock) *Registry {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Registry{
		cfg:      cfg.WithDefaults(),
		metrics:  m,
		clock:    clock,
		sessions: make(map[string]*session),
	}
}

func (r *Registry) Metrics() *metrics.Metrics { return r.metrics }

// Session codes are caller-supplied and case-insensitive.
func sessionKey(sessionID string) string { return strings.ToLower(sessionID) }

// Join adds a participant to the session, creating the session if needed,
// and returns a snapshot of the members present before the insert. The
// joining client is responsible for initiating a handshake toward each
// returned peer; existing members are not notified of the join.
//
// Rejoining with an identifier already present replaces the previous
// entry: its queue is closed (ending any stream bound to it) and a fresh
// empty queue is installed.
func (r *Registry) Join(sessionID, participantID, name string) ([]PeerInfo, error) {
	if err := requireField("sessionId", sessionID); err != nil {
		return nil, err
	}
	if err := requireField("participantId", participantID); err != nil {
		return nil, err
	}
	if err := requireField("participantName", name); err != nil {
		return nil, err
	}

	key := sessionKey(sessionID)

	r.mu.Lock()
	s, err := r.getOrCreateLocked(key)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	peers := s.snapshotLocked(participantID)

	prev, rejoin := s.participants[participantID]
	if !rejoin {
		if r.cfg.MaxParticipantsPerSession > 0 && len(s.participants) >= r.cfg.MaxParticipantsPerSession {
			r.mu.Unlock()
			r.metrics.Inc(metrics.DropReasonTooManyParticipants)
			return nil, ErrTooManyParticipants
		}
		s.order = append(s.order, participantID)
	}
	s.participants[participantID] = &participant{
		id:      participantID,
		name:    name,
		queue:   newMessageQueue(r.cfg.MaxQueuedMessagesPerParticipant),
		limiter: r.newSendLimiter(),
	}
	r.mu.Unlock()

	if rejoin {
		prev.queue.Close()
	}
	r.metrics.Inc(metrics.ParticipantJoined)
	return peers, nil
}

// Send enqueues an opaque message on the target participant's queue.
// It fails with ErrPeerNotFound when the target is not a session member;
// in that case no queue is touched.
func (r *Registry) Send(sessionID, from, to, kind string, payload json.RawMessage) error {
	if err := requireField("sessionId", sessionID); err != nil {
		return err
	}
	if err := requireField("from", from); err != nil {
		return err
	}
	if err := requireField("to", to); err != nil {
		return err
	}

	r.mu.Lock()
	s, ok := r.sessions[sessionKey(sessionID)]
	if !ok {
		r.mu.Unlock()
		r.metrics.Inc(metrics.DropReasonPeerNotFound)
		return ErrPeerNotFound
	}
	p, ok := s.participants[to]
	if !ok {
		r.mu.Unlock()
		r.metrics.Inc(metrics.DropReasonPeerNotFound)
		return ErrPeerNotFound
	}
	q := p.queue

	// The rate budget belongs to the sender, when it is a session member.
	// Senders outside the session are tolerated (the wire contract does not
	// require membership to send) and are simply not limited.
	var limiter *ratelimit.TokenBucket
	if sender, ok := s.participants[from]; ok {
		limiter = sender.limiter
	}
	r.mu.Unlock()

	if limiter != nil && !limiter.Allow(1) {
		r.metrics.Inc(metrics.DropReasonRateLimited)
		return ErrRateLimited
	}

	if q.Enqueue(Message{From: from, Kind: kind, Payload: payload}) {
		r.metrics.Inc(metrics.DropReasonQueueOverflow)
	}
	r.metrics.Inc(metrics.MessageRelayed)
	return nil
}

// Peers returns the current membership snapshot. An unknown session yields
// an empty snapshot, not an error.
func (r *Registry) Peers(sessionID string) []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionKey(sessionID)]
	if !ok {
		return []PeerInfo{}
	}
	return s.snapshotLocked("")
}

// Leave removes the participant and discards its queue. Removing an absent
// participant (or one that already left) is a no-op.
func (r *Registry) Leave(sessionID, participantID string) {
	key := sessionKey(sessionID)

	r.mu.Lock()
	s, ok := r.sessions[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	p, ok := s.participants[participantID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.removeLocked(key, s, participantID)
	r.mu.Unlock()

	p.queue.Close()
	r.metrics.Inc(metrics.ParticipantLeft)
}

// ActiveSessions reports the number of live (non-empty) sessions.
func (r *Registry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) newSendLimiter() *ratelimit.TokenBucket {
	rate := r.cfg.MaxMessagesPerSecondPerParticipant
	if rate <= 0 {
		return nil
	}
	return ratelimit.NewTokenBucket(r.clock, int64(rate), int64(rate))
}

func (r *Registry) getOrCreateLocked(key string) (*session, error) {
	s, ok := r.sessions[key]
	if ok {
		return s, nil
	}
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.metrics.Inc(metrics.DropReasonTooManySessions)
		return nil, ErrTooManySessions
	}
	s = &session{participants: make(map[string]*participant)}
	r.sessions[key] = s
	r.metrics.Inc(metrics.SessionCreated)
	return s, nil
}

func (r *Registry) removeLocked(key string, s *session, participantID string) {
	delete(s.participants, participantID)
	for i, id := range s.order {
		if id == participantID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	r.dropEmptySessionLocked(key, s)
}

// An empty session holds no invariant-bearing state; delete it eagerly
// rather than waiting for a sweep.
func (r *Registry) dropEmptySessionLocked(key string, s *session) {
	if len(s.participants) > 0 {
		return
	}
	delete(r.sessions, key)
	r.metrics.Inc(metrics.SessionRemoved)
}

// snapshotLocked lists current members in join order, excluding exceptID.
func (s *session) snapshotLocked(exceptID string) []PeerInfo {
	peers := make([]PeerInfo, 0, len(s.participants))
	for _, id := range s.order {
		if id == exceptID {
			continue
		}
		p, ok := s.participants[id]
		if !ok {
			continue
		}
		peers = append(peers, PeerInfo{ID: p.id, Name: p.name})
	}
	return peers
}
