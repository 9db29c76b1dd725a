package metrics

import "sync"

// Event counter names. Names are intentionally simple; a follow-up metrics
// task can standardize and export these via OTel.
const (
	SessionCreated    = "session_created"
	SessionRemoved    = "session_removed"
	ParticipantJoined = "participant_joined"
	ParticipantLeft   = "participant_left"
	MessageRelayed    = "message_relayed"
	StreamOpened      = "stream_opened"
	StreamClosed      = "stream_closed"

	DropReasonQueueOverflow       = "queue_overflow"
	DropReasonPeerNotFound        = "peer_not_found"
	DropReasonRateLimited         = "rate_limited"
	DropReasonTooManySessions     = "too_many_sessions"
	DropReasonTooManyParticipants = "too_many_participants"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production relay is expected to plug into a real metrics backend; this
// type exists to keep the relay core testable while still exposing drop and
// lifecycle counters for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters at call time.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
