package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wavejoin/signal-relay/internal/relay"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *relay.Registry

	Logger *slog.Logger

	// MaxPayloadBytes caps request bodies on the JSON endpoints.
	MaxPayloadBytes int64

	// WSIdleTimeout bounds how long a WebSocket delivery stream may go
	// without any inbound control traffic (pongs included).
	WSIdleTimeout time.Duration
}

// Server implements the relay's HTTP signaling surface.
//
// Endpoints:
//   - POST /api/join   : join a session, returns the pre-join peer snapshot
//   - POST /api/signal : relay one opaque message to a session member
//   - POST /api/leave  : leave explicitly (stream disconnect also leaves)
//   - GET  /api/peers  : current membership snapshot
//   - GET  /api/events : SSE delivery stream, one event per relayed message
//   - GET  /api/ws     : WebSocket delivery stream with the same framing
type Server struct {
	registry *relay.Registry
	log      *slog.Logger

	maxPayloadBytes int64
	wsIdleTimeout   time.Duration
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		registry:        cfg.Registry,
		log:             logger,
		maxPayloadBytes: cfg.MaxPayloadBytes,
		wsIdleTimeout:   cfg.WSIdleTimeout,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/join", s.handleJoin)
	mux.HandleFunc("POST /api/signal", s.handleSignal)
	mux.HandleFunc("POST /api/leave", s.handleLeave)
	mux.HandleFunc("GET /api/peers", s.handlePeers)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Handler returns a standalone handler, mostly for tests. The production
// binary registers routes on httpserver.Server's mux instead.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) maxBytes() int64 {
	if s.maxPayloadBytes <= 0 {
		return 64 * 1024
	}
	return s.maxPayloadBytes
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBytes())).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	snapshot, err := s.registry.Join(req.SessionID, req.ParticipantID, req.ParticipantName)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}

	s.log.Debug("participant joined",
		"session_id", req.SessionID,
		"participant_id", req.ParticipantID,
		"peers", len(snapshot),
	)
	writeJSON(w, http.StatusOK, peersResponse{Peers: peersFromSnapshot(snapshot)})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBytes())).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := s.registry.Send(req.SessionID, req.From, req.To, req.Kind, req.Payload); err != nil {
		s.writeRelayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req leaveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBytes())).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		s.writeRelayError(w, &relay.ValidationError{Field: "sessionId"})
		return
	}
	if req.ParticipantID == "" {
		s.writeRelayError(w, &relay.ValidationError{Field: "participantId"})
		return
	}

	// Leave is idempotent: leaving twice, or after a stream disconnect
	// already removed the participant, succeeds.
	s.registry.Leave(req.SessionID, req.ParticipantID)
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	snapshot := s.registry.Peers(sessionID)
	writeJSON(w, http.StatusOK, peersResponse{Peers: peersFromSnapshot(snapshot)})
}

func (s *Server) writeRelayError(w http.ResponseWriter, err error) {
	var vErr *relay.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSONError(w, http.StatusBadRequest, "missing_field", vErr.Error())
	case errors.Is(err, relay.ErrPeerNotFound):
		writeJSONError(w, http.StatusNotFound, "peer_not_found", "peer not found")
	case errors.Is(err, relay.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	case errors.Is(err, relay.ErrTooManySessions):
		writeJSONError(w, http.StatusServiceUnavailable, "too_many_sessions", "too many sessions")
	case errors.Is(err, relay.ErrTooManyParticipants):
		writeJSONError(w, http.StatusServiceUnavailable, "too_many_participants", "session is full")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
