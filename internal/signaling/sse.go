package signaling

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/wavejoin/signal-relay/internal/relay"
)

// handleEvents implements the SSE delivery stream. The participant must
// have joined first; otherwise the request fails with 404 before any
// stream state is created. Once open, every message relayed to this
// participant is written as one `data:` event carrying
// `{"from":..., "kind":..., "payload":...}`.
//
// Closing the connection is the leave signal: when the client goes away
// the participant is removed from its session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	participantID := r.URL.Query().Get("participantId")

	st, err := s.registry.Bind(sessionID, participantID)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		st.Close()
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.log.Debug("sse stream open", "session_id", sessionID, "participant_id", participantID)

	err = st.Run(r.Context(), &sseSink{w: w, flusher: flusher})
	s.log.Debug("sse stream closed",
		"session_id", sessionID,
		"participant_id", participantID,
		"err", err,
	)
}

type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Push(msg relay.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Keepalive writes an SSE comment, which clients ignore. It keeps idle
// connections alive through proxies and surfaces dead transports.
func (s *sseSink) Keepalive() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
