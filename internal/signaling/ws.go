package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wavejoin/signal-relay/internal/relay"
)

const (
	wsWriteWait = 1 * time.Second

	// Inbound frames are discarded, so a small read limit is plenty for
	// control traffic.
	wsReadLimit = 512
)

var wsUpgrader = websocket.Upgrader{
	// Origin checks are enforced by the outer httpserver origin middleware.
	// For unit tests that hit this handler directly, accept all origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket implements the WebSocket delivery stream, an alternative
// to /api/events with identical event framing: each relayed message is one
// text frame carrying `{"from":..., "kind":..., "payload":...}`.
//
// The stream is one-way. Inbound data frames are discarded; reading is
// still required to process control frames and observe disconnects, which
// carry the same leave-on-close semantics as the SSE stream.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	participantID := r.URL.Query().Get("participantId")

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}

	st, err := s.registry.Bind(sessionID, participantID)
	if err != nil {
		_ = sink.writeError("peer_not_found", "join before opening a stream")
		sink.closeWith(websocket.ClosePolicyViolation, "peer not found")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	idle := s.wsIdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
	}()

	s.log.Debug("ws stream open", "session_id", sessionID, "participant_id", participantID)

	err = st.Run(ctx, sink)
	s.log.Debug("ws stream closed",
		"session_id", sessionID,
		"participant_id", participantID,
		"err", err,
	)
	sink.closeWith(websocket.CloseNormalClosure, "")
}

type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Push(msg relay.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Keepalive sends a ping control frame; the pong handler on the read side
// extends the idle deadline.
func (s *wsSink) Keepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (s *wsSink) writeError(code, message string) error {
	data, err := json.Marshal(errorResponse{Code: code, Message: message})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) closeWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
