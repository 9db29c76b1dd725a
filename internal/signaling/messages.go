package signaling

import (
	"encoding/json"

	"github.com/wavejoin/signal-relay/internal/relay"
)

type joinRequest struct {
	SessionID       string `json:"sessionId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

type peer struct {
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
}

type peersResponse struct {
	Peers []peer `json:"peers"`
}

type signalRequest struct {
	SessionID string          `json:"sessionId"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type leaveRequest struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func peersFromSnapshot(snapshot []relay.PeerInfo) []peer {
	peers := make([]peer, 0, len(snapshot))
	for _, p := range snapshot {
		peers = append(peers, peer{ParticipantID: p.ID, ParticipantName: p.Name})
	}
	return peers
}
