// Command loopback is an end-to-end probe for the relay: two local WebRTC
// peers meet in a session, exchange SDP and ICE through the relay's HTTP
// API, and echo one message over a data channel.
//
// By default it starts an in-process relay on an ephemeral port. Set
// RELAY_URL to aim it at an already-running deployment instead. Prints
// PASS and exits 0 on success.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/wavejoin/signal-relay/internal/metrics"
	"github.com/wavejoin/signal-relay/internal/relay"
	"github.com/wavejoin/signal-relay/internal/signaling"
)

const (
	kindOffer     = "offer"
	kindAnswer    = "answer"
	kindCandidate = "candidate"
)

type sdpPayload struct {
	SDP string `json:"sdp"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("PASS")
}

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	baseURL := os.Getenv("RELAY_URL")
	if baseURL == "" {
		var stop func()
		var err error
		baseURL, stop, err = startLocalRelay()
		if err != nil {
			return err
		}
		defer stop()
	}

	lf := logging.NewDefaultLoggerFactory()
	if os.Getenv("VERBOSE") == "" {
		lf.DefaultLogLevel = logging.LogLevelError
	}
	se := webrtc.SettingEngine{LoggerFactory: lf}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	sessionID := "loop-" + uuid.NewString()[:8]
	echoed := make(chan string, 1)

	answerer, err := newPeer(ctx, api, baseURL, sessionID, "answerer")
	if err != nil {
		return err
	}
	defer answerer.close()
	answerer.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = dc.SendText("echo:" + string(msg.Data))
		})
	})

	offerer, err := newPeer(ctx, api, baseURL, sessionID, "offerer")
	if err != nil {
		return err
	}
	defer offerer.close()

	// The joiner dials out to peers already present: the offerer arrived
	// second, so it initiates toward the answerer.
	if len(offerer.initialPeers) != 1 {
		return fmt.Errorf("offerer saw %d peers, want 1", len(offerer.initialPeers))
	}
	offerer.setRemote(offerer.initialPeers[0])
	answerer.setRemote(offerer.id)

	dc, err := offerer.pc.CreateDataChannel("loopback", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		_ = dc.SendText("ping")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case echoed <- string(msg.Data):
		default:
		}
	})

	offer, err := offerer.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := offerer.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := offerer.send(kindOffer, sdpPayload{SDP: offer.SDP}); err != nil {
		return err
	}

	select {
	case got := <-echoed:
		if got != "echo:ping" {
			return fmt.Errorf("echoed %q, want echo:ping", got)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for the data channel echo")
	}
}

// peer is one WebRTC endpoint plus its signaling plumbing: join, SSE
// delivery stream, and outbound sends through the relay.
type peer struct {
	api     *webrtc.API
	baseURL string
	session string
	id      string
	pc      *webrtc.PeerConnection
	cancel  context.CancelFunc

	initialPeers []string

	mu         sync.Mutex
	remoteID   string
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
}

func newPeer(ctx context.Context, api *webrtc.API, baseURL, sessionID, name string) (*peer, error) {
	p := &peer{
		api:     api,
		baseURL: baseURL,
		session: sessionID,
		id:      uuid.NewString(),
	}

	peers, err := p.join(name)
	if err != nil {
		return nil, err
	}
	p.initialPeers = peers

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		_ = p.send(kindCandidate, c.ToJSON())
	})

	streamCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	if err := p.openStream(streamCtx); err != nil {
		cancel()
		return nil, err
	}
	return p, nil
}

func (p *peer) setRemote(id string) {
	p.mu.Lock()
	p.remoteID = id
	p.mu.Unlock()
}

func (p *peer) close() {
	p.cancel()
	_ = p.pc.Close()
}

func (p *peer) join(name string) ([]string, error) {
	body, _ := json.Marshal(map[string]string{
		"sessionId":       p.session,
		"participantId":   p.id,
		"participantName": name,
	})
	resp, err := http.Post(p.baseURL+"/api/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("join: status %d", resp.StatusCode)
	}

	var joined struct {
		Peers []struct {
			ParticipantID string `json:"participantId"`
		} `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&joined); err != nil {
		return nil, fmt.Errorf("join: decode: %w", err)
	}
	ids := make([]string, 0, len(joined.Peers))
	for _, pr := range joined.Peers {
		ids = append(ids, pr.ParticipantID)
	}
	return ids, nil
}

func (p *peer) send(kind string, payload any) error {
	p.mu.Lock()
	to := p.remoteID
	p.mu.Unlock()
	if to == "" {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]any{
		"sessionId": p.session,
		"from":      p.id,
		"to":        to,
		"kind":      kind,
		"payload":   json.RawMessage(raw),
	})
	resp, err := http.Post(p.baseURL+"/api/signal", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("signal %s: %w", kind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signal %s: status %d", kind, resp.StatusCode)
	}
	return nil
}

func (p *peer) openStream(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/events?sessionId=%s&participantId=%s", p.baseURL, p.session, p.id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("open event stream: status %d", resp.StatusCode)
	}

	go func() {
		defer resp.Body.Close()
		rd := bufio.NewReader(resp.Body)
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var msg struct {
				From    string          `json:"from"`
				Kind    string          `json:"kind"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				fmt.Fprintf(os.Stderr, "bad event %q: %v\n", line, err)
				continue
			}
			if err := p.handleSignal(msg.From, msg.Kind, msg.Payload); err != nil {
				fmt.Fprintf(os.Stderr, "handle %s: %v\n", msg.Kind, err)
			}
		}
	}()
	return nil
}

func (p *peer) handleSignal(from, kind string, payload json.RawMessage) error {
	switch kind {
	case kindOffer:
		var sp sdpPayload
		if err := json.Unmarshal(payload, &sp); err != nil {
			return err
		}
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sp.SDP}); err != nil {
			return err
		}
		p.flushCandidates()
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return err
		}
		return p.send(kindAnswer, sdpPayload{SDP: answer.SDP})

	case kindAnswer:
		var sp sdpPayload
		if err := json.Unmarshal(payload, &sp); err != nil {
			return err
		}
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sp.SDP}); err != nil {
			return err
		}
		p.flushCandidates()
		return nil

	case kindCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &init); err != nil {
			return err
		}
		p.mu.Lock()
		if !p.remoteSet {
			// Candidates can outrun the SDP; hold them until the remote
			// description lands.
			p.candidates = append(p.candidates, init)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		return p.pc.AddICECandidate(init)

	default:
		return fmt.Errorf("unknown signal kind %q", kind)
	}
}

func (p *peer) flushCandidates() {
	p.mu.Lock()
	p.remoteSet = true
	pending := p.candidates
	p.candidates = nil
	p.mu.Unlock()

	for _, init := range pending {
		if err := p.pc.AddICECandidate(init); err != nil {
			fmt.Fprintf(os.Stderr, "add candidate: %v\n", err)
		}
	}
}

func startLocalRelay() (string, func(), error) {
	reg := relay.NewRegistry(relay.Config{}, metrics.New(), nil)
	sig := signaling.NewServer(signaling.Config{Registry: reg})

	mux := http.NewServeMux()
	sig.RegisterRoutes(mux)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	return "http://" + ln.Addr().String(), func() { _ = srv.Close() }, nil
}
