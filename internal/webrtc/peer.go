package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"

	"github.com/secureera/secureera/internal/config"
	"github.com/secureera/secureera/internal/signaling"
	"github.com/secureera/secureera/internal/transfer"
)

// DataChannelLabel names the single ordered channel a transfer runs on.
const DataChannelLabel = "fileTransfer"

var (
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrUnexpectedSignal = errors.New("unexpected signal")
)

// Signaler delivers handshake messages to the other peer, usually through
// a *signaling.Client.
type Signaler interface {
	Send(msg *signaling.Message) error
}

// Option configures a Peer.
type Option func(*peerOptions)

type peerOptions struct {
	loopback bool
	logger   *slog.Logger
}

// WithLoopback gathers loopback candidates, for peers on the same host.
func WithLoopback() Option {
	return func(o *peerOptions) { o.loopback = true }
}

// WithLogger sets the peer's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *peerOptions) { o.logger = logger }
}

// Peer is one side of a peer connection negotiated through the relay.
type Peer struct {
	pc       *pion.PeerConnection
	signaler Signaler
	roomID   string
	logger   *slog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []pion.ICECandidateInit
	transport *DataChannelTransport

	channels chan *pion.DataChannel

	failed   chan struct{}
	failOnce sync.Once
}

// ICEServers builds the ICE server list from cfg.
func ICEServers(cfg *config.Config) []pion.ICEServer {
	var servers []pion.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		servers = append(servers, pion.ICEServer{URLs: stun})
	}
	if turn := cfg.GetTURNServers(); turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// NewPeer creates the peer connection and starts trickling local candidates
// to the room.
func NewPeer(cfg *config.Config, signaler Signaler, roomID string, opts ...Option) (*Peer, error) {
	o := peerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	policy := pion.ICETransportPolicyAll
	if cfg.ForceRelay && cfg.GetTURNServers() != nil {
		policy = pion.ICETransportPolicyRelay
	}

	settingEngine := pion.SettingEngine{}
	if o.loopback {
		settingEngine.SetIncludeLoopbackCandidate(true)
		settingEngine.SetNetworkTypes([]pion.NetworkType{pion.NetworkTypeUDP4})
	}
	api := pion.NewAPI(pion.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:         ICEServers(cfg),
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, transfer.NewError("create peer connection", err)
	}

	p := &Peer{
		pc:       pc,
		signaler: signaler,
		roomID:   roomID,
		logger:   o.logger.With("room", roomID),
		channels: make(chan *pion.DataChannel, 1),
		failed:   make(chan struct{}),
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			p.logger.Warn("failed to encode candidate", "error", err)
			return
		}
		if err := signaler.Send(&signaling.Message{
			Type:      signaling.TypeICECandidate,
			RoomID:    roomID,
			Candidate: raw,
		}); err != nil {
			p.logger.Debug("failed to send candidate", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Debug("peer connection state", "state", state.String())
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateClosed {
			p.fail(fmt.Errorf("%w: %s", ErrConnectionFailed, state))
		}
	})

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() != DataChannelLabel {
			p.logger.Warn("ignoring data channel", "label", dc.Label())
			return
		}
		select {
		case p.channels <- dc:
		default:
		}
	})

	return p, nil
}

// Offer opens the data channel, sends an offer and returns once the channel
// is open. signals must carry the answer and remote candidates; they keep
// being applied in the background until ctx ends.
func (p *Peer) Offer(ctx context.Context, signals <-chan *signaling.Message) (*DataChannelTransport, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(DataChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, transfer.NewError("create data channel", err)
	}
	t := p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, transfer.NewError("create offer", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, transfer.NewError("set local description", err)
	}
	if err := p.sendDescription(signaling.TypeOffer, p.pc.LocalDescription()); err != nil {
		return nil, err
	}

	go p.HandleSignals(ctx, signals)
	return t, p.waitOpen(ctx, t)
}

// Answer waits for the remote offer and data channel and returns once the
// channel is open.
func (p *Peer) Answer(ctx context.Context, signals <-chan *signaling.Message) (*DataChannelTransport, error) {
	go p.HandleSignals(ctx, signals)

	var dc *pion.DataChannel
	select {
	case dc = <-p.channels:
	case <-p.failed:
		return nil, ErrConnectionFailed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t := p.attach(dc)
	return t, p.waitOpen(ctx, t)
}

func (p *Peer) attach(dc *pion.DataChannel) *DataChannelTransport {
	t := NewDataChannelTransport(dc, transfer.LowWaterMark)
	p.mu.Lock()
	p.transport = t
	p.mu.Unlock()

	select {
	case <-p.failed:
		t.Fail(ErrConnectionFailed)
	default:
	}
	return t
}

func (p *Peer) waitOpen(ctx context.Context, t *DataChannelTransport) error {
	if err := t.WaitOpen(ctx); err != nil {
		return transfer.NewError("open data channel", err)
	}
	p.logger.Debug("data channel open", "label", t.Label())
	return nil
}

// HandleSignals applies handshake messages until signals closes or ctx
// ends. Errors are logged; a failed offer or answer fails the peer.
func (p *Peer) HandleSignals(ctx context.Context, signals <-chan *signaling.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-signals:
			if !ok {
				return
			}
			if err := p.HandleSignal(msg); err != nil {
				p.logger.Warn("failed to apply signal", "type", msg.Type, "error", err)
				if msg.Type != signaling.TypeICECandidate {
					p.fail(err)
				}
			}
		}
	}
}

// HandleSignal applies one offer, answer or ICE candidate.
func (p *Peer) HandleSignal(msg *signaling.Message) error {
	switch msg.Type {
	case signaling.TypeOffer:
		desc, err := parseDescription(msg.Offer, pion.SDPTypeOffer)
		if err != nil {
			return err
		}
		if err := p.setRemote(desc); err != nil {
			return err
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return transfer.NewError("create answer", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return transfer.NewError("set local description", err)
		}
		return p.sendDescription(signaling.TypeAnswer, p.pc.LocalDescription())

	case signaling.TypeAnswer:
		desc, err := parseDescription(msg.Answer, pion.SDPTypeAnswer)
		if err != nil {
			return err
		}
		return p.setRemote(desc)

	case signaling.TypeICECandidate:
		var cand pion.ICECandidateInit
		if err := json.Unmarshal(msg.Candidate, &cand); err != nil {
			return transfer.WrapError("parse ICE candidate", ErrUnexpectedSignal, err.Error())
		}
		p.mu.Lock()
		if !p.remoteSet {
			p.pending = append(p.pending, cand)
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		if err := p.pc.AddICECandidate(cand); err != nil {
			return transfer.NewError("add ICE candidate", err)
		}
		return nil

	default:
		return transfer.WrapError("handle signal", ErrUnexpectedSignal, string(msg.Type))
	}
}

// setRemote applies desc and flushes candidates that arrived before it.
func (p *Peer) setRemote(desc pion.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return transfer.NewError("set remote description", err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, cand := range pending {
		if err := p.pc.AddICECandidate(cand); err != nil {
			p.logger.Warn("failed to add queued candidate", "error", err)
		}
	}
	return nil
}

func (p *Peer) sendDescription(t signaling.Type, desc *pion.SessionDescription) error {
	raw, err := json.Marshal(desc)
	if err != nil {
		return transfer.NewError("encode session description", err)
	}
	msg := &signaling.Message{Type: t, RoomID: p.roomID}
	if t == signaling.TypeOffer {
		msg.Offer = raw
	} else {
		msg.Answer = raw
	}
	if err := p.signaler.Send(msg); err != nil {
		return transfer.NewError("send "+string(t), err)
	}
	return nil
}

func parseDescription(raw json.RawMessage, want pion.SDPType) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, transfer.WrapError("parse session description", ErrUnexpectedSignal, err.Error())
	}
	if desc.Type != want || desc.SDP == "" {
		return desc, transfer.WrapError("parse session description", ErrUnexpectedSignal, fmt.Sprintf("got %s, want %s", desc.Type, want))
	}
	return desc, nil
}

// Failed is closed once the peer connection fails or closes.
func (p *Peer) Failed() <-chan struct{} {
	return p.failed
}

func (p *Peer) fail(err error) {
	p.failOnce.Do(func() {
		p.logger.Debug("peer failed", "error", err)
		close(p.failed)

		p.mu.Lock()
		t := p.transport
		p.mu.Unlock()
		if t != nil {
			t.Fail(err)
		}
	})
}

// Close tears down the data channel and the peer connection.
func (p *Peer) Close() error {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t != nil {
		t.Close()
	}
	return p.pc.Close()
}
