// Package webrtc implements the media engine and per-peer connections for
// the voice overlay on pion. Each remote participant gets its own standard
// peer connection carrying one Opus audio track each way.
package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

type EngineConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Engine owns local audio capture and mints peer connections. One shared
// outgoing track feeds every peer; muting silences the track without touching
// any negotiated session.
type Engine struct {
	config EngineConfig
	api    *webrtc.API
	logger *zap.SugaredLogger

	mu         sync.RWMutex
	localTrack *webrtc.TrackLocalStaticSample
	active     bool
	muted      bool

	onStats func(remote domain.ClientID, stats domain.AudioStats)
}

func NewEngine(config EngineConfig, logger *zap.SugaredLogger) *Engine {
	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max)
	}

	return &Engine{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

// StartCapture creates the shared outgoing audio track. The caller feeds it
// with WriteAudio; until then peers negotiate a silent track.
func (e *Engine) StartCapture(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		return nil
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"codecollab-audio",
	)
	if err != nil {
		return fmt.Errorf("%w: create audio track: %v", domain.ErrMediaUnavailable, err)
	}

	e.localTrack = track
	e.active = true
	return nil
}

// StopCapture releases the outgoing track. Existing peers keep their
// connections; the track simply goes silent.
func (e *Engine) StopCapture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localTrack = nil
	e.active = false
}

func (e *Engine) CaptureActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// SetMuted toggles outgoing audio. Samples written while muted are dropped;
// no renegotiation happens.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = muted
}

// WriteAudio feeds one encoded sample into the shared outgoing track.
func (e *Engine) WriteAudio(sample media.Sample) error {
	e.mu.RLock()
	track := e.localTrack
	muted := e.muted
	e.mu.RUnlock()

	if track == nil {
		return domain.ErrMediaUnavailable
	}
	if muted {
		return nil
	}
	return track.WriteSample(sample)
}

// OnStats registers the sink for per-peer inbound audio statistics.
func (e *Engine) OnStats(fn func(remote domain.ClientID, stats domain.AudioStats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStats = fn
}

// NewPeer mints a peer connection toward one remote participant with the
// shared outgoing track already attached.
func (e *Engine) NewPeer(ctx context.Context, remote domain.ClientID) (ports.MediaPeer, error) {
	e.mu.RLock()
	track := e.localTrack
	onStats := e.onStats
	e.mu.RUnlock()

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   e.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if track != nil {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("attach audio track: %w", err)
		}
	}

	peer := &Peer{
		remote: remote,
		pc:     pc,
		logger: e.logger,
	}

	pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		e.logger.Infow("remote audio track started",
			"remote", remote,
			"codec", remoteTrack.Codec().MimeType,
		)
		pump := newStatsPump(remote, e.logger, onStats)
		go pump.readRTP(remoteTrack)
		go pump.readRTCP(receiver)
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		peer.emitCandidate(candidate.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.Infow("peer connection state changed",
			"remote", remote,
			"connection_state", state,
		)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			peer.emitConnected()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			// The voice manager notices through its connect timeout or a
			// presence departure; nothing to do here.
		}
	})

	return peer, nil
}

// Peer is one pion peer connection behind the MediaPeer port. Descriptions
// and candidates cross the wire as their standard JSON encodings.
type Peer struct {
	remote domain.ClientID
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu          sync.Mutex
	onCandidate []func(candidate json.RawMessage)
	onConnected []func()
	connected   bool
	pending     []webrtc.ICECandidateInit
}

var _ ports.MediaPeer = (*Peer)(nil)

func (p *Peer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(offer)
}

func (p *Peer) CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	p.flushPendingCandidates()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(answer)
}

func (p *Peer) AcceptAnswer(answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.flushPendingCandidates()
	return nil
}

// AddCandidate queues candidates that arrive before the remote description.
func (p *Peer) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}

	if p.pc.RemoteDescription() == nil {
		p.mu.Lock()
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	return p.pc.AddICECandidate(init)
}

func (p *Peer) flushPendingCandidates() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, init := range pending {
		if err := p.pc.AddICECandidate(init); err != nil {
			p.logger.Debugw("failed to add queued candidate", "remote", p.remote, "error", err)
		}
	}
}

func (p *Peer) OnCandidate(fn func(candidate json.RawMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = append(p.onCandidate, fn)
}

func (p *Peer) OnConnected(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnected = append(p.onConnected, fn)
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) emitCandidate(init webrtc.ICECandidateInit) {
	data, err := json.Marshal(init)
	if err != nil {
		return
	}
	p.mu.Lock()
	callbacks := make([]func(json.RawMessage), len(p.onCandidate))
	copy(callbacks, p.onCandidate)
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn(data)
	}
}

func (p *Peer) emitConnected() {
	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = true
	callbacks := make([]func(), len(p.onConnected))
	copy(callbacks, p.onConnected)
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// ICEServersFromConfig converts configured ICE servers into pion form.
func ICEServersFromConfig(servers []struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
