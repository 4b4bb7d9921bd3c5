package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

type voicePeer struct {
	link  domain.PeerLink
	media ports.MediaPeer
	timer *time.Timer
}

// signalKey identifies one processed envelope. Kind is part of the key so an
// offer and a candidate stamped in the same millisecond are distinct.
type signalKey struct {
	sender    domain.ClientID
	timestamp int64
	kind      domain.SignalKind
}

// VoiceService manages the full-mesh voice overlay. Each remote participant
// maps to at most one direct media connection; the lexicographically greater
// client id initiates, so exactly one side of every pair sends the offer.
type VoiceService struct {
	relay          ports.RelayClient
	presence       *PresenceService
	engine         ports.MediaEngine
	connectTimeout time.Duration
	logger         *zap.SugaredLogger

	mu        sync.Mutex
	joined    bool
	muted     bool
	peers     map[domain.ClientID]*voicePeer
	seen      map[signalKey]struct{} // envelopes already consumed on either path
	lastStamp int64                  // keeps own envelope timestamps strictly increasing
	onChange  []func(link domain.PeerLink)

	ctx    context.Context
	cancel context.CancelFunc
}

func NewVoiceService(relay ports.RelayClient, presence *PresenceService, engine ports.MediaEngine, connectTimeout time.Duration, logger *zap.SugaredLogger) *VoiceService {
	v := &VoiceService{
		relay:          relay,
		presence:       presence,
		engine:         engine,
		connectTimeout: connectTimeout,
		logger:         logger,
		peers:          make(map[domain.ClientID]*voicePeer),
		seen:           make(map[signalKey]struct{}),
	}
	relay.OnSignal(v.handleSignal)
	presence.OnChange(v.handlePresenceChange)
	return v
}

// Join acquires local capture and starts discovering peers from the current
// presence table. A capture failure leaves the session voice-off; the editor
// is unaffected.
func (v *VoiceService) Join(ctx context.Context) error {
	v.mu.Lock()
	if v.joined {
		v.mu.Unlock()
		return nil
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.mu.Unlock()

	if err := v.engine.StartCapture(ctx); err != nil {
		v.mu.Lock()
		v.cancel()
		v.ctx, v.cancel = nil, nil
		v.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrMediaUnavailable, err)
	}

	v.mu.Lock()
	v.joined = true
	v.mu.Unlock()

	v.handlePresenceChange(v.presence.Snapshot())
	return nil
}

// Leave tears down every peer connection, releases capture and clears the
// replicated signal field so departed clients leave no stale envelope behind.
func (v *VoiceService) Leave() {
	v.mu.Lock()
	if !v.joined {
		v.mu.Unlock()
		return
	}
	v.joined = false
	peers := v.peers
	v.peers = make(map[domain.ClientID]*voicePeer)
	v.seen = make(map[signalKey]struct{})
	if v.cancel != nil {
		v.cancel()
		v.ctx, v.cancel = nil, nil
	}
	v.mu.Unlock()

	for _, p := range peers {
		if p.timer != nil {
			p.timer.Stop()
		}
		if err := p.media.Close(); err != nil {
			v.logger.Debugw("peer close failed", "remote", p.link.Remote, "error", err)
		}
		p.link.State = domain.PeerClosed
		v.emitChange(p.link)
	}

	v.engine.StopCapture()
	if err := v.presence.SetSignal(nil); err != nil {
		v.logger.Debugw("failed to clear signal field", "error", err)
	}
}

// SetMuted toggles the outgoing track without renegotiating any connection,
// then replicates the indicator.
func (v *VoiceService) SetMuted(muted bool) error {
	v.mu.Lock()
	v.muted = muted
	v.mu.Unlock()

	v.engine.SetMuted(muted)
	return v.presence.SetMuted(muted)
}

// Peers returns a snapshot of all tracked links.
func (v *VoiceService) Peers() []domain.PeerLink {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.PeerLink, 0, len(v.peers))
	for _, p := range v.peers {
		out = append(out, p.link)
	}
	return out
}

// OnPeerChange registers a callback fired on every link state transition.
func (v *VoiceService) OnPeerChange(fn func(link domain.PeerLink)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChange = append(v.onChange, fn)
}

func (v *VoiceService) emitChange(link domain.PeerLink) {
	v.mu.Lock()
	callbacks := make([]func(domain.PeerLink), len(v.onChange))
	copy(callbacks, v.onChange)
	v.mu.Unlock()
	for _, fn := range callbacks {
		fn(link)
	}
}

// handlePresenceChange runs discovery on every replicated presence change:
// initiate toward new peers we win the tie-break against, drop peers that
// left, and pick up piggybacked envelopes for clients that only watch
// presence.
func (v *VoiceService) handlePresenceChange(entries map[domain.ClientID]domain.PresenceEntry) {
	self := v.relay.ClientID()

	// Envelopes ride presence for compatibility; the dedicated channel is the
	// primary path and the dedup key makes the duplicate harmless.
	for _, entry := range entries {
		if entry.Signal != nil && entry.Signal.Target == self {
			v.handleSignal(*entry.Signal)
		}
	}

	v.mu.Lock()
	if !v.joined {
		v.mu.Unlock()
		return
	}

	var toInitiate []domain.ClientID
	for id := range entries {
		p, ok := v.peers[id]
		if ok && p.link.State != domain.PeerClosed {
			continue
		}
		if domain.ShouldInitiate(self, id) {
			toInitiate = append(toInitiate, id)
		}
	}

	var toClose []*voicePeer
	for id, p := range v.peers {
		if _, present := entries[id]; !present {
			toClose = append(toClose, p)
			delete(v.peers, id)
			for k := range v.seen {
				if k.sender == id {
					delete(v.seen, k)
				}
			}
		}
	}
	v.mu.Unlock()

	for _, p := range toClose {
		if p.timer != nil {
			p.timer.Stop()
		}
		_ = p.media.Close()
		p.link.State = domain.PeerClosed
		v.emitChange(p.link)
	}
	for _, id := range toInitiate {
		v.initiate(id)
	}
}

func (v *VoiceService) initiate(remote domain.ClientID) {
	v.mu.Lock()
	if !v.joined {
		v.mu.Unlock()
		return
	}
	ctx := v.ctx
	v.mu.Unlock()

	media, err := v.engine.NewPeer(ctx, remote)
	if err != nil {
		v.logger.Errorw("failed to create peer connection", "remote", remote, "error", err)
		return
	}

	p := &voicePeer{
		link: domain.PeerLink{
			Remote:    remote,
			State:     domain.PeerConnecting,
			Initiator: true,
			OpenedAt:  time.Now(),
		},
		media: media,
	}
	v.trackPeer(p)

	media.OnCandidate(func(candidate json.RawMessage) {
		v.sendSignal(remote, domain.SignalCandidate, candidate)
	})
	media.OnConnected(func() {
		v.markConnected(remote)
	})

	offer, err := media.CreateOffer(ctx)
	if err != nil {
		v.logger.Errorw("failed to create offer", "remote", remote, "error", err)
		v.closePeer(remote)
		return
	}
	v.sendSignal(remote, domain.SignalOffer, offer)
	v.emitChange(p.link)
}

// handleSignal processes one envelope from either delivery path. Duplicate
// deliveries of the same envelope share a (sender, timestamp, kind) dedup key;
// distinct envelopes in the same millisecond all get through.
func (v *VoiceService) handleSignal(env domain.SignalEnvelope) {
	if err := env.Validate(); err != nil {
		v.logger.Debugw("dropping malformed signal", "error", err)
		return
	}
	self := v.relay.ClientID()
	if env.Target != self {
		return
	}

	v.mu.Lock()
	if !v.joined {
		v.mu.Unlock()
		return
	}
	key := signalKey{sender: env.Sender, timestamp: env.Timestamp, kind: env.Kind}
	if _, dup := v.seen[key]; dup {
		v.mu.Unlock()
		return
	}
	v.seen[key] = struct{}{}
	ctx := v.ctx
	p := v.peers[env.Sender]
	v.mu.Unlock()

	switch env.Kind {
	case domain.SignalOffer:
		if domain.ShouldInitiate(self, env.Sender) {
			// Both sides offered; the tie-break loser's offer is discarded.
			v.logger.Debugw("ignoring offer from tie-break loser", "sender", env.Sender)
			return
		}
		if p != nil && p.link.State != domain.PeerClosed {
			v.logger.Debugw("ignoring duplicate offer", "sender", env.Sender)
			return
		}
		v.accept(ctx, env.Sender, env.Payload)

	case domain.SignalAnswer:
		if p == nil || !p.link.Initiator {
			v.logger.Debugw("dropping answer without matching offer", "sender", env.Sender)
			return
		}
		if err := p.media.AcceptAnswer(env.Payload); err != nil {
			v.logger.Errorw("failed to accept answer", "sender", env.Sender, "error", err)
			v.closePeer(env.Sender)
		}

	case domain.SignalCandidate:
		if p == nil || p.link.State == domain.PeerClosed {
			// Candidate arrived before the offer or after teardown.
			v.logger.Debugw("dropping candidate for unknown peer", "sender", env.Sender)
			return
		}
		if err := p.media.AddCandidate(env.Payload); err != nil {
			v.logger.Debugw("failed to add candidate", "sender", env.Sender, "error", err)
		}
	}
}

// accept answers an incoming offer as the non-initiating side.
func (v *VoiceService) accept(ctx context.Context, remote domain.ClientID, offer []byte) {
	media, err := v.engine.NewPeer(ctx, remote)
	if err != nil {
		v.logger.Errorw("failed to create peer connection", "remote", remote, "error", err)
		return
	}

	p := &voicePeer{
		link: domain.PeerLink{
			Remote:   remote,
			State:    domain.PeerConnecting,
			OpenedAt: time.Now(),
		},
		media: media,
	}
	v.trackPeer(p)

	media.OnCandidate(func(candidate json.RawMessage) {
		v.sendSignal(remote, domain.SignalCandidate, candidate)
	})
	media.OnConnected(func() {
		v.markConnected(remote)
	})

	answer, err := media.CreateAnswer(ctx, offer)
	if err != nil {
		v.logger.Errorw("failed to create answer", "remote", remote, "error", err)
		v.closePeer(remote)
		return
	}
	v.sendSignal(remote, domain.SignalAnswer, answer)
	v.emitChange(p.link)
}

// trackPeer registers a peer and arms its connect timeout. Replaces any
// closed link for the same remote.
func (v *VoiceService) trackPeer(p *voicePeer) {
	remote := p.link.Remote
	p.timer = time.AfterFunc(v.connectTimeout, func() {
		v.mu.Lock()
		cur, ok := v.peers[remote]
		if !ok || cur != p || cur.link.State != domain.PeerConnecting {
			v.mu.Unlock()
			return
		}
		v.mu.Unlock()
		v.logger.Warnw("peer connect timed out", "remote", remote, "timeout", v.connectTimeout)
		v.closePeer(remote)
	})

	v.mu.Lock()
	if old, ok := v.peers[remote]; ok {
		if old.timer != nil {
			old.timer.Stop()
		}
		_ = old.media.Close()
	}
	v.peers[remote] = p
	v.mu.Unlock()
}

func (v *VoiceService) markConnected(remote domain.ClientID) {
	v.mu.Lock()
	p, ok := v.peers[remote]
	if !ok {
		v.mu.Unlock()
		return
	}
	p.link.State = domain.PeerConnected
	if p.timer != nil {
		p.timer.Stop()
	}
	link := p.link
	v.mu.Unlock()

	v.logger.Infow("peer connected", "remote", remote)
	v.emitChange(link)
}

// closePeer tears down one link. The entry stays in the map in closed state
// so the next presence change can retry discovery.
func (v *VoiceService) closePeer(remote domain.ClientID) {
	v.mu.Lock()
	p, ok := v.peers[remote]
	if !ok || p.link.State == domain.PeerClosed {
		v.mu.Unlock()
		return
	}
	p.link.State = domain.PeerClosed
	if p.timer != nil {
		p.timer.Stop()
	}
	link := p.link
	v.mu.Unlock()

	_ = p.media.Close()
	v.emitChange(link)
}

// UpdateStats records transport-level audio statistics for a connected peer.
func (v *VoiceService) UpdateStats(remote domain.ClientID, stats domain.AudioStats) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.peers[remote]; ok {
		p.link.Stats = stats
	}
}

func (v *VoiceService) sendSignal(target domain.ClientID, kind domain.SignalKind, payload []byte) {
	// Timestamps are strictly increasing per sender so candidate bursts in one
	// millisecond never alias under the receiver's dedup key.
	v.mu.Lock()
	stamp := time.Now().UnixMilli()
	if stamp <= v.lastStamp {
		stamp = v.lastStamp + 1
	}
	v.lastStamp = stamp
	v.mu.Unlock()

	env := domain.SignalEnvelope{
		Target:    target,
		Sender:    v.relay.ClientID(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: stamp,
	}
	if err := v.relay.SendSignal(env); err != nil {
		v.logger.Errorw("failed to send signal", "target", target, "kind", kind, "error", err)
	}
	// Offers and answers also ride the presence entry so presence-only
	// watchers can still negotiate; candidates would churn the entry too fast.
	if kind != domain.SignalCandidate {
		if err := v.presence.SetSignal(&env); err != nil {
			v.logger.Debugw("failed to piggyback signal on presence", "error", err)
		}
	}
}
