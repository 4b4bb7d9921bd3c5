package services

import (
	"sync"

	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

// PresenceService maintains the local view of the room's presence table and
// owns this client's published entry. Replication is last-write-wins over the
// whole entry, so every mutation goes through a read-modify-write of the full
// previous entry before publishing.
type PresenceService struct {
	relay  ports.RelayClient
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	self     domain.PresenceEntry
	remote   map[domain.ClientID]domain.PresenceEntry
	onChange []func(entries map[domain.ClientID]domain.PresenceEntry)
	closed   bool
}

func NewPresenceService(relay ports.RelayClient, logger *zap.SugaredLogger) *PresenceService {
	p := &PresenceService{
		relay:  relay,
		logger: logger,
		remote: make(map[domain.ClientID]domain.PresenceEntry),
	}
	relay.OnPresence(p.handleRemote)
	relay.OnStatus(p.handleStatus)
	return p
}

// handleStatus republishes the local entry after a reconnect. The relay keeps
// no presence state across sessions, so a client that only rejoins silently
// would stay invisible to the room until its next local mutation.
func (p *PresenceService) handleStatus(status ports.ConnStatus) {
	if status != ports.StatusConnected {
		return
	}

	p.mu.RLock()
	announced := !p.closed && p.self.Name != ""
	out := p.self.Clone()
	p.mu.RUnlock()
	if !announced {
		return
	}

	if err := p.relay.SendPresence(out); err != nil {
		p.logger.Warnw("presence republish failed", "error", err)
	}
}

// SetIdentity publishes the display name and color. Called once at join and
// again if the user edits their profile.
func (p *PresenceService) SetIdentity(name, color string) error {
	return p.mutate(func(e *domain.PresenceEntry) {
		e.Name = name
		e.Color = color
	})
}

// SetCursor publishes the local cursor location. A nil position clears the
// cursor field for remote overlays.
func (p *PresenceService) SetCursor(pos *domain.CursorPosition) error {
	return p.mutate(func(e *domain.PresenceEntry) {
		if pos == nil {
			e.Cursor = nil
			return
		}
		c := *pos
		e.Cursor = &c
	})
}

// SetMuted flips the advertised mute flag. The media path is handled
// elsewhere; this only replicates the indicator.
func (p *PresenceService) SetMuted(muted bool) error {
	return p.mutate(func(e *domain.PresenceEntry) {
		e.Muted = muted
	})
}

// SetSignal attaches (or clears, with nil) the transient signaling field on
// the published entry. Kept for compatibility with peers that only watch
// presence; the dedicated signal channel is the preferred path.
func (p *PresenceService) SetSignal(env *domain.SignalEnvelope) error {
	return p.mutate(func(e *domain.PresenceEntry) {
		if env == nil {
			e.Signal = nil
			return
		}
		s := *env
		e.Signal = &s
	})
}

// mutate applies fn to a clone of the current entry, stores it and publishes
// the whole entry so sibling fields survive.
func (p *PresenceService) mutate(fn func(e *domain.PresenceEntry)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.ErrNotConnected
	}
	entry := p.self.Clone()
	fn(&entry)
	p.self = entry
	out := entry.Clone()
	p.mu.Unlock()

	return p.relay.SendPresence(out)
}

// Self returns a copy of the currently published entry.
func (p *PresenceService) Self() domain.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.self.Clone()
}

// Snapshot returns the remote presence map, excluding this client.
func (p *PresenceService) Snapshot() map[domain.ClientID]domain.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[domain.ClientID]domain.PresenceEntry, len(p.remote))
	for id, e := range p.remote {
		out[id] = e.Clone()
	}
	return out
}

// OnChange registers a callback invoked with the full remote map after every
// replicated change. Callbacks stop firing after Close.
func (p *PresenceService) OnChange(fn func(entries map[domain.ClientID]domain.PresenceEntry)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

func (p *PresenceService) handleRemote(entries map[domain.ClientID]domain.PresenceEntry) {
	self := p.relay.ClientID()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.remote = make(map[domain.ClientID]domain.PresenceEntry, len(entries))
	for id, e := range entries {
		if id == self {
			continue
		}
		p.remote[id] = e.Clone()
	}
	snapshot := make(map[domain.ClientID]domain.PresenceEntry, len(p.remote))
	for id, e := range p.remote {
		snapshot[id] = e.Clone()
	}
	callbacks := make([]func(map[domain.ClientID]domain.PresenceEntry), len(p.onChange))
	copy(callbacks, p.onChange)
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
}

// Close detaches the service; later mutations fail and callbacks stop.
func (p *PresenceService) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.onChange = nil
	p.remote = make(map[domain.ClientID]domain.PresenceEntry)
}
