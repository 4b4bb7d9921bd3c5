package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

// Identity is what a joining user chooses to publish about themselves.
type Identity struct {
	Name  string
	Color string
}

// SessionService ties the per-room collaboration pieces together: one relay
// connection, the presence table, the document store and optionally the voice
// overlay. Join and Leave bracket everything else.
type SessionService struct {
	relay    ports.RelayClient
	presence *PresenceService
	docs     *DocumentService
	voice    *VoiceService // nil when voice is disabled
	logger   *zap.SugaredLogger

	mu     sync.Mutex
	joined bool
}

func NewSessionService(relay ports.RelayClient, presence *PresenceService, docs *DocumentService, voice *VoiceService, logger *zap.SugaredLogger) *SessionService {
	return &SessionService{
		relay:    relay,
		presence: presence,
		docs:     docs,
		voice:    voice,
		logger:   logger,
	}
}

// Join connects to the relay and publishes the user's identity. It is
// idempotent; a second call on a live session is a no-op.
func (s *SessionService) Join(ctx context.Context, identity Identity) error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.relay.Connect(ctx); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	if err := s.presence.SetIdentity(identity.Name, identity.Color); err != nil {
		return fmt.Errorf("publish identity: %w", err)
	}

	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()

	s.logger.Infow("joined session", "client_id", s.relay.ClientID(), "name", identity.Name)
	return nil
}

// ClientID returns the relay-assigned ephemeral id for this session.
func (s *SessionService) ClientID() domain.ClientID {
	return s.relay.ClientID()
}

// Leave tears the session down in dependency order: voice first so peers see
// a clean departure, then pending document writes, then the connection.
func (s *SessionService) Leave() error {
	s.mu.Lock()
	if !s.joined {
		s.mu.Unlock()
		return nil
	}
	s.joined = false
	s.mu.Unlock()

	if s.voice != nil {
		s.voice.Leave()
	}
	s.docs.Close()
	s.presence.Close()

	if err := s.relay.Disconnect(); err != nil {
		return fmt.Errorf("disconnect from relay: %w", err)
	}
	s.logger.Infow("left session")
	return nil
}
