// Package relay implements the room relay: one websocket hub that assigns
// client ids, fans out document operations, holds the authoritative presence
// table and routes queued signaling frames to their addressed peer.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/internal/core/services"
	"codecollab/internal/protocol"
	"codecollab/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin allow-list is enforced by the auth middleware
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Metrics is the slice of the collector the relay reports into.
type Metrics interface {
	ClientConnected(roomID domain.RoomID)
	ClientDisconnected(roomID domain.RoomID)
	FrameReceived(frameType string)
	FrameRejected(frameType string)
}

type noopMetrics struct{}

func (noopMetrics) ClientConnected(domain.RoomID)    {}
func (noopMetrics) ClientDisconnected(domain.RoomID) {}
func (noopMetrics) FrameReceived(string)             {}
func (noopMetrics) FrameRejected(string)             {}

// Fanout mirrors frames across relay instances so clients of a room can land
// on different nodes.
type Fanout interface {
	Publish(ctx context.Context, roomID domain.RoomID, frame protocol.Frame) error
	OnFrame(fn func(roomID domain.RoomID, frame protocol.Frame))
}

type roomClient struct {
	id      domain.ClientID
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter
}

type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxMessage   int64

	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultServerConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessage:        256 * 1024,
		MessagesPerSecond: 200,
		MessageBurst:      400,
	}
}

type WebSocketServer struct {
	presenceRepo ports.PresenceRepository
	auth         services.AuthService // nil disables token checks
	fanout       Fanout               // nil on single-instance deployments
	metrics      Metrics
	cfg          Config
	logger       *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[domain.RoomID]map[domain.ClientID]*roomClient
}

func NewWebSocketServer(presenceRepo ports.PresenceRepository, auth services.AuthService, cfg Config, logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		presenceRepo: presenceRepo,
		auth:         auth,
		metrics:      noopMetrics{},
		cfg:          cfg,
		logger:       logger,
		rooms:        make(map[domain.RoomID]map[domain.ClientID]*roomClient),
	}
}

// SetMetrics attaches a collector. Must be called before serving.
func (s *WebSocketServer) SetMetrics(m Metrics) {
	s.metrics = m
}

// SetFanout attaches cross-instance frame mirroring. Must be called before
// serving.
func (s *WebSocketServer) SetFanout(f Fanout) {
	s.fanout = f
	f.OnFrame(s.handleFanoutFrame)
}

// HandleWebSocket upgrades one room connection. The room id comes from the
// room_id query parameter; when auth is configured a valid join token for
// that room is required.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := domain.RoomID(r.URL.Query().Get("room_id"))
	if roomID == "" {
		http.Error(w, "room_id is required", http.StatusBadRequest)
		return
	}

	if s.auth != nil {
		token := bearerToken(r)
		claims, err := s.auth.ValidateJoinToken(token)
		if err != nil {
			http.Error(w, "invalid join token", http.StatusUnauthorized)
			return
		}
		if claims.RoomID != roomID {
			http.Error(w, "token not valid for this room", http.StatusForbidden)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &roomClient{
		id:      domain.ClientID(utils.GenerateClientID()),
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.MessageBurst),
	}

	s.mu.Lock()
	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = make(map[domain.ClientID]*roomClient)
	}
	s.rooms[roomID][client.id] = client
	s.mu.Unlock()

	s.metrics.ClientConnected(roomID)
	s.logger.Infow("client joined room", "room_id", roomID, "client_id", client.id)

	if err := s.sendWelcome(roomID, client); err != nil {
		s.logger.Errorw("failed to send welcome", "room_id", roomID, "client_id", client.id, "error", err)
		s.removeClient(roomID, client)
		return
	}

	conn.SetReadLimit(s.cfg.MaxMessage)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	frameChan := make(chan protocol.Frame, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var frame protocol.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				select {
				case errorChan <- err:
				case <-done:
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			// done unblocks the send when the handler loop has already
			// returned with frameChan full.
			select {
			case frameChan <- frame:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case frame := <-frameChan:
			if !client.limiter.Allow() {
				s.metrics.FrameRejected(string(frame.Type))
				s.sendError(client, "rate limit exceeded")
				continue
			}
			s.metrics.FrameReceived(string(frame.Type))
			if err := s.handleFrame(context.Background(), roomID, client, frame); err != nil {
				s.metrics.FrameRejected(string(frame.Type))
				s.logger.Infow("rejected frame", "room_id", roomID, "client_id", client.id, "type", frame.Type, "error", err)
				s.sendError(client, err.Error())
			}

		case <-pingTicker.C:
			client.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("ping failed", "room_id", roomID, "client_id", client.id, "error", err)
				s.removeClient(roomID, client)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read failed", "room_id", roomID, "client_id", client.id, "error", err)
			}
			s.removeClient(roomID, client)
			return
		}
	}
}

func (s *WebSocketServer) sendWelcome(roomID domain.RoomID, client *roomClient) error {
	entries, err := s.presenceRepo.GetAll(context.Background(), roomID)
	if err != nil {
		return fmt.Errorf("load presence: %w", err)
	}
	frame, err := protocol.NewFrame(protocol.FrameWelcome, "", "", protocol.WelcomePayload{
		ClientID: client.id,
		Presence: entries,
	})
	if err != nil {
		return err
	}
	return s.writeTo(client, frame)
}

func (s *WebSocketServer) handleFrame(ctx context.Context, roomID domain.RoomID, client *roomClient, frame protocol.Frame) error {
	// The hub stamps the sender; clients cannot impersonate each other.
	frame.Sender = client.id

	switch frame.Type {
	case protocol.FrameDocOps:
		return s.handleDocOps(ctx, roomID, client, frame)
	case protocol.FramePresenceSet:
		return s.handlePresenceSet(ctx, roomID, client, frame)
	case protocol.FrameSignal:
		return s.handleSignal(ctx, roomID, client, frame)
	default:
		return fmt.Errorf("unknown frame type: %s", frame.Type)
	}
}

func (s *WebSocketServer) handleDocOps(ctx context.Context, roomID domain.RoomID, client *roomClient, frame protocol.Frame) error {
	if frame.FileID == "" {
		return fmt.Errorf("file_id is required")
	}
	var payload protocol.DocOpsPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("invalid doc_ops payload: %w", err)
	}
	if len(payload.Ops) == 0 {
		return fmt.Errorf("empty op batch")
	}

	s.broadcast(roomID, frame, client.id)
	s.publishFanout(ctx, roomID, frame)
	return nil
}

func (s *WebSocketServer) handlePresenceSet(ctx context.Context, roomID domain.RoomID, client *roomClient, frame protocol.Frame) error {
	var entry domain.PresenceEntry
	if err := json.Unmarshal(frame.Payload, &entry); err != nil {
		return fmt.Errorf("invalid presence payload: %w", err)
	}

	if err := s.presenceRepo.Set(ctx, roomID, client.id, entry); err != nil {
		return fmt.Errorf("store presence: %w", err)
	}
	return s.broadcastPresence(ctx, roomID)
}

func (s *WebSocketServer) handleSignal(ctx context.Context, roomID domain.RoomID, client *roomClient, frame protocol.Frame) error {
	var env domain.SignalEnvelope
	if err := json.Unmarshal(frame.Payload, &env); err != nil {
		return fmt.Errorf("invalid signal payload: %w", err)
	}
	env.Sender = client.id
	if err := env.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("re-encode signal: %w", err)
	}
	frame.Payload = payload

	s.mu.RLock()
	target, ok := s.rooms[roomID][env.Target]
	s.mu.RUnlock()

	if !ok {
		// Target may be on another instance.
		s.publishFanout(ctx, roomID, frame)
		return nil
	}
	return s.writeTo(target, frame)
}

// broadcastPresence pushes the full authoritative map to everyone in the room.
func (s *WebSocketServer) broadcastPresence(ctx context.Context, roomID domain.RoomID) error {
	entries, err := s.presenceRepo.GetAll(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load presence: %w", err)
	}
	frame, err := protocol.NewFrame(protocol.FramePresenceFull, "", "", protocol.PresenceFullPayload{Entries: entries})
	if err != nil {
		return err
	}
	s.broadcast(roomID, frame, "")
	s.publishFanout(ctx, roomID, frame)
	return nil
}

// broadcast writes a frame to every client in the room except exclude.
func (s *WebSocketServer) broadcast(roomID domain.RoomID, frame protocol.Frame, exclude domain.ClientID) {
	s.mu.RLock()
	clients := make([]*roomClient, 0, len(s.rooms[roomID]))
	for id, c := range s.rooms[roomID] {
		if id == exclude {
			continue
		}
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := s.writeTo(c, frame); err != nil {
			s.logger.Debugw("broadcast write failed", "room_id", roomID, "client_id", c.id, "error", err)
		}
	}
}

func (s *WebSocketServer) writeTo(client *roomClient, frame protocol.Frame) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	client.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return client.conn.WriteJSON(frame)
}

func (s *WebSocketServer) sendError(client *roomClient, message string) {
	frame, err := protocol.NewFrame(protocol.FrameError, "", "", protocol.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	if err := s.writeTo(client, frame); err != nil {
		s.logger.Debugw("error frame write failed", "client_id", client.id, "error", err)
	}
}

func (s *WebSocketServer) publishFanout(ctx context.Context, roomID domain.RoomID, frame protocol.Frame) {
	if s.fanout == nil {
		return
	}
	if err := s.fanout.Publish(ctx, roomID, frame); err != nil {
		s.logger.Errorw("fanout publish failed", "room_id", roomID, "type", frame.Type, "error", err)
	}
}

// handleFanoutFrame delivers a frame mirrored from another instance to local
// clients. Signals go to their target only; everything else is broadcast.
func (s *WebSocketServer) handleFanoutFrame(roomID domain.RoomID, frame protocol.Frame) {
	if frame.Type == protocol.FrameSignal {
		var env domain.SignalEnvelope
		if err := json.Unmarshal(frame.Payload, &env); err != nil {
			return
		}
		s.mu.RLock()
		target, ok := s.rooms[roomID][env.Target]
		s.mu.RUnlock()
		if ok {
			if err := s.writeTo(target, frame); err != nil {
				s.logger.Debugw("fanout signal write failed", "room_id", roomID, "error", err)
			}
		}
		return
	}
	s.broadcast(roomID, frame, frame.Sender)
}

// removeClient drops the connection, clears its presence entry and tells the
// room. A departed client's signal field disappears with its entry.
func (s *WebSocketServer) removeClient(roomID domain.RoomID, client *roomClient) {
	s.mu.Lock()
	if room, ok := s.rooms[roomID]; ok {
		if cur, ok := room[client.id]; !ok || cur != client {
			s.mu.Unlock()
			return
		}
		delete(room, client.id)
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.presenceRepo.Remove(ctx, roomID, client.id); err != nil {
		s.logger.Infow("failed to remove presence", "room_id", roomID, "client_id", client.id, "error", err)
	}
	if err := s.broadcastPresence(ctx, roomID); err != nil {
		s.logger.Infow("failed to broadcast departure", "room_id", roomID, "error", err)
	}

	s.metrics.ClientDisconnected(roomID)
	s.logger.Infow("client left room", "room_id", roomID, "client_id", client.id)
}

// RoomSize reports the number of locally connected clients in a room.
func (s *WebSocketServer) RoomSize(roomID domain.RoomID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[roomID])
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	// Browser websocket clients cannot set headers; allow a query fallback.
	return r.URL.Query().Get("token")
}
