// Package relayclient implements the RelayClient port over one websocket
// connection to the relay. All room traffic (document ops, presence, queued
// signaling) is multiplexed on this single connection.
package relayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/internal/crdt"
	"codecollab/internal/protocol"
	"codecollab/pkg/retry"
)

type Config struct {
	URL          string // ws endpoint including the room path
	JoinToken    string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	MaxMessage   int64
}

func DefaultConfig(url, joinToken string) Config {
	return Config{
		URL:          url,
		JoinToken:    joinToken,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxMessage:   256 * 1024,
	}
}

type Client struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	clientID  domain.ClientID
	connected bool
	closing   bool
	stopPing  chan struct{}

	writeMu sync.Mutex

	cbMu       sync.RWMutex
	onDocOps   []func(sender domain.ClientID, fileID domain.FileID, ops []crdt.Op)
	onPresence []func(entries map[domain.ClientID]domain.PresenceEntry)
	onSignal   []func(env domain.SignalEnvelope)
	onStatus   []func(status ports.ConnStatus)
}

func New(cfg Config, logger *zap.SugaredLogger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// Connect dials the relay and waits for the welcome frame carrying the
// assigned client id and the presence snapshot. Calling Connect on a live
// connection is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		return err
	}
	c.emitStatus(ports.StatusConnected)
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.JoinToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.JoinToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrConnectionFailed, c.cfg.URL, err)
	}

	conn.SetReadLimit(c.cfg.MaxMessage)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	// The first frame must be the welcome.
	var frame protocol.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		conn.Close()
		return fmt.Errorf("%w: read welcome: %v", domain.ErrConnectionFailed, err)
	}
	if frame.Type != protocol.FrameWelcome {
		conn.Close()
		return fmt.Errorf("%w: expected welcome frame, got %s", domain.ErrConnectionFailed, frame.Type)
	}
	var welcome protocol.WelcomePayload
	if err := json.Unmarshal(frame.Payload, &welcome); err != nil {
		conn.Close()
		return fmt.Errorf("%w: decode welcome: %v", domain.ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.clientID = welcome.ClientID
	c.connected = true
	c.stopPing = make(chan struct{})
	stopPing := c.stopPing
	c.mu.Unlock()

	c.logger.Infow("connected to relay", "client_id", welcome.ClientID)

	go c.readPump(conn)
	go c.pingLoop(conn, stopPing)

	if len(welcome.Presence) > 0 {
		c.dispatchPresence(welcome.Presence)
	}
	return nil
}

// Disconnect closes the connection. It is safe to call on a client that
// never connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.emitStatus(ports.StatusDisconnected)
	return nil
}

func (c *Client) ClientID() domain.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) SendOps(fileID domain.FileID, ops []crdt.Op) error {
	frame, err := protocol.NewFrame(protocol.FrameDocOps, c.ClientID(), fileID, protocol.DocOpsPayload{Ops: ops})
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) SendPresence(entry domain.PresenceEntry) error {
	frame, err := protocol.NewFrame(protocol.FramePresenceSet, c.ClientID(), "", entry)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) SendSignal(env domain.SignalEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	frame, err := protocol.NewFrame(protocol.FrameSignal, c.ClientID(), "", env)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) writeFrame(frame protocol.Frame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Type, err)
	}
	return nil
}

func (c *Client) OnDocOps(fn func(sender domain.ClientID, fileID domain.FileID, ops []crdt.Op)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onDocOps = append(c.onDocOps, fn)
}

func (c *Client) OnPresence(fn func(entries map[domain.ClientID]domain.PresenceEntry)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onPresence = append(c.onPresence, fn)
}

func (c *Client) OnSignal(fn func(env domain.SignalEnvelope)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onSignal = append(c.onSignal, fn)
}

func (c *Client) OnStatus(fn func(status ports.ConnStatus)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onStatus = append(c.onStatus, fn)
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		var frame protocol.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			closing := c.closing
			current := c.conn == conn
			c.mu.Unlock()

			if closing || !current {
				return
			}
			c.logger.Warnw("relay connection lost", "error", err)
			c.reconnect()
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame protocol.Frame) {
	switch frame.Type {
	case protocol.FrameDocOps:
		var payload protocol.DocOpsPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Debugw("dropping malformed doc_ops frame", "error", err)
			return
		}
		c.cbMu.RLock()
		callbacks := c.onDocOps
		c.cbMu.RUnlock()
		for _, fn := range callbacks {
			fn(frame.Sender, frame.FileID, payload.Ops)
		}

	case protocol.FramePresenceFull:
		var payload protocol.PresenceFullPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			c.logger.Debugw("dropping malformed presence frame", "error", err)
			return
		}
		c.dispatchPresence(payload.Entries)

	case protocol.FrameSignal:
		var env domain.SignalEnvelope
		if err := json.Unmarshal(frame.Payload, &env); err != nil {
			c.logger.Debugw("dropping malformed signal frame", "error", err)
			return
		}
		c.cbMu.RLock()
		callbacks := c.onSignal
		c.cbMu.RUnlock()
		for _, fn := range callbacks {
			fn(env)
		}

	case protocol.FrameError:
		var payload protocol.ErrorPayload
		if err := json.Unmarshal(frame.Payload, &payload); err == nil {
			c.logger.Warnw("relay rejected frame", "message", payload.Message)
		}

	default:
		c.logger.Debugw("ignoring unknown frame type", "type", frame.Type)
	}
}

func (c *Client) dispatchPresence(entries map[domain.ClientID]domain.PresenceEntry) {
	c.cbMu.RLock()
	callbacks := c.onPresence
	c.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(entries)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// reconnect re-dials with exponential backoff until it succeeds or Disconnect
// is called. Only the connect and disconnect transitions reach the session;
// individual attempts stay internal.
func (c *Client) reconnect() {
	c.mu.Lock()
	c.connected = false
	c.conn = nil
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	c.mu.Unlock()

	c.emitStatus(ports.StatusReconnecting)

	cfg := retry.Config{
		Enabled:      true,
		MaxAttempts:  1 << 30, // retry until Disconnect
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
	err := retry.Retry(context.Background(), cfg, func() error {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return c.dial(ctx)
	})
	if err != nil {
		c.logger.Errorw("reconnect abandoned", "error", err)
		c.emitStatus(ports.StatusDisconnected)
		return
	}

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if !closing {
		c.emitStatus(ports.StatusConnected)
	}
}

func (c *Client) emitStatus(status ports.ConnStatus) {
	c.cbMu.RLock()
	callbacks := c.onStatus
	c.cbMu.RUnlock()
	for _, fn := range callbacks {
		fn(status)
	}
}
