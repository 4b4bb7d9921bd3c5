package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/protocol"
	"codecollab/pkg/utils"
)

const fanoutChannel = "codecollab:relay:frames"

// fanoutMessage wraps a frame with its room and origin instance so receivers
// can skip frames they published themselves.
type fanoutMessage struct {
	Instance string          `json:"instance"`
	RoomID   domain.RoomID   `json:"room_id"`
	Frame    protocol.Frame  `json:"frame"`
}

// RedisFanout mirrors relay frames across instances over one pub/sub channel.
type RedisFanout struct {
	client   *redis.Client
	instance string
	logger   *zap.SugaredLogger

	mu        sync.RWMutex
	callbacks []func(roomID domain.RoomID, frame protocol.Frame)

	cancel context.CancelFunc
}

func NewRedisFanout(client *redis.Client, logger *zap.SugaredLogger) *RedisFanout {
	return &RedisFanout{
		client:   client,
		instance: utils.GenerateID("relay"),
		logger:   logger,
	}
}

// Start subscribes to the shared channel and dispatches mirrored frames until
// Stop is called.
func (f *RedisFanout) Start(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	sub := f.client.Subscribe(runCtx, fanoutChannel)
	// Wait for the subscription before declaring readiness.
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go f.consume(runCtx, sub)
	return nil
}

// Stop ends the subscription. In-flight dispatches finish.
func (f *RedisFanout) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *RedisFanout) Publish(ctx context.Context, roomID domain.RoomID, frame protocol.Frame) error {
	msg := fanoutMessage{
		Instance: f.instance,
		RoomID:   roomID,
		Frame:    frame,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal fanout message: %w", err)
	}
	if err := f.client.Publish(ctx, fanoutChannel, data).Err(); err != nil {
		return fmt.Errorf("publish fanout message: %w", err)
	}
	return nil
}

func (f *RedisFanout) OnFrame(fn func(roomID domain.RoomID, frame protocol.Frame)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, fn)
}

func (f *RedisFanout) consume(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg fanoutMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				f.logger.Debugw("dropping malformed fanout message", "error", err)
				continue
			}
			if msg.Instance == f.instance {
				continue
			}

			f.mu.RLock()
			callbacks := f.callbacks
			f.mu.RUnlock()
			for _, fn := range callbacks {
				fn(msg.RoomID, msg.Frame)
			}
		}
	}
}
