package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

// presenceTTL bounds how long an entry can outlive a crashed relay instance.
// Live connections refresh it on every presence write.
const presenceTTL = 5 * time.Minute

type RedisPresenceRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisPresenceRepository(client *redis.Client) ports.PresenceRepository {
	return &RedisPresenceRepository{
		client: client,
		prefix: "codecollab:presence:",
	}
}

func (r *RedisPresenceRepository) roomKey(roomID domain.RoomID) string {
	return r.prefix + string(roomID)
}

func (r *RedisPresenceRepository) Set(ctx context.Context, roomID domain.RoomID, clientID domain.ClientID, entry domain.PresenceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}

	key := r.roomKey(roomID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, string(clientID), data)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set presence in Redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) Remove(ctx context.Context, roomID domain.RoomID, clientID domain.ClientID) error {
	if err := r.client.HDel(ctx, r.roomKey(roomID), string(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to remove presence from Redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) GetAll(ctx context.Context, roomID domain.RoomID) (map[domain.ClientID]domain.PresenceEntry, error) {
	raw, err := r.client.HGetAll(ctx, r.roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get presence from Redis: %w", err)
	}

	out := make(map[domain.ClientID]domain.PresenceEntry, len(raw))
	for id, data := range raw {
		var entry domain.PresenceEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			// Skip entries that no longer decode
			continue
		}
		out[domain.ClientID(id)] = entry
	}
	return out, nil
}
