package memory

import (
	"context"
	"sync"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

type MemoryPresenceRepository struct {
	rooms map[domain.RoomID]map[domain.ClientID]domain.PresenceEntry
	mu    sync.RWMutex
}

func NewMemoryPresenceRepository() ports.PresenceRepository {
	return &MemoryPresenceRepository{
		rooms: make(map[domain.RoomID]map[domain.ClientID]domain.PresenceEntry),
	}
}

func (r *MemoryPresenceRepository) Set(ctx context.Context, roomID domain.RoomID, clientID domain.ClientID, entry domain.PresenceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[domain.ClientID]domain.PresenceEntry)
		r.rooms[roomID] = room
	}
	room[clientID] = entry.Clone()
	return nil
}

func (r *MemoryPresenceRepository) Remove(ctx context.Context, roomID domain.RoomID, clientID domain.ClientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room, clientID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	return nil
}

func (r *MemoryPresenceRepository) GetAll(ctx context.Context, roomID domain.RoomID) (map[domain.ClientID]domain.PresenceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.ClientID]domain.PresenceEntry, len(r.rooms[roomID]))
	for id, entry := range r.rooms[roomID] {
		out[id] = entry.Clone()
	}
	return out, nil
}
