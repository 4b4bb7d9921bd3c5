package memory

import (
	"context"
	"fmt"
	"sync"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms map[domain.RoomID]*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.RoomID]*domain.Room),
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return fmt.Errorf("room already exists: %s", room.ID)
	}
	stored := *room
	r.rooms[room.ID] = &stored
	return nil
}

func (r *MemoryRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	out := *room
	return &out, nil
}

func (r *MemoryRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[id]; !exists {
		return domain.ErrRoomNotFound
	}
	delete(r.rooms, id)
	return nil
}

func (r *MemoryRoomRepository) ListByOwner(ctx context.Context, owner domain.UserID) ([]*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Room
	for _, room := range r.rooms {
		if room.OwnerID == owner {
			copied := *room
			out = append(out, &copied)
		}
	}
	return out, nil
}
