package ports

import (
	"context"

	"codecollab/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	ListByOwner(ctx context.Context, owner domain.UserID) ([]*domain.Room, error)
}

// FileRepository is the external file store: the core only needs "load text
// by id" and "persist text by id", eventually consistent with the latest
// local state.
type FileRepository interface {
	Load(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) (*domain.File, error)
	Save(ctx context.Context, file *domain.File) error
	ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.File, error)
	Delete(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) error
}

// PresenceRepository holds the relay-side authoritative presence map per
// room. Entries are last-write-wins per client.
type PresenceRepository interface {
	Set(ctx context.Context, roomID domain.RoomID, clientID domain.ClientID, entry domain.PresenceEntry) error
	Remove(ctx context.Context, roomID domain.RoomID, clientID domain.ClientID) error
	GetAll(ctx context.Context, roomID domain.RoomID) (map[domain.ClientID]domain.PresenceEntry, error)
}
