package memory

import (
	"context"
	"sync"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
)

type fileKey struct {
	room domain.RoomID
	file domain.FileID
}

type MemoryFileRepository struct {
	files map[fileKey]*domain.File
	mu    sync.RWMutex
}

func NewMemoryFileRepository() ports.FileRepository {
	return &MemoryFileRepository{
		files: make(map[fileKey]*domain.File),
	}
}

func (r *MemoryFileRepository) Load(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) (*domain.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, exists := r.files[fileKey{roomID, fileID}]
	if !exists {
		return nil, domain.ErrFileNotFound
	}
	out := *file
	return &out, nil
}

// Save upserts; the latest write wins regardless of prior content.
func (r *MemoryFileRepository) Save(ctx context.Context, file *domain.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fileKey{file.RoomID, file.ID}
	if existing, ok := r.files[key]; ok {
		// Preserve name and language when the caller only persists content.
		if file.Name == "" {
			file.Name = existing.Name
		}
		if file.Language == "" {
			file.Language = existing.Language
		}
	}
	stored := *file
	r.files[key] = &stored
	return nil
}

func (r *MemoryFileRepository) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.File
	for key, file := range r.files {
		if key.room == roomID {
			copied := *file
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *MemoryFileRepository) Delete(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fileKey{roomID, fileID}
	if _, exists := r.files[key]; !exists {
		return domain.ErrFileNotFound
	}
	delete(r.files, key)
	return nil
}
