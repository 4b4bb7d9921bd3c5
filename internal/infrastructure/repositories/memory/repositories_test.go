package memory

import (
	"context"
	"testing"
	"time"

	"codecollab/internal/core/domain"
)

func TestMemoryRoomRepository_Lifecycle(t *testing.T) {
	repo := NewMemoryRoomRepository()
	ctx := context.Background()

	room := &domain.Room{ID: "room-1", Name: "pairing", OwnerID: "user-1", CreatedAt: time.Now()}
	if err := repo.Create(ctx, room); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, room); err == nil {
		t.Error("duplicate Create must fail")
	}

	got, err := repo.GetByID(ctx, "room-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "pairing" {
		t.Errorf("wrong room: %+v", got)
	}

	// Returned value is a copy; mutating it must not affect the store.
	got.Name = "mutated"
	again, _ := repo.GetByID(ctx, "room-1")
	if again.Name != "pairing" {
		t.Error("GetByID leaked internal state")
	}

	rooms, err := repo.ListByOwner(ctx, "user-1")
	if err != nil || len(rooms) != 1 {
		t.Errorf("ListByOwner: rooms=%v err=%v", rooms, err)
	}

	if err := repo.Delete(ctx, "room-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := repo.Delete(ctx, "room-1"); err != domain.ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "room-1"); err != domain.ErrRoomNotFound {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestMemoryFileRepository_SavePreservesMetadata(t *testing.T) {
	repo := NewMemoryFileRepository()
	ctx := context.Background()

	if err := repo.Save(ctx, &domain.File{
		ID: "file-1", RoomID: "room-1", Name: "main.go", Language: "go", Content: "package main",
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The persistence debounce writes content only; name and language survive.
	if err := repo.Save(ctx, &domain.File{
		ID: "file-1", RoomID: "room-1", Content: "package main\n\nfunc main() {}",
	}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	file, err := repo.Load(ctx, "room-1", "file-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if file.Name != "main.go" || file.Language != "go" {
		t.Errorf("metadata lost on content save: %+v", file)
	}
	if file.Content != "package main\n\nfunc main() {}" {
		t.Errorf("content not updated: %q", file.Content)
	}
}

func TestMemoryFileRepository_NotFoundAndDelete(t *testing.T) {
	repo := NewMemoryFileRepository()
	ctx := context.Background()

	if _, err := repo.Load(ctx, "room-1", "missing"); err != domain.ErrFileNotFound {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, "room-1", "missing"); err != domain.ErrFileNotFound {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}

	_ = repo.Save(ctx, &domain.File{ID: "file-1", RoomID: "room-1", Name: "a.go"})
	_ = repo.Save(ctx, &domain.File{ID: "file-2", RoomID: "room-1", Name: "b.go"})
	_ = repo.Save(ctx, &domain.File{ID: "file-3", RoomID: "room-2", Name: "c.go"})

	files, err := repo.ListByRoom(ctx, "room-1")
	if err != nil || len(files) != 2 {
		t.Errorf("ListByRoom: files=%d err=%v", len(files), err)
	}

	if err := repo.Delete(ctx, "room-1", "file-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.Load(ctx, "room-1", "file-1"); err != domain.ErrFileNotFound {
		t.Errorf("expected ErrFileNotFound after delete, got %v", err)
	}
}

func TestMemoryPresenceRepository_SetRemoveGetAll(t *testing.T) {
	repo := NewMemoryPresenceRepository()
	ctx := context.Background()

	entry := domain.PresenceEntry{Name: "alice", Cursor: &domain.CursorPosition{LineNumber: 1}}
	if err := repo.Set(ctx, "room-1", "client-a", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Stored entry must not alias the caller's cursor pointer.
	entry.Cursor.LineNumber = 99
	all, err := repo.GetAll(ctx, "room-1")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if all["client-a"].Cursor.LineNumber != 1 {
		t.Error("Set stored an aliased entry")
	}

	// Set is last-write-wins per client.
	_ = repo.Set(ctx, "room-1", "client-a", domain.PresenceEntry{Name: "alice", Muted: true})
	all, _ = repo.GetAll(ctx, "room-1")
	if len(all) != 1 || !all["client-a"].Muted {
		t.Errorf("LWW overwrite failed: %+v", all)
	}

	if err := repo.Remove(ctx, "room-1", "client-a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	all, _ = repo.GetAll(ctx, "room-1")
	if len(all) != 0 {
		t.Errorf("entry not removed: %+v", all)
	}

	// Removing from an unknown room is harmless.
	if err := repo.Remove(ctx, "room-x", "client-a"); err != nil {
		t.Errorf("Remove on unknown room failed: %v", err)
	}
}
