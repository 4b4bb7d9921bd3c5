package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"codecollab/internal/core/domain"
)

func newTestRepo(t *testing.T) (*miniredis.Miniredis, *RedisPresenceRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisPresenceRepository(client).(*RedisPresenceRepository)
}

func TestRedisPresenceRepository_SetGetAll(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	entry := domain.PresenceEntry{
		Name:   "alice",
		Color:  "#ff0000",
		Cursor: &domain.CursorPosition{FileID: "file-1", LineNumber: 3, Column: 7},
	}
	if err := repo.Set(ctx, "room-1", "client-a", entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := repo.Set(ctx, "room-1", "client-b", domain.PresenceEntry{Name: "bob"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	all, err := repo.GetAll(ctx, "room-1")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	got := all["client-a"]
	if got.Name != "alice" || got.Cursor == nil || got.Cursor.Column != 7 {
		t.Errorf("entry did not round-trip: %+v", got)
	}
}

func TestRedisPresenceRepository_LastWriteWins(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	_ = repo.Set(ctx, "room-1", "client-a", domain.PresenceEntry{Name: "alice"})
	_ = repo.Set(ctx, "room-1", "client-a", domain.PresenceEntry{Name: "alice", Muted: true})

	all, _ := repo.GetAll(ctx, "room-1")
	if len(all) != 1 || !all["client-a"].Muted {
		t.Errorf("expected overwritten entry, got %+v", all)
	}
}

func TestRedisPresenceRepository_Remove(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	_ = repo.Set(ctx, "room-1", "client-a", domain.PresenceEntry{Name: "alice"})
	if err := repo.Remove(ctx, "room-1", "client-a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	all, _ := repo.GetAll(ctx, "room-1")
	if len(all) != 0 {
		t.Errorf("entry not removed: %+v", all)
	}
}

func TestRedisPresenceRepository_EntriesExpire(t *testing.T) {
	mr, repo := newTestRepo(t)
	ctx := context.Background()

	_ = repo.Set(ctx, "room-1", "client-a", domain.PresenceEntry{Name: "alice"})

	// A crashed instance stops refreshing; the room key ages out.
	mr.FastForward(presenceTTL * 2)

	all, _ := repo.GetAll(ctx, "room-1")
	if len(all) != 0 {
		t.Errorf("stale entries survived the TTL: %+v", all)
	}
}

func TestRedisPresenceRepository_SkipsUndecodableEntries(t *testing.T) {
	mr, repo := newTestRepo(t)
	ctx := context.Background()

	_ = repo.Set(ctx, "room-1", "client-a", domain.PresenceEntry{Name: "alice"})
	mr.HSet("codecollab:presence:room-1", "client-bad", "{not json")

	all, err := repo.GetAll(ctx, "room-1")
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected the bad entry to be skipped, got %+v", all)
	}
}
