package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"codecollab/internal/core/domain"
	"codecollab/pkg/circuitbreaker"
	"codecollab/pkg/retry"
)

var errStoreDown = errors.New("store down")

// flakyFileRepo fails the first failUntil calls of each method, then succeeds.
type flakyFileRepo struct {
	mu        sync.Mutex
	failUntil int
	calls     int
	notFound  bool
	file      *domain.File
}

func (f *flakyFileRepo) attempt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.notFound {
		return domain.ErrFileNotFound
	}
	if f.calls <= f.failUntil {
		return errStoreDown
	}
	return nil
}

func (f *flakyFileRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyFileRepo) Load(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) (*domain.File, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return f.file, nil
}

func (f *flakyFileRepo) Save(ctx context.Context, file *domain.File) error {
	return f.attempt()
}

func (f *flakyFileRepo) ListByRoom(ctx context.Context, roomID domain.RoomID) ([]*domain.File, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []*domain.File{f.file}, nil
}

func (f *flakyFileRepo) Delete(ctx context.Context, roomID domain.RoomID, fileID domain.FileID) error {
	return f.attempt()
}

func fastRetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func testFile() *domain.File {
	return &domain.File{ID: "file-1", RoomID: "room-1", Name: "main.go", Language: "go", Content: "package main"}
}

func TestWrapper_RetriesTransientFailures(t *testing.T) {
	repo := &flakyFileRepo{failUntil: 2, file: testFile()}
	w := NewFileRepositoryWrapper(repo, fastRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	file, err := w.Load(context.Background(), "room-1", "file-1")
	if err != nil {
		t.Fatalf("Load failed after retries: %v", err)
	}
	if file.ID != "file-1" {
		t.Errorf("wrong file: %+v", file)
	}
	if got := repo.callCount(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestWrapper_NotFoundIsNotRetried(t *testing.T) {
	repo := &flakyFileRepo{notFound: true}
	w := NewFileRepositoryWrapper(repo, fastRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	_, err := w.Load(context.Background(), "room-1", "missing")
	if !errors.Is(err, domain.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if got := repo.callCount(); got != 1 {
		t.Errorf("not-found was retried: %d attempts", got)
	}
}

func TestWrapper_SaveRetriesThenSucceeds(t *testing.T) {
	repo := &flakyFileRepo{failUntil: 1}
	w := NewFileRepositoryWrapper(repo, fastRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	if err := w.Save(context.Background(), testFile()); err != nil {
		t.Fatalf("Save failed after retries: %v", err)
	}
	if got := repo.callCount(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestWrapper_DisabledRetryPassesThrough(t *testing.T) {
	repo := &flakyFileRepo{failUntil: 1}
	cfg := fastRetryConfig()
	cfg.Enabled = false
	w := NewFileRepositoryWrapper(repo, cfg, circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	if err := w.Save(context.Background(), testFile()); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the raw store error, got %v", err)
	}
	if got := repo.callCount(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestWrapper_CircuitOpensAfterThreshold(t *testing.T) {
	repo := &flakyFileRepo{failUntil: 1 << 30}
	retryCfg := fastRetryConfig()
	retryCfg.MaxAttempts = 1
	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = 3
	cbCfg.Timeout = time.Hour
	w := NewFileRepositoryWrapper(repo, retryCfg, cbCfg, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 3; i++ {
		_ = w.Save(context.Background(), testFile())
	}
	if state := w.GetCircuitBreakerStats().State; state != circuitbreaker.StateOpen {
		t.Fatalf("expected open circuit, got %s", state.String())
	}

	before := repo.callCount()
	_ = w.Save(context.Background(), testFile())
	if got := repo.callCount(); got != before {
		t.Errorf("open circuit still reached the store: %d extra calls", got-before)
	}
}
