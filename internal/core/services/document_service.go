package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/internal/crdt"
	"codecollab/pkg/batch"
)

// DocumentConfig tunes batching and persistence for the document store.
type DocumentConfig struct {
	OpFlushInterval time.Duration
	OpBatchSize     int
	PersistDebounce time.Duration
}

func DefaultDocumentConfig() DocumentConfig {
	return DocumentConfig{
		OpFlushInterval: 50 * time.Millisecond,
		OpBatchSize:     64,
		PersistDebounce: 500 * time.Millisecond,
	}
}

type openDoc struct {
	doc       *crdt.Document
	outbound  *batch.Coalescer[crdt.Op]
	persistT  *time.Timer
	onPatch   map[int]func(patches []crdt.Patch)
	nextPatch int
	// ops whose send failed while the relay was down; they flush ahead of the
	// next batch and on the reconnect transition.
	pending []crdt.Op
	dirty   bool
}

// DocumentService owns one CRDT replica per open file. Local edits produce
// operation batches for the relay; remote batches are applied and surfaced as
// targeted patches. The external store is written on a trailing debounce, not
// per keystroke.
type DocumentService struct {
	relay  ports.RelayClient
	files  ports.FileRepository // may be nil when the room has no store
	roomID domain.RoomID
	cfg    DocumentConfig
	logger *zap.SugaredLogger

	mu   sync.Mutex
	docs map[domain.FileID]*openDoc
}

func NewDocumentService(relay ports.RelayClient, files ports.FileRepository, roomID domain.RoomID, cfg DocumentConfig, logger *zap.SugaredLogger) *DocumentService {
	s := &DocumentService{
		relay:  relay,
		files:  files,
		roomID: roomID,
		cfg:    cfg,
		logger: logger,
		docs:   make(map[domain.FileID]*openDoc),
	}
	relay.OnDocOps(s.handleRemoteOps)
	relay.OnStatus(s.handleStatus)
	return s
}

// newOpenDocLocked creates the replica and outbound machinery for one file.
// Caller holds s.mu.
func (s *DocumentService) newOpenDocLocked(fileID domain.FileID) *openDoc {
	od := &openDoc{
		doc:     crdt.New(string(s.relay.ClientID())),
		onPatch: make(map[int]func(patches []crdt.Patch)),
	}
	od.outbound = batch.NewCoalescer(s.cfg.OpBatchSize, s.cfg.OpFlushInterval, func(ops []crdt.Op) {
		s.sendBatch(fileID, od, ops)
	})
	s.docs[fileID] = od
	return od
}

// sendBatch pushes a batch to the relay, prepending anything queued from a
// prior failed send. A failed batch goes back on the queue so edits made
// during an outage survive until the reconnect flush.
func (s *DocumentService) sendBatch(fileID domain.FileID, od *openDoc, ops []crdt.Op) {
	s.mu.Lock()
	if len(od.pending) > 0 {
		ops = append(od.pending, ops...)
		od.pending = nil
	}
	s.mu.Unlock()

	if len(ops) == 0 {
		return
	}
	if err := s.relay.SendOps(fileID, ops); err != nil {
		s.logger.Warnw("relay send failed, queueing op batch", "file_id", fileID, "ops", len(ops), "error", err)
		s.mu.Lock()
		od.pending = append(ops, od.pending...)
		s.mu.Unlock()
	}
}

func (s *DocumentService) handleStatus(status ports.ConnStatus) {
	if status != ports.StatusConnected {
		return
	}
	s.mu.Lock()
	ids := make([]domain.FileID, 0, len(s.docs))
	queued := make([]*openDoc, 0, len(s.docs))
	for id, od := range s.docs {
		if len(od.pending) > 0 {
			ids = append(ids, id)
			queued = append(queued, od)
		}
	}
	s.mu.Unlock()

	for i, od := range queued {
		s.sendBatch(ids[i], od, nil)
	}
}

// Open loads a file into a fresh replica. Seeding from stored content happens
// only when this replica creates the document; concurrent openers converge on
// the seeder's operations instead of duplicating the text.
func (s *DocumentService) Open(ctx context.Context, fileID domain.FileID, seed bool) error {
	s.mu.Lock()
	if _, ok := s.docs[fileID]; ok {
		s.mu.Unlock()
		return nil
	}
	od := s.newOpenDocLocked(fileID)
	s.mu.Unlock()

	if !seed || s.files == nil {
		return nil
	}

	file, err := s.files.Load(ctx, s.roomID, fileID)
	if err != nil {
		if err == domain.ErrFileNotFound {
			return nil
		}
		return fmt.Errorf("load file %s: %w", fileID, err)
	}
	if file.Content == "" {
		return nil
	}

	s.mu.Lock()
	ops := od.doc.InsertAt(0, file.Content)
	s.mu.Unlock()
	od.outbound.Add(ops...)
	return nil
}

// LocalInsert records a local insertion and queues its ops for broadcast.
func (s *DocumentService) LocalInsert(fileID domain.FileID, index int, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	od, ok := s.docs[fileID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrFileNotFound
	}
	ops := od.doc.InsertAt(index, text)
	s.markDirtyLocked(fileID, od)
	s.mu.Unlock()

	od.outbound.Add(ops...)
	return nil
}

// LocalDelete records a local deletion and queues its ops for broadcast.
func (s *DocumentService) LocalDelete(fileID domain.FileID, index, n int) error {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	od, ok := s.docs[fileID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrFileNotFound
	}
	ops := od.doc.DeleteAt(index, n)
	s.markDirtyLocked(fileID, od)
	s.mu.Unlock()

	od.outbound.Add(ops...)
	return nil
}

// Text returns the current visible content of an open file.
func (s *DocumentService) Text(fileID domain.FileID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	od, ok := s.docs[fileID]
	if !ok {
		return "", domain.ErrFileNotFound
	}
	return od.doc.Text(), nil
}

// OnRemotePatch registers a callback for the visible effects of applied
// remote batches on one file. The returned function removes the registration;
// a detached editor must not keep receiving another file's patches.
func (s *DocumentService) OnRemotePatch(fileID domain.FileID, fn func(patches []crdt.Patch)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	od, ok := s.docs[fileID]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	id := od.nextPatch
	od.nextPatch++
	od.onPatch[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.docs[fileID]; ok && cur == od {
			delete(cur.onPatch, id)
		}
	}, nil
}

func (s *DocumentService) handleRemoteOps(sender domain.ClientID, fileID domain.FileID, ops []crdt.Op) {
	if sender == s.relay.ClientID() {
		return
	}

	s.mu.Lock()
	od, ok := s.docs[fileID]
	if !ok {
		// Op batch for a file this replica never opened; create the replica
		// lazily so late openers already have the merged state.
		od = s.newOpenDocLocked(fileID)
	}
	patches := od.doc.Apply(ops)
	if len(patches) > 0 {
		s.markDirtyLocked(fileID, od)
	}
	callbacks := make([]func([]crdt.Patch), 0, len(od.onPatch))
	for _, fn := range od.onPatch {
		callbacks = append(callbacks, fn)
	}
	s.mu.Unlock()

	if len(patches) == 0 {
		return
	}
	for _, fn := range callbacks {
		fn(patches)
	}
}

// markDirtyLocked arms (or re-arms) the persistence debounce for a file.
// Caller holds s.mu.
func (s *DocumentService) markDirtyLocked(fileID domain.FileID, od *openDoc) {
	if s.files == nil {
		return
	}
	od.dirty = true
	if od.persistT != nil {
		od.persistT.Reset(s.cfg.PersistDebounce)
		return
	}
	od.persistT = time.AfterFunc(s.cfg.PersistDebounce, func() {
		s.persist(fileID)
	})
}

func (s *DocumentService) persist(fileID domain.FileID) {
	s.mu.Lock()
	od, ok := s.docs[fileID]
	if !ok || !od.dirty {
		s.mu.Unlock()
		return
	}
	od.dirty = false
	content := od.doc.Text()
	s.mu.Unlock()

	file := &domain.File{
		ID:      fileID,
		RoomID:  s.roomID,
		Content: content,
		SavedAt: time.Now(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.files.Save(ctx, file); err != nil {
		s.logger.Errorw("failed to persist file", "file_id", fileID, "error", err)
		// keep dirty so the next edit retries
		s.mu.Lock()
		if od, ok := s.docs[fileID]; ok {
			s.markDirtyLocked(fileID, od)
		}
		s.mu.Unlock()
	}
}

// Flush force-sends queued ops and pending persists. Used on leave so no
// trailing edits are lost.
func (s *DocumentService) Flush() {
	s.mu.Lock()
	ids := make([]domain.FileID, 0, len(s.docs))
	coalescers := make([]*batch.Coalescer[crdt.Op], 0, len(s.docs))
	for id, od := range s.docs {
		ids = append(ids, id)
		coalescers = append(coalescers, od.outbound)
		if od.persistT != nil {
			od.persistT.Stop()
		}
	}
	s.mu.Unlock()

	for _, c := range coalescers {
		c.Flush()
	}
	for _, id := range ids {
		s.persist(id)
	}
}

// Close flushes everything and stops the per-file machinery.
func (s *DocumentService) Close() {
	s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, od := range s.docs {
		od.outbound.Stop()
		od.onPatch = nil
	}
	s.docs = make(map[domain.FileID]*openDoc)
}
