package services

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"codecollab/internal/core/domain"
	"codecollab/internal/core/ports"
	"codecollab/internal/crdt"
)

// BindingState is the explicit lifecycle of an editor binding. Transitions
// are unbound -> bound -> unbound; every other transition is rejected.
type BindingState string

const (
	BindingUnbound BindingState = "unbound"
	BindingBound   BindingState = "bound"
)

// BindingService wires one editor buffer to one shared document. It owns the
// echo guard: remote patches applied into the buffer must not re-enter the
// local edit path, and one keystroke produces exactly one operation batch.
type BindingService struct {
	docs     *DocumentService
	presence *PresenceService
	logger   *zap.SugaredLogger

	cursorLimiter *rate.Limiter

	mu             sync.Mutex
	state          BindingState
	fileID         domain.FileID
	buffer         ports.EditorBuffer
	unsubscribe    func()
	applyingRemote bool
	lastCursor     *domain.CursorPosition
}

// NewBindingService creates an unbound binding. cursorLimit throttles cursor
// presence publishes; the trailing position always wins because the limiter
// gates sends, not reads of the latest position.
func NewBindingService(docs *DocumentService, presence *PresenceService, cursorLimit rate.Limit, logger *zap.SugaredLogger) *BindingService {
	return &BindingService{
		docs:          docs,
		presence:      presence,
		logger:        logger,
		cursorLimiter: rate.NewLimiter(cursorLimit, 1),
		state:         BindingUnbound,
	}
}

// State returns the current binding state.
func (b *BindingService) State() BindingState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Bind attaches a buffer to a file. The buffer is overwritten with the
// document's current content, then kept in sync both ways. Binding twice
// without Unbind fails.
func (b *BindingService) Bind(fileID domain.FileID, buffer ports.EditorBuffer) error {
	b.mu.Lock()
	if b.state == BindingBound {
		b.mu.Unlock()
		return domain.ErrAlreadyBound
	}

	text, err := b.docs.Text(fileID)
	if err != nil {
		b.mu.Unlock()
		return err
	}

	b.state = BindingBound
	b.fileID = fileID
	b.buffer = buffer
	b.applyingRemote = true
	b.mu.Unlock()

	// Initial content load is not a user edit.
	buffer.SetText(text)

	b.mu.Lock()
	b.applyingRemote = false
	b.mu.Unlock()

	buffer.OnChange(b.handleLocalChange)
	buffer.OnCursorMove(b.handleCursorMove)

	unsubscribe, err := b.docs.OnRemotePatch(fileID, b.handleRemotePatches)
	if err != nil {
		b.mu.Lock()
		b.state = BindingUnbound
		b.buffer = nil
		b.fileID = ""
		b.mu.Unlock()
		return err
	}
	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()
	return nil
}

// Unbind detaches the buffer and removes the patch subscription, so a later
// binding to another file never receives this file's remote edits.
func (b *BindingService) Unbind() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.state = BindingUnbound
	b.buffer = nil
	b.fileID = ""
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (b *BindingService) handleLocalChange(change ports.BufferChange) {
	b.mu.Lock()
	if b.state != BindingBound || b.applyingRemote {
		b.mu.Unlock()
		return
	}
	fileID := b.fileID
	b.mu.Unlock()

	// A replacement edit deletes first so indices refer to the pre-insert text.
	if change.Deleted > 0 {
		if err := b.docs.LocalDelete(fileID, change.Index, change.Deleted); err != nil {
			b.logger.Errorw("local delete rejected", "file_id", fileID, "error", err)
		}
	}
	if change.Inserted != "" {
		if err := b.docs.LocalInsert(fileID, change.Index, change.Inserted); err != nil {
			b.logger.Errorw("local insert rejected", "file_id", fileID, "error", err)
		}
	}
}

func (b *BindingService) handleRemotePatches(patches []crdt.Patch) {
	b.mu.Lock()
	if b.state != BindingBound {
		b.mu.Unlock()
		return
	}
	buffer := b.buffer
	b.applyingRemote = true
	b.mu.Unlock()

	for _, p := range patches {
		switch p.Action {
		case crdt.ActionInsert:
			buffer.InsertText(p.Index, p.Value)
		case crdt.ActionDelete:
			buffer.DeleteText(p.Index, len(p.Value))
		}
	}

	b.mu.Lock()
	b.applyingRemote = false
	b.mu.Unlock()
}

func (b *BindingService) handleCursorMove(pos domain.CursorPosition) {
	b.mu.Lock()
	if b.state != BindingBound {
		b.mu.Unlock()
		return
	}
	pos.FileID = b.fileID
	b.lastCursor = &pos
	allowed := b.cursorLimiter.Allow()
	b.mu.Unlock()

	if !allowed {
		// Dropped intermediate position; the next allowed move publishes the
		// latest one, so remote overlays lag by at most one interval.
		return
	}
	if err := b.presence.SetCursor(&pos); err != nil {
		b.logger.Debugw("cursor publish failed", "error", err)
	}
}
