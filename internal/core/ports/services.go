package ports

import (
	"context"
	"encoding/json"

	"codecollab/internal/core/domain"
	"codecollab/internal/crdt"
)

// ConnStatus is the only transport detail surfaced to the session: connect
// and disconnect transitions, not individual retry attempts.
type ConnStatus string

const (
	StatusConnected    ConnStatus = "connected"
	StatusReconnecting ConnStatus = "reconnecting"
	StatusDisconnected ConnStatus = "disconnected"
)

// RelayClient is one multiplexed room-scoped connection carrying document
// operation traffic, presence replication and queued signaling.
type RelayClient interface {
	// Connect is idempotent; repeated calls reuse the live connection.
	Connect(ctx context.Context) error
	// Disconnect is safe to call even if never connected.
	Disconnect() error

	ClientID() domain.ClientID

	SendOps(fileID domain.FileID, ops []crdt.Op) error
	SendPresence(entry domain.PresenceEntry) error
	// SendSignal puts an envelope on the dedicated ordered per-pair channel.
	SendSignal(env domain.SignalEnvelope) error

	OnDocOps(fn func(sender domain.ClientID, fileID domain.FileID, ops []crdt.Op))
	OnPresence(fn func(entries map[domain.ClientID]domain.PresenceEntry))
	OnSignal(fn func(env domain.SignalEnvelope))
	OnStatus(fn func(status ConnStatus))
}

// BufferChange is one local edit emitted by the text widget.
type BufferChange struct {
	Index    int
	Inserted string
	Deleted  int
}

// EditorBuffer abstracts the text-editing widget: a replaceable text buffer
// with change events. Remote edits are applied as targeted range edits, never
// delete-all/insert-all.
type EditorBuffer interface {
	InsertText(index int, text string)
	DeleteText(index, n int)
	Text() string
	SetText(text string)
	OnChange(fn func(change BufferChange))
	OnCursorMove(fn func(pos domain.CursorPosition))
}

// MediaPeer is one standard peer-to-peer connection object supporting
// offer/answer/candidate exchange and media track attachment.
type MediaPeer interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	OnCandidate(fn func(candidate json.RawMessage))
	OnConnected(fn func())
	Close() error
}

// MediaEngine owns local capture and mints per-peer connections. The voice
// manager is the only consumer.
type MediaEngine interface {
	StartCapture(ctx context.Context) error
	StopCapture()
	CaptureActive() bool
	SetMuted(muted bool)
	NewPeer(ctx context.Context, remote domain.ClientID) (MediaPeer, error)
}

// FileContext is what the assistant sees of the active file.
type FileContext struct {
	FileName string
	Content  string
}

type FileActionType string

const (
	ActionCreateFile FileActionType = "create_file"
	ActionEditCode   FileActionType = "edit_code"
)

// FileAction is the structured mutation an assistant response may terminate
// in; it feeds back into the document store via the normal local-change path.
type FileAction struct {
	Type     FileActionType `json:"type"`
	FileName string         `json:"fileName"`
	Content  string         `json:"content"`
}

type AssistChunk struct {
	Text   string
	Action *FileAction
}

// Assistant streams a prompt response as text chunks, optionally ending with
// a structured file action.
type Assistant interface {
	SendPrompt(ctx context.Context, prompt string, fctx FileContext) (<-chan AssistChunk, error)
}
