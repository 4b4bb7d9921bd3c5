// Package protocol defines the frames multiplexed over one relay connection.
// Both the relay server and the client speak exactly this vocabulary.
package protocol

import (
	"encoding/json"
	"fmt"

	"codecollab/internal/core/domain"
	"codecollab/internal/crdt"
)

type FrameType string

const (
	// FrameWelcome is server → client on join: assigned client id plus the
	// current presence snapshot.
	FrameWelcome FrameType = "welcome"
	// FrameDocOps carries a CRDT operation batch for one file.
	FrameDocOps FrameType = "doc_ops"
	// FramePresenceSet is client → server: the sender's full entry (LWW).
	FramePresenceSet FrameType = "presence_set"
	// FramePresenceFull is server → clients: the whole room map after any change.
	FramePresenceFull FrameType = "presence_full"
	// FrameSignal is the dedicated ordered signaling channel, routed to the
	// addressed peer only.
	FrameSignal FrameType = "signal"
	// FrameError reports a rejected frame back to its sender.
	FrameError FrameType = "error"
)

type Frame struct {
	Type    FrameType       `json:"type"`
	Sender  domain.ClientID `json:"sender,omitempty"`
	FileID  domain.FileID   `json:"file_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type WelcomePayload struct {
	ClientID domain.ClientID                            `json:"client_id"`
	Presence map[domain.ClientID]domain.PresenceEntry   `json:"presence"`
}

type DocOpsPayload struct {
	Ops []crdt.Op `json:"ops"`
}

type PresenceFullPayload struct {
	Entries map[domain.ClientID]domain.PresenceEntry `json:"entries"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewFrame marshals payload into a frame.
func NewFrame(t FrameType, sender domain.ClientID, fileID domain.FileID, payload interface{}) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Frame{Type: t, Sender: sender, FileID: fileID, Payload: data}, nil
}
