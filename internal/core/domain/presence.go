package domain

import (
	"encoding/json"
	"fmt"
)

// CursorPosition is the published cursor location of a client in the active
// file. LineNumber/Column are editor coordinates.
type CursorPosition struct {
	FileID     FileID `json:"file_id,omitempty"`
	LineNumber int    `json:"line_number"`
	Column     int    `json:"column"`
}

// PresenceEntry is the per-client replicated state. Replication is
// last-write-wins over the whole entry: writing any field resends the entry,
// so writers must read-modify-write the full previous entry or they clobber
// sibling fields.
type PresenceEntry struct {
	Name   string          `json:"name"`
	Color  string          `json:"color"`
	Muted  bool            `json:"muted,omitempty"`
	Cursor *CursorPosition `json:"cursor,omitempty"`
	Signal *SignalEnvelope `json:"signal,omitempty"`
}

// Clone returns a deep copy so read-modify-write never aliases the stored entry.
func (e PresenceEntry) Clone() PresenceEntry {
	out := e
	if e.Cursor != nil {
		c := *e.Cursor
		out.Cursor = &c
	}
	if e.Signal != nil {
		s := *e.Signal
		out.Signal = &s
	}
	return out
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// SignalEnvelope is the transient payload used to bootstrap a direct peer
// media connection. It lives only until the sender's next presence write
// overwrites it.
type SignalEnvelope struct {
	Target    ClientID        `json:"target"`
	Sender    ClientID        `json:"sender"`
	Kind      SignalKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds, dedup key with Sender
}

// Validate rejects envelopes that do not fit the tagged union. Unparseable
// payloads are dropped on receipt rather than assumed well-formed.
func (s *SignalEnvelope) Validate() error {
	if s.Sender == "" {
		return fmt.Errorf("signal envelope: missing sender")
	}
	if s.Target == "" {
		return fmt.Errorf("signal envelope: missing target")
	}
	switch s.Kind {
	case SignalOffer, SignalAnswer, SignalCandidate:
	default:
		return fmt.Errorf("signal envelope: unknown kind %q", s.Kind)
	}
	if len(s.Payload) == 0 {
		return fmt.Errorf("signal envelope: empty payload")
	}
	if !json.Valid(s.Payload) {
		return fmt.Errorf("signal envelope: payload is not valid JSON")
	}
	return nil
}
