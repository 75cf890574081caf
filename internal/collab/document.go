// Package collab implements the document-sync contract between the room
// engine and its clients: a record map under a logical clock, mutated by
// push messages and replicated through patch broadcasts.
package collab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Wire message types.
const (
	// TypeInit is sent by the server to a newly attached session and carries
	// the full record set and the current clock.
	TypeInit = "init"
	// TypePush is sent by a client and carries record upserts and deletions.
	TypePush = "push"
	// TypePatch is the server rebroadcast of an applied push to the other
	// sessions in the room.
	TypePatch = "patch"
)

// ErrMalformed marks a message the document cannot apply. The session that
// sent it is torn down; the room keeps running.
var ErrMalformed = errors.New("collab: malformed message")

// Message is the wire envelope exchanged over a session socket.
type Message struct {
	Type    string                     `json:"type"`
	Clock   int64                      `json:"clock,omitempty"`
	Records map[string]json.RawMessage `json:"records,omitempty"`
	Deleted []string                   `json:"deleted,omitempty"`
}

// snapshot is the persisted form of a document.
type snapshot struct {
	Clock   int64                      `json:"clock"`
	Records map[string]json.RawMessage `json:"records"`
}

// Document holds the live record set for one room. It is not safe for
// concurrent use; the owning room serializes access.
type Document struct {
	clock   int64
	records map[string]json.RawMessage
}

// NewDocument builds a document from a persisted snapshot. A nil or empty
// seed yields a fresh empty document.
func NewDocument(seed []byte) (*Document, error) {
	d := &Document{records: make(map[string]json.RawMessage)}
	if len(seed) == 0 {
		return d, nil
	}
	var snap snapshot
	if err := json.Unmarshal(seed, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	d.clock = snap.Clock
	if snap.Records != nil {
		d.records = snap.Records
	}
	return d, nil
}

// Snapshot serializes the current state for persistence. Loading the result
// into a fresh document reproduces the same observable state.
func (d *Document) Snapshot() ([]byte, error) {
	data, err := json.Marshal(snapshot{Clock: d.clock, Records: d.records})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Apply mutates the document with a client push and returns the patch to
// rebroadcast. changed is false for pushes that carry no effective mutation.
func (d *Document) Apply(msg Message) (patch Message, changed bool, err error) {
	if msg.Type != TypePush {
		return Message{}, false, fmt.Errorf("%w: unexpected type %q", ErrMalformed, msg.Type)
	}
	for id := range msg.Records {
		if id == "" {
			return Message{}, false, fmt.Errorf("%w: empty record id", ErrMalformed)
		}
	}
	for _, id := range msg.Deleted {
		if id == "" {
			return Message{}, false, fmt.Errorf("%w: empty deleted id", ErrMalformed)
		}
	}

	for id, rec := range msg.Records {
		// An upsert carrying the stored bytes mutates nothing.
		if cur, ok := d.records[id]; ok && bytes.Equal(cur, rec) {
			continue
		}
		d.records[id] = rec
		changed = true
	}
	for _, id := range msg.Deleted {
		if _, ok := d.records[id]; ok {
			delete(d.records, id)
			changed = true
		}
	}
	if !changed {
		return Message{}, false, nil
	}

	d.clock++
	return Message{
		Type:    TypePatch,
		Clock:   d.clock,
		Records: msg.Records,
		Deleted: msg.Deleted,
	}, true, nil
}

// InitMessage builds the full-state message for a newly attached session.
func (d *Document) InitMessage() Message {
	records := make(map[string]json.RawMessage, len(d.records))
	for id, rec := range d.records {
		records[id] = rec
	}
	return Message{Type: TypeInit, Clock: d.clock, Records: records}
}

// Clock returns the current logical clock.
func (d *Document) Clock() int64 { return d.clock }

// Len returns the number of live records.
func (d *Document) Len() int { return len(d.records) }

// Decode parses raw socket bytes into a message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}

// Encode serializes a message for the socket.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
