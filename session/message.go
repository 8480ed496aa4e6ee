package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"chatkit/protocol"
)

// Status tracks where a message sits in its lifecycle. Optimistic messages
// were inserted locally ahead of backend confirmation and are replaced
// wholesale when the backend pushes the authoritative list.
type Status string

const (
	StatusOptimistic Status = "optimistic"
	StatusCommitted  Status = "committed"
	StatusError      Status = "error"
)

// OptimisticIDPrefix marks locally generated message ids. The backend never
// issues ids with this prefix, so prefix checks are safe.
const OptimisticIDPrefix = "optimistic-"

// Message is one entry in the session transcript.
type Message struct {
	ID                  string
	Role                string
	Content             string
	Timestamp           time.Time
	Status              Status
	HasBeenDisplayed    bool
	AttachedDocumentIDs []string
	AttachedNoteIDs     []string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// NewOptimisticID returns a fresh locally scoped message id.
func NewOptimisticID() string {
	return OptimisticIDPrefix + uuid.New().String()
}

// IsOptimisticID reports whether the id was generated locally and has no
// backend counterpart.
func IsOptimisticID(id string) bool {
	return strings.HasPrefix(id, OptimisticIDPrefix)
}

// fromWire converts a backend message into the local model. Wire messages
// are authoritative, so they arrive committed unless flagged as errors.
func fromWire(w protocol.WireMessage) Message {
	status := StatusCommitted
	if w.Error {
		status = StatusError
	}
	return Message{
		ID:                  w.ID,
		Role:                w.Role,
		Content:             w.Content,
		Timestamp:           w.Timestamp,
		Status:              status,
		HasBeenDisplayed:    w.HasBeenDisplayed,
		AttachedDocumentIDs: w.AttachedDocumentIDs,
		AttachedNoteIDs:     w.AttachedNoteIDs,
	}
}
