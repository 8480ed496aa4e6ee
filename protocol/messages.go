package protocol

import (
	"encoding/json"
	"time"
)

// MessageType enumerates all backend sync message types.
type MessageType string

const (
	// Client -> backend
	MsgRegister         MessageType = "register"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgPersistSelection MessageType = "persist_selection"
	MsgMarkDisplayed    MessageType = "mark_displayed"

	// Backend -> client
	MsgMessagesUpdate MessageType = "messages_update"
	MsgLoading        MessageType = "loading"
	MsgHasMore        MessageType = "has_more"
	MsgAck            MessageType = "ack"
)

// Envelope is the outer JSON wrapper for all WebSocket messages.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client -> backend payloads ---

// RegisterPayload is sent once by the client immediately after connecting.
type RegisterPayload struct {
	ClientID  string    `json:"client_id"`
	SessionID string    `json:"session_id,omitempty"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatPayload is sent periodically to keep the connection alive.
type HeartbeatPayload struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PersistSelectionPayload writes the confirmed context selection to the
// session record.
type PersistSelectionPayload struct {
	Ref         string   `json:"ref"`
	SessionID   string   `json:"session_id"`
	DocumentIDs []string `json:"document_ids"`
	NoteIDs     []string `json:"note_ids"`
}

// MarkDisplayedPayload mirrors the local has-been-displayed flag to the
// backend.
type MarkDisplayedPayload struct {
	Ref       string `json:"ref"`
	MessageID string `json:"message_id"`
}

// --- Backend -> client payloads ---

// WireMessage is a chat message as transmitted by the backend message store.
type WireMessage struct {
	ID                  string    `json:"id"`
	Role                string    `json:"role"`
	Content             string    `json:"content"`
	Timestamp           time.Time `json:"timestamp"`
	Error               bool      `json:"error,omitempty"`
	HasBeenDisplayed    bool      `json:"has_been_displayed,omitempty"`
	AttachedDocumentIDs []string  `json:"attached_document_ids,omitempty"`
	AttachedNoteIDs     []string  `json:"attached_note_ids,omitempty"`
}

// MessagesUpdatePayload carries the authoritative message list for a session.
type MessagesUpdatePayload struct {
	SessionID string        `json:"session_id"`
	Messages  []WireMessage `json:"messages"`
}

// LoadingPayload signals whether the backend is still producing a reply.
type LoadingPayload struct {
	Loading bool `json:"loading"`
}

// HasMorePayload signals whether older messages exist beyond the current page.
type HasMorePayload struct {
	HasMore bool `json:"has_more"`
}

// AckPayload is the backend's reply to a ref-carrying request.
type AckPayload struct {
	Ref   string `json:"ref"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
