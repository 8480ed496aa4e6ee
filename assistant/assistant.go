package assistant

import (
	"context"
	"errors"

	"chatkit/attachment"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one prior exchange handed to the assistant as history.
type Turn struct {
	Role    Role
	Content string
}

// Request carries a single submission to the remote assistant.
type Request struct {
	SessionID   string
	Content     string
	DocumentIDs []string
	NoteIDs     []string
	Attachments []attachment.EncodedAttachment
	History     []Turn
}

// StreamEventType classifies events on a reply stream.
type StreamEventType int

const (
	StreamStarted StreamEventType = iota
	StreamChunk
	StreamCompleted
	StreamErrored
)

// StreamEvent is one observation of the assistant's streamed reply.
type StreamEvent struct {
	Type     StreamEventType
	Chunk    string // set on StreamChunk
	FullText string // set on StreamCompleted
	Err      error  // set on StreamErrored
}

// Assistant is the remote inference collaborator. Send blocks until the
// reply stream finishes, emitting StreamStarted, zero or more StreamChunk
// events, and exactly one terminal StreamCompleted or StreamErrored on the
// channel. The returned error mirrors the terminal StreamErrored.
type Assistant interface {
	Send(ctx context.Context, req Request, events chan<- StreamEvent) error
}

// Failure taxonomy surfaced to the session controller. Implementations wrap
// transport-specific errors into these sentinels.
var (
	ErrUnauthenticated = errors.New("assistant: not authenticated")
	ErrForbidden       = errors.New("assistant: not authorized")
	ErrNetwork         = errors.New("assistant: network failure")
	ErrContextTooLarge = errors.New("assistant: context too large")
	ErrOverloaded      = errors.New("assistant: rate limited or overloaded")
	ErrServer          = errors.New("assistant: server failure")
)
