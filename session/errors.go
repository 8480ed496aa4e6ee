package session

import (
	"errors"

	"chatkit/assistant"
)

var (
	// ErrSubmitInFlight is returned when a submission is attempted while a
	// previous one has not finished.
	ErrSubmitInFlight = errors.New("session: a submission is already in flight")

	// ErrAwaitingDisplay is returned when the most recent assistant reply
	// has not been shown to the user yet.
	ErrAwaitingDisplay = errors.New("session: previous reply not yet displayed")

	// ErrEmptySubmission is returned when there is no compose text, no
	// attachments, and no selected context.
	ErrEmptySubmission = errors.New("session: nothing to submit")

	// ErrNotAuthenticated is returned when no user identity is set.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrNoSuchMessage is returned when a message id does not resolve.
	ErrNoSuchMessage = errors.New("session: no such message")

	// ErrNotRetryable is returned when Retry targets a message that did
	// not fail.
	ErrNotRetryable = errors.New("session: message is not in an error state")

	// ErrNotLatestReply is returned when Regenerate targets anything other
	// than the most recent assistant message.
	ErrNotLatestReply = errors.New("session: only the latest reply can be regenerated")

	// ErrSessionChanged is returned when the session switched while a
	// submission was being prepared.
	ErrSessionChanged = errors.New("session: session changed during submission")
)

// FailureMessage maps an error from the assistant into the text shown in
// place of the failed reply. Unrecognized errors get the generic fallback so
// raw transport detail never reaches the transcript.
func FailureMessage(err error) string {
	switch {
	case errors.Is(err, assistant.ErrUnauthenticated):
		return "You need to sign in before sending messages."
	case errors.Is(err, assistant.ErrForbidden):
		return "You don't have access to this assistant."
	case errors.Is(err, assistant.ErrContextTooLarge):
		return "This conversation has grown too large. Remove some attachments or context items and try again."
	case errors.Is(err, assistant.ErrOverloaded):
		return "The assistant is busy right now. Please try again in a moment."
	case errors.Is(err, assistant.ErrNetwork):
		return "Connection problem. Check your network and try again."
	case errors.Is(err, assistant.ErrServer):
		return "Something went wrong on our side. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
