package narration

import "errors"

// Utterance is a single piece of text handed to the synthesis capability.
// OnEnd fires when playback finishes naturally; OnError fires on synthesis
// failure, including cancellation by a newer utterance (ErrInterrupted).
type Utterance struct {
	Text    string
	OnEnd   func()
	OnError func(error)
}

// Synthesizer is the host speech-synthesis capability.
type Synthesizer interface {
	Speak(u *Utterance) error
	Pause() error
	Resume() error
	Cancel() error
}

var (
	// ErrInterrupted is reported by a synthesizer when an utterance is cut
	// off because a new one started. Expected and swallowed by the player.
	ErrInterrupted = errors.New("narration: utterance interrupted")

	ErrUnsupported = errors.New("narration: speech synthesis is not available")
)
