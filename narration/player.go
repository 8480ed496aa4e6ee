package narration

import (
	"errors"
	"sync"

	"chatkit/core"
)

// State is a snapshot of the player's playback state.
type State struct {
	IsSpeaking        bool
	IsPaused          bool
	SpeakingMessageID string
}

// Config configures the player.
type Config struct {
	// AutoNarrate enables the speak-once policy for the most recent
	// assistant message. The host decides when this applies (e.g. mobile
	// viewports only).
	AutoNarrate bool
	// ResetSuppressionOnSwitch controls whether the suppression set by a
	// manual stop is lifted when the chat session changes.
	ResetSuppressionOnSwitch bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AutoNarrate:              false,
		ResetSuppressionOnSwitch: true,
	}
}

// Player drives text-to-speech playback of assistant messages. At most one
// utterance is ever active: starting a new one always cancels the previous.
type Player struct {
	synth   Synthesizer
	config  Config
	logger  *core.Logger
	onError func(error)

	mu        sync.Mutex
	speaking  bool
	paused    bool
	messageID string
	seq       uint64 // guards stale utterance callbacks

	lastAutoSpokenID string
	autoDisabled     bool
}

// NewPlayer creates a Player. Use DefaultConfig() and override only what you
// need.
func NewPlayer(synth Synthesizer, config Config, logger *core.Logger) *Player {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Player{
		synth:  synth,
		config: config,
		logger: logger.With(map[string]interface{}{"component": "narration"}),
	}
}

// WithErrorFunc registers a callback for synthesis errors that should be
// surfaced to the user. Returns the player to allow chaining.
func (p *Player) WithErrorFunc(fn func(error)) *Player {
	p.onError = fn
	return p
}

// State returns a snapshot of the playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		IsSpeaking:        p.speaking,
		IsPaused:          p.paused,
		SpeakingMessageID: p.messageID,
	}
}

// Speak cancels any prior utterance and synthesizes the given text, stripped
// of structural markup. Empty text after stripping is a no-op.
func (p *Player) Speak(messageID, text string) error {
	if p.synth == nil {
		return ErrUnsupported
	}
	spoken := normalizeForSpeech(text)
	if spoken == "" {
		return nil
	}

	p.mu.Lock()
	_ = p.synth.Cancel() // single-utterance invariant
	p.seq++
	utteranceSeq := p.seq
	p.speaking = true
	p.paused = false
	p.messageID = messageID
	p.mu.Unlock()

	u := &Utterance{
		Text: spoken,
		OnEnd: func() {
			p.clearIfCurrent(utteranceSeq)
		},
		OnError: func(err error) {
			if errors.Is(err, ErrInterrupted) {
				// expected when a newer utterance cancels this one
				return
			}
			p.logger.With(map[string]interface{}{"error": err, "message_id": messageID}).Warn("synthesis error")
			if p.onError != nil {
				p.onError(err)
			}
			p.clearIfCurrent(utteranceSeq)
		},
	}

	if err := p.synth.Speak(u); err != nil {
		p.clearIfCurrent(utteranceSeq)
		return err
	}
	return nil
}

// Pause suspends the active utterance. No-op unless one is active and not
// already paused.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.speaking || p.paused {
		return nil
	}
	if err := p.synth.Pause(); err != nil {
		return err
	}
	p.paused = true
	return nil
}

// Resume continues a paused utterance. No-op unless paused.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.speaking || !p.paused {
		return nil
	}
	if err := p.synth.Resume(); err != nil {
		return err
	}
	p.paused = false
	return nil
}

// Stop cancels playback immediately and disables automatic narration for the
// rest of the session.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.autoDisabled = true
	if p.synth != nil {
		_ = p.synth.Cancel()
	}
	p.seq++
	p.speaking = false
	p.paused = false
	p.messageID = ""
	return nil
}

// MaybeAutoSpeak applies the speak-once policy: the latest assistant message
// is narrated automatically at most once, and only while nothing else is
// loading or speaking and automatic playback has not been suppressed by a
// manual stop. Returns true when narration started.
func (p *Player) MaybeAutoSpeak(messageID, text string, isAssistant, isError, loading bool) bool {
	if p.synth == nil || !p.config.AutoNarrate {
		return false
	}

	p.mu.Lock()
	eligible := !loading && isAssistant && !isError &&
		messageID != "" && messageID != p.lastAutoSpokenID &&
		!p.speaking && !p.autoDisabled
	if !eligible {
		p.mu.Unlock()
		return false
	}
	p.lastAutoSpokenID = messageID
	p.mu.Unlock()

	if err := p.Speak(messageID, text); err != nil {
		p.logger.With(map[string]interface{}{"error": err}).Warn("auto narration failed")
		return false
	}
	return true
}

// ResetForSessionSwitch stops playback and clears the speak-once tracking.
// The manual-stop suppression is lifted only when the config says so.
func (p *Player) ResetForSessionSwitch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.synth != nil {
		_ = p.synth.Cancel()
	}
	p.seq++
	p.speaking = false
	p.paused = false
	p.messageID = ""
	p.lastAutoSpokenID = ""
	if p.config.ResetSuppressionOnSwitch {
		p.autoDisabled = false
	}
}

func (p *Player) clearIfCurrent(utteranceSeq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seq != utteranceSeq {
		return
	}
	p.speaking = false
	p.paused = false
	p.messageID = ""
}
