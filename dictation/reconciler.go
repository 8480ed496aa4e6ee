package dictation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chatkit/core"
)

// State is the reconciler's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateListening
)

var (
	ErrPermissionDenied = errors.New("dictation: microphone permission denied")
	ErrUnsupported      = errors.New("dictation: speech recognition is not available")
)

// ComposeBuffer is the single-owner compose text the reconciler merges
// transcripts into. The session controller implements it; the reconciler
// never touches any other controller state.
type ComposeBuffer interface {
	ComposeText() string
	SetComposeText(text string)
}

// Config configures the reconciler.
type Config struct {
	// ThrottleInterval bounds how often rapid interim results are applied to
	// the compose buffer. Final results always bypass the throttle.
	ThrottleInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{ThrottleInterval: 150 * time.Millisecond}
}

// Reconciler consumes the recognizer's interim/final transcript stream and
// merges it into the compose buffer without duplication. The invariant: the
// last interim text it inserted is always a suffix of the buffer, so it can
// be stripped exactly before the next segment is appended. User-typed text is
// never stripped, even when it happens to match an interim transcript.
type Reconciler struct {
	recognizer Recognizer
	gate       PermissionGate
	buffer     ComposeBuffer
	config     Config
	logger     *core.Logger
	onError    func(error)

	mu          sync.Mutex
	state       State
	lastInterim string
	permission  Permission
	permKnown   bool
	cancel      context.CancelFunc

	throttle *throttle
}

// NewReconciler creates a Reconciler. Use DefaultConfig() and override only
// what you need.
func NewReconciler(recognizer Recognizer, gate PermissionGate, buffer ComposeBuffer, config Config, logger *core.Logger) *Reconciler {
	if logger == nil {
		logger = core.GetLogger()
	}
	if config.ThrottleInterval <= 0 {
		config.ThrottleInterval = DefaultConfig().ThrottleInterval
	}
	return &Reconciler{
		recognizer: recognizer,
		gate:       gate,
		buffer:     buffer,
		config:     config,
		logger:     logger.With(map[string]interface{}{"component": "dictation"}),
		throttle:   newThrottle(config.ThrottleInterval),
	}
}

// WithErrorFunc registers a callback for recognition errors that should be
// surfaced to the user. Returns the reconciler to allow chaining.
func (r *Reconciler) WithErrorFunc(fn func(error)) *Reconciler {
	r.onError = fn
	return r
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastInterim returns the interim suffix currently tracked, empty when none.
func (r *Reconciler) LastInterim() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastInterim
}

// Start checks microphone permission (prompting at most once per reconciler
// lifetime; the outcome is cached) and begins consuming recognition events.
// Calling Start while already listening is a no-op.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.recognizer == nil {
		return ErrUnsupported
	}

	r.mu.Lock()
	if r.state == StateListening {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.ensurePermission(ctx); err != nil {
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	if err := r.recognizer.Start(sessionCtx); err != nil {
		cancel()
		return err
	}

	r.mu.Lock()
	r.state = StateListening
	r.cancel = cancel
	r.mu.Unlock()

	go r.eventLoop(sessionCtx)
	return nil
}

// Stop ends the recognition session. Any pending interim apply is flushed
// first so no dictated text is lost; the interim suffix tracking is then
// cleared and state returns to Idle.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if r.state != StateListening {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	err := r.recognizer.Stop()
	r.finish()
	return err
}

func (r *Reconciler) ensurePermission(ctx context.Context) error {
	r.mu.Lock()
	if r.permKnown {
		perm := r.permission
		r.mu.Unlock()
		if perm != PermissionGranted {
			return ErrPermissionDenied
		}
		return nil
	}
	r.mu.Unlock()

	if r.gate == nil {
		return nil
	}

	perm, err := r.gate.Query(ctx)
	if err != nil {
		return err
	}
	if perm == PermissionPrompt || perm == PermissionUnknown {
		perm, err = r.gate.Request(ctx)
		if err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.permission = perm
	r.permKnown = true
	r.mu.Unlock()

	if perm != PermissionGranted {
		return ErrPermissionDenied
	}
	return nil
}

func (r *Reconciler) eventLoop(ctx context.Context) {
	for {
		select {
		case res, ok := <-r.recognizer.Results():
			if !ok {
				r.finish()
				return
			}
			r.onResult(res.Transcript, res.IsFinal)
		case err, ok := <-r.recognizer.Errors():
			if !ok {
				r.finish()
				return
			}
			r.logger.With(map[string]interface{}{"error": err}).Warn("recognition error")
			if r.onError != nil {
				r.onError(err)
			}
			// Errors terminate the session; never silently retried.
			r.finish()
			return
		case <-r.recognizer.Done():
			r.finish()
			return
		case <-ctx.Done():
			r.finish()
			return
		}
	}
}

// onResult applies a recognition event in arrival order. Interim results go
// through the throttled path; final results bypass the throttle, cancelling
// any pending interim apply they supersede.
func (r *Reconciler) onResult(text string, isFinal bool) {
	if isFinal {
		r.throttle.Cancel()
		r.applySegment(text, true)
		return
	}
	r.throttle.Do(func() {
		r.applySegment(text, false)
	})
}

func (r *Reconciler) applySegment(text string, isFinal bool) {
	r.mu.Lock()
	if r.state != StateListening {
		r.mu.Unlock()
		return
	}
	base := r.stripLastInterimLocked()
	if isFinal {
		r.lastInterim = ""
	} else {
		r.lastInterim = text
	}
	r.mu.Unlock()

	r.buffer.SetComposeText(joinSegments(base, text))
}

// stripLastInterimLocked removes the interim suffix the reconciler itself
// appended. Suffix removal (rather than substring replacement) guarantees
// user-typed text that happens to match an interim is left alone.
func (r *Reconciler) stripLastInterimLocked() string {
	text := r.buffer.ComposeText()
	if r.lastInterim != "" && strings.HasSuffix(text, r.lastInterim) {
		text = text[:len(text)-len(r.lastInterim)]
	}
	return strings.TrimSpace(text)
}

// finish flushes any pending interim apply, clears suffix tracking, and
// returns to Idle.
func (r *Reconciler) finish() {
	r.throttle.Flush()

	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	r.state = StateIdle
	r.lastInterim = ""
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func joinSegments(base, text string) string {
	if base == "" {
		return text
	}
	if text == "" {
		return base
	}
	return base + " " + text
}
