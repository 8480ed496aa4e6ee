package dictation

import "context"

// Result is a single speech-recognition event. Interim results are tentative
// and will be superseded; final results are confirmed transcript segments.
type Result struct {
	Transcript string
	IsFinal    bool
}

// Recognizer is the host speech-recognition capability, running in
// continuous mode with interim results enabled. Events are delivered on the
// typed channels; Done is closed on natural end of speech.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop() error
	Results() <-chan Result
	Errors() <-chan error
	Done() <-chan struct{}
}

// Permission is the outcome of a microphone permission check.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
	PermissionUnknown Permission = "unknown"
)

// PermissionGate is the host microphone permission capability. Query reads
// the current state without prompting; Request may prompt the user and
// resolves to granted or denied.
type PermissionGate interface {
	Query(ctx context.Context) (Permission, error)
	Request(ctx context.Context) (Permission, error)
}
