package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatkit/audio"
	"chatkit/core"
	"chatkit/dictation"
)

// Config holds configuration options for the Deepgram streaming recognizer.
type Config struct {
	APIKey         string         `json:"api_key"`
	BaseURL        string         `json:"base_url"`
	Model          string         `json:"model"`
	Language       string         `json:"language"`
	InterimResults bool           `json:"interim_results"`
	Punctuate      bool           `json:"punctuate"`
	SmartFormat    bool           `json:"smart_format"`
	Numerals       bool           `json:"numerals"`
	Dictation      bool           `json:"dictation"`
	EndpointingMs  int            `json:"endpointing_ms"`
	SampleRate     int            `json:"sample_rate"`
	Encoding       audio.Encoding `json:"encoding"`

	KeepAliveInterval time.Duration `json:"-"`
}

// DefaultConfig returns a configuration tuned for continuous dictation.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "wss://api.deepgram.com",
		Model:             "nova-2",
		InterimResults:    true,
		Punctuate:         true,
		SmartFormat:       true,
		Dictation:         true,
		SampleRate:        16000,
		Encoding:          audio.EncodingLinear16,
		KeepAliveInterval: 10 * time.Second,
	}
}

// Recognizer streams microphone audio to Deepgram's listen endpoint and
// implements dictation.Recognizer. One transcription session per Start/Stop
// cycle; the event channels are replaced on every Start.
type Recognizer struct {
	config Config
	logger *core.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	cancel  context.CancelFunc

	results chan dictation.Result
	errs    chan error
	done    chan struct{}
}

// NewRecognizer creates a Deepgram recognizer.
func NewRecognizer(config Config, logger *core.Logger) *Recognizer {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.SampleRate == 0 {
		config.SampleRate = DefaultConfig().SampleRate
	}
	if config.KeepAliveInterval == 0 {
		config.KeepAliveInterval = DefaultConfig().KeepAliveInterval
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Recognizer{
		config: config,
		logger: logger.With(map[string]interface{}{"component": "deepgram"}),
	}
}

// Start opens a transcription session.
func (r *Recognizer) Start(ctx context.Context) error {
	if r.config.APIKey == "" {
		return fmt.Errorf("deepgram: API key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	wsURL, err := r.buildListenURL()
	if err != nil {
		return fmt.Errorf("deepgram: build listen URL: %w", err)
	}

	headers := map[string][]string{
		"Authorization": {"Token " + r.config.APIKey},
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("deepgram: connect: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	r.conn = conn
	r.started = true
	r.cancel = cancel
	r.results = make(chan dictation.Result, 16)
	r.errs = make(chan error, 1)
	r.done = make(chan struct{})

	go r.readLoop(conn, r.results, r.errs, r.done)
	go r.keepAlive(sctx, conn)

	return nil
}

// Stop ends the session. Deepgram flushes any pending transcript before
// honoring CloseStream, so late final results still arrive on Results.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	r.cancel()

	r.writeControl(r.conn, "Finalize")
	r.writeControl(r.conn, "CloseStream")
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Results returns the transcript event channel for the current session.
func (r *Recognizer) Results() <-chan dictation.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results
}

// Errors returns the fatal error channel for the current session.
func (r *Recognizer) Errors() <-chan error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs
}

// Done is closed when the session ends.
func (r *Recognizer) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// WriteAudio sends one captured audio chunk. Telephony captures are
// transcoded to linear16 first, which is the encoding the session was
// opened with.
func (r *Recognizer) WriteAudio(data []byte) error {
	pcm, err := audio.ToLinear16(data, r.config.Encoding)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.conn == nil {
		return fmt.Errorf("deepgram: no active session")
	}
	return r.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Finalize asks Deepgram to flush buffered audio into a final result.
func (r *Recognizer) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.conn == nil {
		return fmt.Errorf("deepgram: no active session")
	}
	return r.writeControl(r.conn, "Finalize")
}

func (r *Recognizer) writeControl(conn *websocket.Conn, msgType string) error {
	msg, err := json.Marshal(listenControl{Type: msgType})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (r *Recognizer) buildListenURL() (string, error) {
	base, err := url.Parse(r.config.BaseURL + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := base.Query()
	if r.config.Model != "" {
		q.Set("model", r.config.Model)
	}
	if r.config.Language != "" {
		q.Set("language", r.config.Language)
	}
	q.Set("interim_results", strconv.FormatBool(r.config.InterimResults))
	q.Set("punctuate", strconv.FormatBool(r.config.Punctuate))
	q.Set("smart_format", strconv.FormatBool(r.config.SmartFormat))
	q.Set("numerals", strconv.FormatBool(r.config.Numerals))
	q.Set("dictation", strconv.FormatBool(r.config.Dictation))
	if r.config.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(r.config.EndpointingMs))
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.config.SampleRate))
	q.Set("channels", "1")

	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (r *Recognizer) readLoop(conn *websocket.Conn, results chan<- dictation.Result, errs chan<- error, done chan struct{}) {
	defer close(done)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			r.mu.Lock()
			stopped := !r.started
			r.mu.Unlock()
			if !stopped {
				r.logger.With(map[string]interface{}{"error": err}).Warn("deepgram read failed")
				select {
				case errs <- fmt.Errorf("deepgram: session error: %w", err):
				default:
				}
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		r.handleMessage(message, results)
	}
}

func (r *Recognizer) handleMessage(message []byte, results chan<- dictation.Result) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		r.logger.With(map[string]interface{}{"error": err}).Debug("unparseable message from deepgram")
		return
	}

	switch base.Type {
	case "Results":
		var result listenResults
		if err := json.Unmarshal(message, &result); err != nil {
			r.logger.With(map[string]interface{}{"error": err}).Debug("unparseable results from deepgram")
			return
		}
		if len(result.Channel.Alternatives) == 0 {
			return
		}
		transcript := result.Channel.Alternatives[0].Transcript
		if transcript == "" {
			return
		}
		select {
		case results <- dictation.Result{
			Transcript: transcript,
			IsFinal:    result.IsFinal || result.SpeechFinal || result.FromFinalize,
		}:
		default:
			r.logger.Warn("dropping transcript, consumer not keeping up")
		}

	case "Metadata", "UtteranceEnd", "SpeechStarted":
		// informational

	default:
		r.logger.With(map[string]interface{}{"type": base.Type}).Debug("unknown message type from deepgram")
	}
}

func (r *Recognizer) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(r.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			active := r.started && r.conn == conn
			if active {
				r.writeControl(conn, "KeepAlive")
			}
			r.mu.Unlock()
			if !active {
				return
			}
		}
	}
}

// Wire messages for the listen v1 endpoint.

type listenControl struct {
	Type string `json:"type"`
}

type listenResults struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize,omitempty"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}
