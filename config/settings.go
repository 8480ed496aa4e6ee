package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// Settings is the top-level configuration loaded from settings.json. API
// keys never live here; they come from the environment.
type Settings struct {
	Backend  BackendSettings  `json:"backend" validate:"required"`
	OpenAI   OpenAISettings   `json:"openai"`
	Deepgram DeepgramSettings `json:"deepgram"`
	Session  SessionSettings  `json:"session"`
}

// BackendSettings configures the session backend connection.
type BackendSettings struct {
	// ConnectURL is the WebSocket URL of the session backend
	// (e.g. ws://backend:8080/ws/session).
	ConnectURL       string `json:"connect_url" validate:"required,uri"`
	ClientID         string `json:"client_id,omitempty"`
	HeartbeatSeconds int    `json:"heartbeat_seconds,omitempty" validate:"gte=0"`
	AckSeconds       int    `json:"ack_seconds,omitempty" validate:"gte=0"`
}

// OpenAISettings configures the assistant model.
type OpenAISettings struct {
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" validate:"gte=0"`
	Temperature float32 `json:"temperature,omitempty" validate:"gte=0,lte=2"`
}

// DeepgramSettings configures streaming speech recognition.
type DeepgramSettings struct {
	Model         string `json:"model,omitempty"`
	Language      string `json:"language,omitempty"`
	EndpointingMs int    `json:"endpointing_ms,omitempty" validate:"gte=0"`
	SampleRate    int    `json:"sample_rate,omitempty" validate:"gte=0"`
	// Encoding of the captured audio: linear16, ulaw, or alaw.
	Encoding string `json:"encoding,omitempty" validate:"omitempty,oneof=linear16 ulaw alaw"`
}

// SessionSettings tunes the session controller and its collaborators.
type SessionSettings struct {
	AutoNarrate bool `json:"auto_narrate"`
	// ResetNarrationSuppressionOnSwitch lifts a manual narration stop when
	// the user switches sessions.
	ResetNarrationSuppressionOnSwitch bool `json:"reset_narration_suppression_on_switch"`
	AutoMirror                        bool `json:"auto_mirror"`
	MaxAttachmentMB                   int  `json:"max_attachment_mb" validate:"gt=0,lte=100"`
	InterimThrottleMs                 int  `json:"interim_throttle_ms" validate:"gte=0"`
	HistoryLimit                      int  `json:"history_limit" validate:"gte=0"`
	ContextCacheSeconds               int  `json:"context_cache_seconds" validate:"gte=0"`
}

// DefaultSettings returns settings pre-filled with component defaults.
func DefaultSettings() Settings {
	return Settings{
		OpenAI: OpenAISettings{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
		},
		Deepgram: DeepgramSettings{
			Model:         "nova-2",
			EndpointingMs: 300,
			SampleRate:    16000,
			Encoding:      "linear16",
		},
		Session: SessionSettings{
			AutoNarrate:                       false,
			ResetNarrationSuppressionOnSwitch: true,
			AutoMirror:                        true,
			MaxAttachmentMB:                   25,
			InterimThrottleMs:                 150,
			HistoryLimit:                      20,
			ContextCacheSeconds:               300,
		},
	}
}

// FromJSON parses a JSON blob into Settings. Absent fields keep their
// defaults; the result is validated.
func FromJSON(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// FromFile loads Settings from a JSON file.
func FromFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: read %s: %w", path, err)
	}
	return FromJSON(data)
}

var validate = validator.New()

// Validate checks the settings against their constraints.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}
