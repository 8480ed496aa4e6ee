package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatkit/assistant/openai"
	"chatkit/attachment"
	"chatkit/audio"
	"chatkit/backendsync"
	"chatkit/config"
	"chatkit/contextstore"
	"chatkit/core"
	"chatkit/dictation"
	"chatkit/narration"
	"chatkit/panel"
	"chatkit/session"
	"chatkit/speech/deepgram"
)

func main() {
	var settingsPath string
	flag.StringVar(&settingsPath, "settings", "", "path to settings.json (defaults to SETTINGS_PATH or ./settings.json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := core.GetLogger()

	if err := godotenv.Load(".env.local"); err != nil {
		logger.With(map[string]interface{}{"error": err}).Warn("No .env.local file found or failed to load")
	}

	settings, err := loadSettings(settingsPath)
	if err != nil {
		logger.With(map[string]interface{}{"error": err}).Error("failed to load settings")
		os.Exit(1)
	}

	controller, client, err := buildSession(settings, logger)
	if err != nil {
		logger.With(map[string]interface{}{"error": err}).Error("failed to build session")
		os.Exit(1)
	}

	sessionID := getEnv("SESSION_ID", "default")
	controller.SetIdentity(os.Getenv("USER_ID"))
	controller.SwitchSession(sessionID)

	if err := client.Connect(ctx, sessionID); err != nil {
		logger.With(map[string]interface{}{"error": err}).Error("failed to connect to backend")
		os.Exit(1)
	}

	go func() {
		client.Wait()
		logger.Info("backend connection lost, shutting down")
		cancel()
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	client.Close()
	time.Sleep(500 * time.Millisecond)
}

// loadSettings reads settings from SETTINGS_JSON_B64 when set, otherwise
// from the settings file.
func loadSettings(path string) (config.Settings, error) {
	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return config.Settings{}, fmt.Errorf("decode SETTINGS_JSON_B64: %w", err)
		}
		core.GetLogger().Info("loading settings from SETTINGS_JSON_B64")
		return config.FromJSON(data)
	}
	if path == "" {
		path = getEnv("SETTINGS_PATH", "./settings.json")
	}
	return config.FromFile(path)
}

// buildSession wires the controller and its collaborators from settings.
// API keys come from the environment.
func buildSession(settings config.Settings, logger *core.Logger) (*session.Controller, *backendsync.Client, error) {
	asstConfig := openai.DefaultConfig()
	asstConfig.APIKey = os.Getenv("OPENAI_API_KEY")
	asstConfig.Model = settings.OpenAI.Model
	asstConfig.BaseURL = settings.OpenAI.BaseURL
	asstConfig.MaxTokens = settings.OpenAI.MaxTokens
	asstConfig.Temperature = settings.OpenAI.Temperature
	asst, err := openai.NewClient(asstConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	client := backendsync.NewClient(backendsync.ClientConfig{
		ConnectURL:        settings.Backend.ConnectURL,
		ClientID:          clientID(settings.Backend.ClientID),
		Version:           "1.0.0",
		HeartbeatInterval: time.Duration(settings.Backend.HeartbeatSeconds) * time.Second,
		AckTimeout:        time.Duration(settings.Backend.AckSeconds) * time.Second,
		Logger:            logger,
	})

	attConfig := attachment.DefaultConfig()
	attConfig.MaxFileSize = int64(settings.Session.MaxAttachmentMB) << 20
	pipeline := attachment.NewPipeline(localFileReader{}, attConfig, logger)

	router := panel.NewRouter(panel.Config{AutoMirror: settings.Session.AutoMirror}, logger)

	contexts := contextstore.NewStore(fileCatalog{
		path: getEnv("CONTEXT_CATALOG_PATH", "./context_catalog.json"),
	}, contextstore.Config{
		CacheTTL: time.Duration(settings.Session.ContextCacheSeconds) * time.Second,
	}, logger)

	narrator := narration.NewPlayer(nil, narration.Config{
		AutoNarrate:              settings.Session.AutoNarrate,
		ResetSuppressionOnSwitch: settings.Session.ResetNarrationSuppressionOnSwitch,
	}, logger)

	controller := session.NewController(session.Deps{
		Assistant:   asst,
		Backend:     client,
		Contexts:    contexts,
		Attachments: pipeline,
		Narrator:    narrator,
		Router:      router,
	}, session.Config{
		HistoryLimit: settings.Session.HistoryLimit,
	}, logger).WithNoticeFunc(func(text string) {
		logger.With(map[string]interface{}{"notice": text}).Info("user notice")
	})

	dgConfig := deepgram.DefaultConfig()
	dgConfig.APIKey = os.Getenv("DEEPGRAM_API_KEY")
	dgConfig.Model = settings.Deepgram.Model
	dgConfig.Language = settings.Deepgram.Language
	dgConfig.EndpointingMs = settings.Deepgram.EndpointingMs
	dgConfig.SampleRate = settings.Deepgram.SampleRate
	dgConfig.Encoding = audio.Encoding(settings.Deepgram.Encoding)

	if dgConfig.APIKey != "" {
		recognizer := deepgram.NewRecognizer(dgConfig, logger)
		reconciler := dictation.NewReconciler(recognizer, nil, controller, dictation.Config{
			ThrottleInterval: time.Duration(settings.Session.InterimThrottleMs) * time.Millisecond,
		}, logger)
		controller.SetDictation(reconciler)
	} else {
		logger.Warn("DEEPGRAM_API_KEY not set, dictation disabled")
	}

	client.OnMessagesUpdate = controller.ApplyMessages
	client.OnLoading = controller.SetLoading
	client.OnHasMore = controller.SetHasMore

	return controller, client, nil
}

// fileCatalog resolves context items against a JSON manifest on disk:
// {"documents": [{"id": "...", "title": "..."}], "notes": [...]}.
type fileCatalog struct {
	path string
}

type catalogEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (f fileCatalog) load() (docs, notes []catalogEntry, err error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, nil, err
	}
	var manifest struct {
		Documents []catalogEntry `json:"documents"`
		Notes     []catalogEntry `json:"notes"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return manifest.Documents, manifest.Notes, nil
}

func (f fileCatalog) ListDocuments(ctx context.Context) ([]contextstore.Item, error) {
	docs, _, err := f.load()
	if err != nil {
		return nil, err
	}
	items := make([]contextstore.Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, contextstore.Item{ID: d.ID, Title: d.Title, Kind: contextstore.RefDocument})
	}
	return items, nil
}

func (f fileCatalog) ListNotes(ctx context.Context) ([]contextstore.Item, error) {
	_, notes, err := f.load()
	if err != nil {
		return nil, err
	}
	items := make([]contextstore.Item, 0, len(notes))
	for _, n := range notes {
		items = append(items, contextstore.Item{ID: n.ID, Title: n.Title, Kind: contextstore.RefNote})
	}
	return items, nil
}

// localFileReader reads attachment sources from the local filesystem, using
// the source Ref as the path.
type localFileReader struct{}

func (localFileReader) ReadBase64(ctx context.Context, f attachment.SourceFile) (string, error) {
	data, err := os.ReadFile(f.Ref)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (localFileReader) ReadText(ctx context.Context, f attachment.SourceFile) (string, error) {
	data, err := os.ReadFile(f.Ref)
	if err != nil {
		return "", err
	}
	if !strings.Contains(f.MIMEType, "text") && strings.ContainsRune(string(data), 0) {
		return "", fmt.Errorf("binary content in %s", f.Name)
	}
	return string(data), nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func clientID(configured string) string {
	if configured != "" {
		return configured
	}
	hostname, _ := os.Hostname()
	return hostname
}
