package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"chatkit/assistant"
	"chatkit/attachment"
	"chatkit/core"
)

// Config holds the configuration for the OpenAI-backed assistant.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4oMini,
		Temperature: 0.7,
	}
}

// Client implements the assistant.Assistant interface using OpenAI's
// streaming chat completions.
type Client struct {
	client *openai.Client
	config Config
	logger *core.Logger
}

// NewClient creates a Client. Use DefaultConfig() and override only what you
// need.
func NewClient(config Config, logger *core.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger.With(map[string]interface{}{"component": "assistant"}),
	}, nil
}

// Send streams one reply. See assistant.Assistant for the event contract.
func (c *Client) Send(ctx context.Context, req assistant.Request, events chan<- assistant.StreamEvent) error {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    buildMessages(req),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Stream:      true,
	})
	if err != nil {
		classified := classifyError(err)
		events <- assistant.StreamEvent{Type: assistant.StreamErrored, Err: classified}
		return classified
	}
	defer stream.Close()

	events <- assistant.StreamEvent{Type: assistant.StreamStarted}

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			classified := classifyError(err)
			events <- assistant.StreamEvent{Type: assistant.StreamErrored, Err: classified}
			return classified
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		events <- assistant.StreamEvent{Type: assistant.StreamChunk, Chunk: delta}
	}

	events <- assistant.StreamEvent{Type: assistant.StreamCompleted, FullText: full.String()}
	return nil
}

// buildMessages folds history, extracted attachment text, and image payloads
// into the chat completion message list. Images ride as data-URL parts on the
// final user message.
func buildMessages(req assistant.Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+len(req.Attachments)+1)

	for _, turn := range req.History {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	var imageParts []openai.ChatMessagePart
	for _, att := range req.Attachments {
		if att.Status != attachment.StatusDone {
			continue
		}
		if strings.HasPrefix(att.MIMEType, "image/") {
			imageParts = append(imageParts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: "data:" + att.MIMEType + ";base64," + att.Base64Data,
				},
			})
			continue
		}
		if att.ExtractedText != "" {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("Content of the attached file %q:\n%s", att.Name, att.ExtractedText),
			})
		}
	}

	if len(imageParts) > 0 {
		parts := append([]openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: req.Content,
		}}, imageParts...)
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
		return msgs
	}

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Content,
	})
	return msgs
}

// classifyError maps transport errors onto the assistant failure taxonomy.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401:
			return fmt.Errorf("%w: %v", assistant.ErrUnauthenticated, err)
		case apiErr.HTTPStatusCode == 403:
			return fmt.Errorf("%w: %v", assistant.ErrForbidden, err)
		case apiErr.HTTPStatusCode == 413:
			return fmt.Errorf("%w: %v", assistant.ErrContextTooLarge, err)
		case apiErr.HTTPStatusCode == 429:
			return fmt.Errorf("%w: %v", assistant.ErrOverloaded, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", assistant.ErrServer, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", assistant.ErrNetwork, err)
}
