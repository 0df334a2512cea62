// ABOUTME: Streaming text generation over an OpenAI-compatible chat completions API
// ABOUTME: Turns conversation history plus a prompt into a channel of text fragments

package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/parley/internal/store"
)

// Chunk is one step of a generation stream. The final chunk has Done set, or
// Err set when the stream failed part way.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Source generates an answer to prompt, given the conversation so far
type Source interface {
	Generate(ctx context.Context, history []store.Turn, prompt string) (<-chan Chunk, error)
}

// Config configures an OpenAI client
type Config struct {
	APIKey  string
	BaseURL string // empty means the OpenAI default
	Model   string
	Timeout time.Duration
}

// OpenAI streams chat completions
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAI creates an OpenAI source
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "generation"),
	}
}

// Generate starts a streaming completion. Errors opening the stream are
// returned directly; errors after that arrive as the last Chunk.
// The channel is closed after the final chunk.
func (o *OpenAI) Generate(ctx context.Context, history []store.Turn, prompt string) (<-chan Chunk, error) {
	cancel := context.CancelFunc(func() {})
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
	}

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: buildMessages(history, prompt),
		Stream:   true,
	}

	o.logger.Debug("starting stream", "model", o.model, "messages", len(req.Messages))
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream failed: %w", err)
	}

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer func() { _ = stream.Close() }()

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		fragments := 0
		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				o.logger.Debug("stream completed", "fragments", fragments)
				send(Chunk{Done: true})
				return
			}
			if err != nil {
				o.logger.Warn("stream receive failed", "fragments", fragments, "error", err)
				send(Chunk{Err: fmt.Errorf("stream recv failed: %w", err)})
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			delta := response.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			fragments++
			if !send(Chunk{Text: delta}) {
				return
			}
		}
	}()
	return out, nil
}

// buildMessages converts stored turns into chat messages. Turns with no text
// (a model turn that only carries a video) are skipped.
func buildMessages(history []store.Turn, prompt string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	for _, t := range history {
		text := strings.Join(t.TextParts, "\n")
		if text == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if t.Role == store.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})
}
