package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/mlorentedev/icdcoder/internal/prompt"
)

const claudeMaxTokens = 4096

// ClaudeAdapter connects to the Anthropic Messages API.
type ClaudeAdapter struct {
	APIKey string
	Model  string

	client anthropic.Client
}

// NewClaudeAdapter builds the SDK client once; it is shared by all requests.
// SDK retries are disabled so provider errors reach the caller unchanged.
func NewClaudeAdapter(apiKey, model, baseURL string, httpClient *http.Client) *ClaudeAdapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &ClaudeAdapter{
		APIKey: apiKey,
		Model:  model,
		client: anthropic.NewClient(opts...),
	}
}

func (c *ClaudeAdapter) Name() string {
	return fmt.Sprintf("Claude (%s)", c.Model)
}

func (c *ClaudeAdapter) params(p prompt.Prompt) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(c.Model),
		MaxTokens: claudeMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: p.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	}
}

func (c *ClaudeAdapter) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	msg, err := c.client.Messages.New(ctx, c.params(p))
	if err != nil {
		return "", claudeError(err)
	}

	if len(msg.Content) == 0 {
		return "", upstream("claude", 0, errors.New("empty response content"))
	}

	var result strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			result.WriteString(block.Text)
		}
	}
	return result.String(), nil
}

func (c *ClaudeAdapter) Stream(ctx context.Context, p prompt.Prompt) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &claudeStream{
		stream: c.client.Messages.NewStreaming(ctx, c.params(p)),
		cancel: cancel,
	}, nil
}

func (c *ClaudeAdapter) Available() bool {
	return c.APIKey != ""
}

func claudeError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return upstream("claude", apiErr.StatusCode, err)
	}
	return upstream("claude", 0, err)
}

// claudeStream forwards text deltas and skips every other event type.
type claudeStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cancel context.CancelFunc
}

func (s *claudeStream) Next() (string, error) {
	for s.stream.Next() {
		event, ok := s.stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := event.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			return delta.Text, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", claudeError(err)
	}
	return "", io.EOF
}

func (s *claudeStream) Close() error {
	s.cancel()
	return s.stream.Close()
}
