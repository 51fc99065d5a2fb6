package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mlorentedev/icdcoder/internal/prompt"
)

const geminiDefaultModel = "gemini-2.0-flash"

// GeminiAdapter connects to the Google Generative Language API.
type GeminiAdapter struct {
	APIKey string
	Model  string

	client *genai.Client
}

// NewGeminiAdapter dials the API once at startup. Call Close on shutdown.
func NewGeminiAdapter(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiAdapter, error) {
	if model == "" {
		model = geminiDefaultModel
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &GeminiAdapter{APIKey: apiKey, Model: model, client: client}, nil
}

func (g *GeminiAdapter) Name() string {
	return fmt.Sprintf("Gemini (%s)", g.Model)
}

// model returns a per-call handle so concurrent requests never share
// mutable generation settings.
func (g *GeminiAdapter) model(p prompt.Prompt) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.Model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(p.System)}}
	return m
}

func (g *GeminiAdapter) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	resp, err := g.model(p).GenerateContent(ctx, genai.Text(p.User))
	if err != nil {
		return "", geminiError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", upstream("gemini", 0, errors.New("empty response candidates"))
	}
	return responseText(resp), nil
}

func (g *GeminiAdapter) Stream(ctx context.Context, p prompt.Prompt) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &geminiStream{
		iter:   g.model(p).GenerateContentStream(ctx, genai.Text(p.User)),
		cancel: cancel,
	}, nil
}

func (g *GeminiAdapter) Available() bool {
	return g.APIKey != ""
}

// Close releases the underlying client connection.
func (g *GeminiAdapter) Close() error {
	return g.client.Close()
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func geminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return upstream("gemini", apiErr.Code, err)
	}
	return upstream("gemini", 0, err)
}

type geminiStream struct {
	iter   *genai.GenerateContentResponseIterator
	cancel context.CancelFunc
	done   bool
}

func (s *geminiStream) Next() (string, error) {
	for !s.done {
		resp, err := s.iter.Next()
		if errors.Is(err, iterator.Done) {
			s.done = true
			break
		}
		if err != nil {
			s.done = true
			return "", geminiError(err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
	return "", io.EOF
}

func (s *geminiStream) Close() error {
	s.done = true
	s.cancel()
	return nil
}
