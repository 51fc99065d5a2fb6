package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mlorentedev/icdcoder/internal/prompt"
)

// LlamaCppAdapter connects to llama-server's OpenAI-compatible /v1/chat/completions.
type LlamaCppAdapter struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type llamaCppMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llamaCppChatRequest struct {
	Model    string            `json:"model"`
	Messages []llamaCppMessage `json:"messages"`
	Stream   bool              `json:"stream,omitempty"`
}

type llamaCppChoice struct {
	Message llamaCppMessage `json:"message"`
	Delta   llamaCppMessage `json:"delta"`
}

type llamaCppChatResponse struct {
	Choices []llamaCppChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (l *LlamaCppAdapter) Name() string {
	return fmt.Sprintf("llama.cpp (%s)", l.Model)
}

func (l *LlamaCppAdapter) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	resp, err := l.post(ctx, p, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp llamaCppChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", upstream("llamacpp", 0, fmt.Errorf("decode response: %w", err))
	}

	if len(chatResp.Choices) == 0 {
		return "", upstream("llamacpp", 0, errors.New("empty response choices"))
	}

	return chatResp.Choices[0].Message.Content, nil
}

func (l *LlamaCppAdapter) Stream(ctx context.Context, p prompt.Prompt) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	resp, err := l.post(ctx, p, true)
	if err != nil {
		cancel()
		return nil, err
	}
	return newLineStream("llamacpp", resp.Body, cancel, decodeSSELine), nil
}

// decodeSSELine handles one line of an OpenAI-style server-sent event stream.
func decodeSSELine(line []byte) (string, bool, error) {
	data, ok := bytes.CutPrefix(bytes.TrimSpace(line), []byte("data:"))
	if !ok {
		return "", false, nil
	}
	data = bytes.TrimSpace(data)
	if string(data) == "[DONE]" {
		return "", true, nil
	}

	var chunk llamaCppChatResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false, fmt.Errorf("decode chunk: %w", err)
	}
	if chunk.Error != nil {
		return "", false, errors.New(chunk.Error.Message)
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}

func (l *LlamaCppAdapter) post(ctx context.Context, p prompt.Prompt, stream bool) (*http.Response, error) {
	reqBody := llamaCppChatRequest{
		Model: l.Model,
		Messages: []llamaCppMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Stream: stream,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: marshal request: %w", err)
	}

	url := strings.TrimRight(l.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llamacpp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, upstream("llamacpp", 0, fmt.Errorf("request: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, upstream("llamacpp", resp.StatusCode, errors.New("unexpected status"))
	}
	return resp, nil
}

func (l *LlamaCppAdapter) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(l.BaseURL, "/")+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
