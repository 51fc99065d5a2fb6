package adapter

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/mlorentedev/icdcoder/internal/prompt"
)

const defaultMockChunkSize = 16

// MockAdapter returns simulated responses with a configurable delay.
// Used for development and testing without a real LLM backend.
//
// With Reply unset it echoes the user turn of the prompt.
type MockAdapter struct {
	Delay     time.Duration
	Reply     string
	ChunkSize int
	Err       error

	calls atomic.Int64
}

func (m *MockAdapter) Name() string { return "Mock" }

func (m *MockAdapter) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	s, err := m.Stream(ctx, p)
	if err != nil {
		return "", err
	}
	return Collect(s)
}

func (m *MockAdapter) Stream(ctx context.Context, p prompt.Prompt) (Stream, error) {
	m.calls.Add(1)

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, upstream("mock", 0, ctx.Err())
		}
	}
	if m.Err != nil {
		return nil, upstream("mock", 0, m.Err)
	}

	text := m.Reply
	if text == "" {
		text = p.User
	}
	return &mockStream{ctx: ctx, chunks: splitChunks(text, m.chunkSize())}, nil
}

func (m *MockAdapter) Available() bool { return true }

// Calls reports how many times the model was invoked.
func (m *MockAdapter) Calls() int64 { return m.calls.Load() }

func (m *MockAdapter) chunkSize() int {
	if m.ChunkSize > 0 {
		return m.ChunkSize
	}
	return defaultMockChunkSize
}

// splitChunks cuts s into pieces of about size bytes without splitting runes.
func splitChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n := size
		if n >= len(s) {
			chunks = append(chunks, s)
			break
		}
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		if n == 0 {
			_, n = utf8.DecodeRuneInString(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}

type mockStream struct {
	ctx    context.Context
	chunks []string
	closed bool
}

func (s *mockStream) Next() (string, error) {
	if s.closed || len(s.chunks) == 0 {
		return "", io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return "", upstream("mock", 0, fmt.Errorf("stream: %w", err))
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}
