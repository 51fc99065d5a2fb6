package adapter

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// Stream is a lazy, single-use sequence of generated text.
//
// Next returns the next non-empty chunk, or io.EOF once generation has
// finished. Close cancels the upstream call and releases its connection; it
// is safe to call at any point and more than once.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Collect drains s and closes it. The result equals what Complete would
// return for the same model output.
func Collect(s Stream) (string, error) {
	defer s.Close()

	var b strings.Builder
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(chunk)
	}
}

// lineDecoder parses one line of a streamed HTTP body. done reports the
// provider's end-of-stream marker.
type lineDecoder func(line []byte) (text string, done bool, err error)

const maxStreamLine = 1 << 20

// lineStream reads a newline-delimited streaming body (NDJSON or SSE).
type lineStream struct {
	provider string
	body     io.ReadCloser
	cancel   context.CancelFunc
	scanner  *bufio.Scanner
	decode   lineDecoder
	done     bool
}

func newLineStream(provider string, body io.ReadCloser, cancel context.CancelFunc, decode lineDecoder) *lineStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	return &lineStream{
		provider: provider,
		body:     body,
		cancel:   cancel,
		scanner:  sc,
		decode:   decode,
	}
}

func (s *lineStream) Next() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return "", upstream(s.provider, 0, err)
			}
			return "", io.EOF
		}
		text, done, err := s.decode(s.scanner.Bytes())
		if err != nil {
			s.done = true
			return "", upstream(s.provider, 0, err)
		}
		if done {
			s.done = true
		}
		if text != "" {
			return text, nil
		}
	}
}

func (s *lineStream) Close() error {
	s.done = true
	s.cancel()
	return s.body.Close()
}
