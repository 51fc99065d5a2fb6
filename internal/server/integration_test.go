package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mlorentedev/icdcoder/internal/adapter"
	"github.com/mlorentedev/icdcoder/internal/config"
	"github.com/mlorentedev/icdcoder/internal/handler"
	"github.com/mlorentedev/icdcoder/internal/prompt"
)

const codingReply = "<h3>E11.42</h3><p>Type 2 diabetes mellitus with diabetic polyneuropathy</p>"

// hangingAdapter sends one chunk and then blocks until its context ends,
// reporting the cancellation on cancelled.
type hangingAdapter struct {
	cancelled chan struct{}
}

func (h *hangingAdapter) Name() string    { return "hanging" }
func (h *hangingAdapter) Available() bool { return true }

func (h *hangingAdapter) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	s, _ := h.Stream(ctx, p)
	return adapter.Collect(s)
}

func (h *hangingAdapter) Stream(ctx context.Context, p prompt.Prompt) (adapter.Stream, error) {
	return &hangingStream{ctx: ctx, cancelled: h.cancelled}, nil
}

type hangingStream struct {
	ctx       context.Context
	cancelled chan struct{}
	sent      bool
}

func (s *hangingStream) Next() (string, error) {
	if !s.sent {
		s.sent = true
		return "<h3>", nil
	}
	<-s.ctx.Done()
	close(s.cancelled)
	return "", s.ctx.Err()
}

func (s *hangingStream) Close() error { return nil }

// brokenAdapter emits a partial answer and then fails.
type brokenAdapter struct{}

func (brokenAdapter) Name() string    { return "broken" }
func (brokenAdapter) Available() bool { return true }

func (b brokenAdapter) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	s, _ := b.Stream(ctx, p)
	return adapter.Collect(s)
}

func (brokenAdapter) Stream(ctx context.Context, p prompt.Prompt) (adapter.Stream, error) {
	return &brokenStream{}, nil
}

type brokenStream struct{ n int }

func (s *brokenStream) Next() (string, error) {
	s.n++
	if s.n == 1 {
		return "<h3>E11", nil
	}
	return "", &adapter.UpstreamError{Provider: "gemini", Err: errors.New("connection reset by peer")}
}

func (s *brokenStream) Close() error { return nil }

func testDeps(adapters map[string]adapter.LLMAdapter, defaultModel string) Deps {
	models := make([]adapter.ModelInfo, 0, len(adapters))
	for id := range adapters {
		models = append(models, adapter.ModelInfo{ID: id, Name: id, Provider: "test"})
	}
	return Deps{
		Adapters:     adapters,
		Models:       models,
		DefaultModel: defaultModel,
		Composer:     prompt.Default(),
		Feedback: handler.FeedbackOptions{
			DefaultMode:      config.ModeStream,
			MaxFeedbackChars: 10000,
			UpstreamTimeout:  5 * time.Second,
		},
		RateLimit:    0,
		MaxBodyBytes: 64 * 1024,
		CORSOrigin:   "*",
	}
}

func newTestServer(t *testing.T, d Deps) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(SetupMux(d))
	t.Cleanup(ts.Close)
	return ts
}

func defaultTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	adapters := map[string]adapter.LLMAdapter{"mock": &adapter.MockAdapter{Reply: codingReply, ChunkSize: 8}}
	return newTestServer(t, testDeps(adapters, "mock"))
}

func postFeedback(t *testing.T, url, mode, body string) *http.Response {
	t.Helper()
	target := url + "/api/process-feedback"
	if mode != "" {
		target += "?mode=" + mode
	}
	resp, err := http.Post(target, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestIntegration_BufferedFullFlow(t *testing.T) {
	ts := defaultTestServer(t)

	resp := postFeedback(t, ts.URL, "buffered", `{"feedback":"type 2 diabetes with neuropathy"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS Allow-Origin: got %q, want %q", got, "*")
	}
	if id := resp.Header.Get("X-Request-ID"); len(id) != 32 {
		t.Errorf("X-Request-ID: got %q, want 32 hex chars", id)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Response != codingReply {
		t.Errorf("response: got %q, want %q", out.Response, codingReply)
	}
}

func TestIntegration_StreamMatchesBuffered(t *testing.T) {
	ts := defaultTestServer(t)
	body := `{"feedback":"type 2 diabetes with neuropathy"}`

	streamResp := postFeedback(t, ts.URL, "stream", body)
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("stream status: got %d", streamResp.StatusCode)
	}
	if ct := streamResp.Header.Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("stream Content-Type: got %q", ct)
	}
	streamed := readBody(t, streamResp)

	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal([]byte(readBody(t, postFeedback(t, ts.URL, "buffered", body))), &out); err != nil {
		t.Fatalf("decode buffered: %v", err)
	}

	if streamed != out.Response {
		t.Errorf("stream %q != buffered %q", streamed, out.Response)
	}
}

func TestIntegration_HealthFullFlow(t *testing.T) {
	ts := defaultTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(body, `"status":"healthy"`) {
		t.Errorf("body: got %s", body)
	}
}

func TestIntegration_ModelsFullFlow(t *testing.T) {
	ts := defaultTestServer(t)

	resp, err := http.Get(ts.URL + "/api/models")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	var models []struct {
		ID        string `json:"id"`
		Default   bool   `json:"default"`
		Available bool   `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(models) != 1 || models[0].ID != "mock" || !models[0].Default || !models[0].Available {
		t.Errorf("models: got %+v", models)
	}
}

func TestIntegration_OptionsPreflightCORS(t *testing.T) {
	ts := defaultTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/process-feedback", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("Allow-Headers: got %q, want %q", got, "Content-Type")
	}
}

func TestIntegration_CORSScope(t *testing.T) {
	adapters := map[string]adapter.LLMAdapter{"mock": &adapter.MockAdapter{}}

	tests := []struct {
		name     string
		allRoute bool
		want     string
	}{
		{"api only", false, ""},
		{"all routes", true, "*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDeps(adapters, "mock")
			d.CORSAllRoutes = tt.allRoute
			ts := newTestServer(t, d)

			resp, err := http.Get(ts.URL + "/metrics")
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("/metrics Allow-Origin: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIntegration_UnknownRoute(t *testing.T) {
	ts := defaultTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestIntegration_ConcurrentRequests(t *testing.T) {
	ts := defaultTestServer(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mode := config.ModeStream
			if i%2 == 0 {
				mode = config.ModeBuffered
			}
			body, _ := json.Marshal(map[string]string{"feedback": fmt.Sprintf("note %d", i)})
			resp, err := http.Post(ts.URL+"/api/process-feedback?mode="+mode, "application/json", bytes.NewReader(body))
			if err != nil {
				errs <- fmt.Errorf("request %d: %w", i, err)
				return
			}
			defer resp.Body.Close()
			b, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				errs <- fmt.Errorf("request %d: status %d", i, resp.StatusCode)
				return
			}
			if !strings.Contains(string(b), "E11.42") {
				errs <- fmt.Errorf("request %d: body %q", i, b)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestIntegration_UpstreamErrorThenRecovery(t *testing.T) {
	failing := &adapter.MockAdapter{Err: errors.New("API key not valid")}
	adapters := map[string]adapter.LLMAdapter{
		"failing": failing,
		"mock":    &adapter.MockAdapter{Reply: codingReply},
	}
	ts := newTestServer(t, testDeps(adapters, "mock"))

	resp := postFeedback(t, ts.URL, "", `{"feedback":"asthma","model_id":"failing"}`)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
	if !strings.Contains(body, "An error occurred: ") || !strings.Contains(body, "API key not valid") {
		t.Errorf("body: got %s", body)
	}

	resp = postFeedback(t, ts.URL, "", `{"feedback":"asthma"}`)
	if got := readBody(t, resp); resp.StatusCode != http.StatusOK || got != codingReply {
		t.Errorf("follow-up: status %d body %q", resp.StatusCode, got)
	}
}

func TestIntegration_MidStreamFailureCutsConnection(t *testing.T) {
	adapters := map[string]adapter.LLMAdapter{"broken": brokenAdapter{}}
	ts := newTestServer(t, testDeps(adapters, "broken"))

	resp := postFeedback(t, ts.URL, "stream", `{"feedback":"dm2"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	b, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Error("expected a truncated body error, got clean EOF")
	}
	if string(b) != "<h3>E11" {
		t.Errorf("partial body: got %q, want %q", b, "<h3>E11")
	}

	// The server keeps serving after an aborted stream.
	hr, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("health after abort: %v", err)
	}
	hr.Body.Close()
	if hr.StatusCode != http.StatusOK {
		t.Errorf("health after abort: got %d", hr.StatusCode)
	}
}

func TestIntegration_ClientDisconnectCancelsUpstream(t *testing.T) {
	hang := &hangingAdapter{cancelled: make(chan struct{})}
	adapters := map[string]adapter.LLMAdapter{"hang": hang}
	ts := newTestServer(t, testDeps(adapters, "hang"))

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/process-feedback?mode=stream", strings.NewReader(`{"feedback":"asthma"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	first := make([]byte, 4)
	if _, err := io.ReadFull(resp.Body, first); err != nil {
		t.Fatalf("read first chunk: %v", err)
	}
	cancel()
	resp.Body.Close()

	select {
	case <-hang.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream call not cancelled after client disconnect")
	}
}

func TestIntegration_RateLimitSparesHealth(t *testing.T) {
	adapters := map[string]adapter.LLMAdapter{"mock": &adapter.MockAdapter{}}
	d := testDeps(adapters, "mock")
	d.RateLimit = 3
	ts := newTestServer(t, d)

	for i := 0; i < 4; i++ {
		resp := postFeedback(t, ts.URL, "buffered", `{"feedback":"asthma"}`)
		resp.Body.Close()

		want := http.StatusOK
		if i == 3 {
			want = http.StatusTooManyRequests
		}
		if resp.StatusCode != want {
			t.Errorf("request %d: got %d, want %d", i, resp.StatusCode, want)
		}
	}

	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/health")
		if err != nil {
			t.Fatalf("health %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("health %d: got %d, want %d", i, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestIntegration_OversizedBody(t *testing.T) {
	ts := defaultTestServer(t)

	payload := fmt.Sprintf(`{"feedback":"%s"}`, strings.Repeat("x", 100*1024))
	resp := postFeedback(t, ts.URL, "buffered", payload)
	resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func TestIntegration_FeedbackTooLong(t *testing.T) {
	ts := defaultTestServer(t)

	body, _ := json.Marshal(map[string]string{"feedback": strings.Repeat("a", 10001)})
	resp := postFeedback(t, ts.URL, "buffered", string(body))
	got := readBody(t, resp)

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if !strings.Contains(got, "too long") {
		t.Errorf("error: got %s, want to contain 'too long'", got)
	}
}

func TestIntegration_MetricsEndpoint(t *testing.T) {
	ts := defaultTestServer(t)

	readBody(t, postFeedback(t, ts.URL, "stream", `{"feedback":"asthma"}`))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := readBody(t, resp)

	for _, name := range []string{
		"icdcoder_requests_total",
		"icdcoder_completion_duration_seconds",
		"icdcoder_stream_chunks_total",
		"icdcoder_feedback_chars",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
