package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/mlorentedev/icdcoder/internal/adapter"
	"github.com/mlorentedev/icdcoder/internal/config"
	"github.com/mlorentedev/icdcoder/internal/metrics"
	"github.com/mlorentedev/icdcoder/internal/middleware"
	"github.com/mlorentedev/icdcoder/internal/prompt"
)

const (
	msgNoData     = "No data provided"
	msgNoFeedback = "No feedback text provided"
)

// ClientInputError is a request rejected before any model call.
type ClientInputError struct {
	Status  int
	Message string
}

func (e *ClientInputError) Error() string { return e.Message }

func badRequest(msg string) error {
	return &ClientInputError{Status: http.StatusBadRequest, Message: msg}
}

// FeedbackOptions configures ProcessFeedback.
type FeedbackOptions struct {
	DefaultModel     string
	DefaultMode      string
	MaxFeedbackChars int
	// UpstreamTimeout bounds one model call; zero means no limit.
	UpstreamTimeout time.Duration
}

type feedbackRequest struct {
	Feedback string
	ModelID  string
}

type codingResponse struct {
	Response string `json:"response"`
}

// ProcessFeedback turns free-text feedback into ICD-10 suggestions.
// ?mode=stream writes model chunks as they arrive; ?mode=buffered returns
// one JSON object once generation is done.
func ProcessFeedback(adapters map[string]adapter.LLMAdapter, composer *prompt.Composer, opts FeedbackOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := slog.With("request_id", middleware.RequestIDFromContext(r.Context()))

		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		req, err := decodeFeedback(r)
		if err != nil {
			fail(w, logger, err)
			return
		}

		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = opts.DefaultMode
		}
		if mode != config.ModeStream && mode != config.ModeBuffered {
			fail(w, logger, badRequest(fmt.Sprintf("unknown mode: %s", mode)))
			return
		}

		chars := utf8.RuneCountInString(req.Feedback)
		if opts.MaxFeedbackChars > 0 && chars > opts.MaxFeedbackChars {
			fail(w, logger, badRequest(fmt.Sprintf("feedback too long: %d characters (max %d)", chars, opts.MaxFeedbackChars)))
			return
		}

		modelID := req.ModelID
		if modelID == "" {
			modelID = opts.DefaultModel
		}
		a, ok := adapters[modelID]
		if !ok {
			fail(w, logger, badRequest(fmt.Sprintf("unknown model: %s", modelID)))
			return
		}

		metrics.FeedbackChars.Observe(float64(chars))
		p := composer.Compose(req.Feedback)

		ctx := r.Context()
		if opts.UpstreamTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.UpstreamTimeout)
			defer cancel()
		}

		w.Header().Set("X-Model-ID", modelID)
		logger = logger.With("model", modelID, "mode", mode)

		if mode == config.ModeBuffered {
			serveBuffered(ctx, w, logger, a, modelID, p)
			return
		}
		serveStream(ctx, r.Context(), w, logger, a, modelID, p)
	}
}

func decodeFeedback(r *http.Request) (feedbackRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return feedbackRequest{}, &ClientInputError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
		}
		return feedbackRequest{}, badRequest(msgNoData)
	}

	// An empty object counts as no data, matching a missing body.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return feedbackRequest{}, badRequest(msgNoData)
	}

	var req feedbackRequest
	if raw, ok := fields["feedback"]; ok {
		if err := json.Unmarshal(raw, &req.Feedback); err != nil {
			return feedbackRequest{}, badRequest(msgNoFeedback)
		}
	}
	if req.Feedback == "" {
		return feedbackRequest{}, badRequest(msgNoFeedback)
	}

	if raw, ok := fields["model_id"]; ok {
		if err := json.Unmarshal(raw, &req.ModelID); err != nil {
			return feedbackRequest{}, badRequest("model_id must be a string")
		}
	}
	return req, nil
}

func serveBuffered(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, a adapter.LLMAdapter, modelID string, p prompt.Prompt) {
	start := time.Now()
	text, err := a.Complete(ctx, p)
	elapsed := time.Since(start)
	metrics.CompletionDuration.WithLabelValues(modelID, config.ModeBuffered).Observe(elapsed.Seconds())

	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(modelID).Inc()
		fail(w, logger, err)
		return
	}

	w.Header().Set("X-Elapsed-Ms", strconv.FormatInt(elapsed.Milliseconds(), 10))
	writeJSON(w, http.StatusOK, codingResponse{Response: text})
}

// serveStream holds the response headers until the first chunk arrives, so
// a call that fails up front still gets a 500. After that the status is
// committed and a failure can only cut the connection short.
func serveStream(ctx, clientCtx context.Context, w http.ResponseWriter, logger *slog.Logger, a adapter.LLMAdapter, modelID string, p prompt.Prompt) {
	start := time.Now()
	s, err := a.Stream(ctx, p)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(modelID).Inc()
		fail(w, logger, err)
		return
	}
	defer s.Close()

	chunk, err := s.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		metrics.UpstreamErrors.WithLabelValues(modelID).Inc()
		fail(w, logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	chunks := 0
	for err == nil {
		if _, werr := io.WriteString(w, chunk); werr != nil {
			logger.Info("client disconnected", "chunks", chunks, "error", werr)
			return
		}
		rc.Flush()
		chunks++
		chunk, err = s.Next()
	}

	metrics.StreamChunks.WithLabelValues(modelID).Add(float64(chunks))
	metrics.CompletionDuration.WithLabelValues(modelID, config.ModeStream).Observe(time.Since(start).Seconds())

	if errors.Is(err, io.EOF) {
		logger.Debug("stream complete", "chunks", chunks)
		return
	}
	if clientCtx.Err() != nil {
		logger.Info("client disconnected", "chunks", chunks)
		return
	}

	metrics.UpstreamErrors.WithLabelValues(modelID).Inc()
	logger.Error("stream aborted", "chunks", chunks, "error", err)
	panic(http.ErrAbortHandler)
}

// fail maps a typed error to its status code and logs it first.
func fail(w http.ResponseWriter, logger *slog.Logger, err error) {
	var inputErr *ClientInputError
	if errors.As(err, &inputErr) {
		logger.Warn("feedback rejected", "status", inputErr.Status, "error", inputErr.Message)
		writeError(w, inputErr.Status, inputErr.Message)
		return
	}

	var upErr *adapter.UpstreamError
	if errors.As(err, &upErr) {
		logger.Error("model call failed", "provider", upErr.Provider, "upstream_status", upErr.Status, "error", err)
	} else {
		logger.Error("feedback failed", "error", err)
	}
	writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
}
