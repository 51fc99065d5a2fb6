package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mlorentedev/icdcoder/internal/adapter"
	"github.com/mlorentedev/icdcoder/internal/config"
	"github.com/mlorentedev/icdcoder/internal/handler"
	"github.com/mlorentedev/icdcoder/internal/prompt"
	"github.com/mlorentedev/icdcoder/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	envPath := flag.String("env", ".env", "path to a .env file (ignored if missing)")
	useMock := flag.Bool("mock", false, "use mock adapter instead of real LLM backends")
	port := flag.Int("port", 0, "override listen port")
	flag.Parse()

	if err := run(*configPath, *envPath, *useMock, *port); err != nil {
		slog.Error("icdcoder failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string, useMock bool, port int) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Port = port
	}
	slog.SetDefault(cfg.Logger(os.Stderr))

	composer, err := prompt.Load(cfg.SystemPromptPath, cfg.UserPromptPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	adapters, models, defaultModel, cleanup, err := buildAdapters(ctx, cfg, useMock)
	if err != nil {
		return err
	}
	defer cleanup()

	h := server.SetupMux(server.Deps{
		Adapters:     adapters,
		Models:       models,
		DefaultModel: defaultModel,
		Composer:     composer,
		Feedback: handler.FeedbackOptions{
			DefaultModel:     defaultModel,
			DefaultMode:      cfg.DefaultMode,
			MaxFeedbackChars: cfg.MaxFeedbackChars,
			UpstreamTimeout:  cfg.UpstreamTimeout,
		},
		RateLimit:     cfg.RateLimit,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		CORSOrigin:    cfg.CORSOrigin,
		CORSAllRoutes: cfg.CORSAllRoutes,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("icdcoder api listening", "addr", addr, "default_model", defaultModel, "default_mode", cfg.DefaultMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// buildAdapters registers every configured backend. The first one in
// gemini, claude, llama.cpp, ollama order is the default unless
// default_model names another.
func buildAdapters(ctx context.Context, cfg config.Config, useMock bool) (map[string]adapter.LLMAdapter, []adapter.ModelInfo, string, func(), error) {
	adapters := make(map[string]adapter.LLMAdapter)
	var models []adapter.ModelInfo
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	if useMock {
		adapters["mock"] = &adapter.MockAdapter{Delay: 500 * time.Millisecond}
		models = append(models, adapter.ModelInfo{ID: "mock", Name: "Mock (dev)", Provider: "mock"})
		slog.Info("adapter enabled", "provider", "mock")
		return adapters, models, "mock", cleanup, nil
	}

	if cfg.GoogleAPIKey != "" {
		gemini, err := adapter.NewGeminiAdapter(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, "", cleanup, err
		}
		closers = append(closers, gemini.Close)
		adapters[cfg.GeminiModel] = gemini
		models = append(models, adapter.ModelInfo{ID: cfg.GeminiModel, Name: gemini.Name(), Provider: "gemini"})
		slog.Info("adapter enabled", "provider", "gemini", "model", cfg.GeminiModel)
	}

	if cfg.ClaudeAPIKey != "" {
		claude := adapter.NewClaudeAdapter(cfg.ClaudeAPIKey, cfg.ClaudeModel, "", nil)
		adapters[cfg.ClaudeModel] = claude
		models = append(models, adapter.ModelInfo{ID: cfg.ClaudeModel, Name: claude.Name(), Provider: "claude"})
		slog.Info("adapter enabled", "provider", "claude", "model", cfg.ClaudeModel)
	}

	// Local backends have no client timeout; the handler's upstream
	// timeout bounds each call instead so long streams are not cut.
	if cfg.LlamaCppURL != "" {
		llama := &adapter.LlamaCppAdapter{BaseURL: cfg.LlamaCppURL, Model: cfg.LlamaCppModel, Client: &http.Client{}}
		adapters[cfg.LlamaCppModel] = llama
		models = append(models, adapter.ModelInfo{ID: cfg.LlamaCppModel, Name: llama.Name(), Provider: "llamacpp"})
		slog.Info("adapter enabled", "provider", "llamacpp", "url", cfg.LlamaCppURL, "model", cfg.LlamaCppModel)
	}

	if cfg.OllamaURL != "" {
		ollama := &adapter.OllamaAdapter{BaseURL: cfg.OllamaURL, Model: cfg.OllamaModel, Client: &http.Client{}}
		adapters[cfg.OllamaModel] = ollama
		models = append(models, adapter.ModelInfo{ID: cfg.OllamaModel, Name: ollama.Name(), Provider: "ollama"})
		slog.Info("adapter enabled", "provider", "ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
	}

	if len(models) == 0 {
		return nil, nil, "", cleanup, errors.New("no model backend configured: set GOOGLE_API_KEY, ANTHROPIC_API_KEY, ICDCODER_LLAMACPP_URL or ICDCODER_OLLAMA_URL, or run with -mock")
	}

	defaultModel := models[0].ID
	if cfg.DefaultModel != "" {
		if _, ok := adapters[cfg.DefaultModel]; !ok {
			cleanup()
			return nil, nil, "", func() {}, fmt.Errorf("default_model %q is not a configured backend", cfg.DefaultModel)
		}
		defaultModel = cfg.DefaultModel
	}
	return adapters, models, defaultModel, cleanup, nil
}
