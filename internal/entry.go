// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/inkwell/internal/api"
	"github.com/starford/inkwell/internal/assistant"
	"github.com/starford/inkwell/internal/extraction"
	"github.com/starford/inkwell/internal/mcpserver"
	"github.com/starford/inkwell/internal/memory"
	"github.com/starford/inkwell/internal/noteservice"
	"github.com/starford/inkwell/internal/sse"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/watcher"
)

// Components are the wired domain services shared by every command.
type Components struct {
	Store      *storage.FS
	Notes      *noteservice.Service
	Extraction *extraction.Client
	Memory     *memory.Pipeline
	Assistant  *assistant.Assistant

	mcpURL string
}

// MemoryStatus probes the configured extraction service.
func (c *Components) MemoryStatus(ctx context.Context) extraction.Status {
	return c.Extraction.Status(ctx, c.mcpURL)
}

// Build wires the domain services for one-shot commands. Note and tag events
// are discarded.
func Build(ctx context.Context, opts ...Option) (*Components, error) {
	return newApplication(opts).build(ctx, nil)
}

// build wires the domain services. pub receives note and tag events; nil
// discards them.
func (app *application) build(ctx context.Context, pub noteservice.Publisher) (*Components, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config
	logger := app.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Ensure the store directory exists.
	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Store.Path,
		storage.WithIgnore(cfg.Store.Ignore),
		storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	svcOpts := []noteservice.Option{noteservice.WithLogger(logger)}
	if pub != nil {
		svcOpts = append(svcOpts, noteservice.WithPublisher(pub))
	}
	notes := noteservice.NewService(store, svcOpts...)
	if _, err := notes.Refresh(ctx); err != nil {
		logger.Warn("initial tag scan failed", slog.String("error", err.Error()))
	}

	xc := extraction.NewClient(
		extraction.WithTransport(cfg.Memory.Transport),
		extraction.WithLLM(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model),
		extraction.WithMaxRounds(cfg.Memory.MaxRounds),
		extraction.WithClientInfo("inkwell", app.version),
		extraction.WithLogger(logger),
	)
	mcpURL := cfg.Memory.MCPURL
	pipeline := memory.New(func(ctx context.Context) (memory.Session, error) {
		s, err := xc.Connect(ctx, mcpURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}, memory.WithTimeout(cfg.Memory.Timeout), memory.WithLogger(logger))

	asst := assistant.New(
		assistant.WithEndpoint(cfg.LLM.BaseURL, cfg.LLM.APIKey),
		assistant.WithModels(cfg.LLM.Model, cfg.LLM.TagModel),
		assistant.WithLogger(logger),
	)

	return &Components{
		Store:      store,
		Notes:      notes,
		Extraction: xc,
		Memory:     pipeline,
		Assistant:  asst,
		mcpURL:     mcpURL,
	}, nil
}

// ServeMCP runs the note tools as an MCP server on stdin/stdout.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	c, err := app.build(ctx, nil)
	if err != nil {
		return err
	}
	return mcpserver.New(c.Notes, app.version).ServeStdio()
}

// Run starts the HTTP server, event stream and store watcher with the given
// options.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("mcp_url", cfg.Memory.MCPURL),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(cfg.Events.TagsThrottle,
		sse.WithHistory(cfg.Events.History),
		sse.WithKeepAlive(cfg.Events.KeepAlive))
	defer broker.Close()

	c, err := app.build(ctx, broker)
	if err != nil {
		return err
	}

	apiRouter := api.NewRouter(api.RouterConfig{
		Notes:        c.Notes,
		Memory:       c.Memory,
		MemoryStatus: c.MemoryStatus,
		Assistant:    c.Assistant,
		Events:       broker,
		EventStream:  broker,
		AuthEnabled:  cfg.Auth.AuthEnabled(),
		Token:        cfg.Auth.Token,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := os.Stat(c.Store.Root()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	// Report edits made outside the server.
	g.Go(func() error {
		return watcher.Watch(gCtx, c.Store.Root(), c.Notes, watcher.Options{
			Ignored: c.Store.Ignored,
			Logger:  logger,
		})
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		stop()
		c.Memory.Cancel()
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
