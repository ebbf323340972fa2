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

	"github.com/varde/mnemo/internal/api"
	"github.com/varde/mnemo/internal/index"
	"github.com/varde/mnemo/internal/mcpserver"
	"github.com/varde/mnemo/internal/noteservice"
	"github.com/varde/mnemo/internal/sse"
	"github.com/varde/mnemo/internal/storage"
	"github.com/varde/mnemo/internal/syncer"
	"github.com/varde/mnemo/internal/taskservice"
)

type services struct {
	store *storage.FS
	db    *index.DB
	coord *syncer.Coordinator
	notes *noteservice.Service
	tasks *taskservice.Service
}

func buildServices(cfg *Config, logger *slog.Logger, noteEvents noteservice.EventCallback, taskEvents taskservice.EventCallback) (*services, error) {
	if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	coord := syncer.New(store, db, logger, cfg.Sync.BulkThreshold)

	notes := noteservice.NewService(store, coord, noteEvents)
	tasks := taskservice.NewService(store, coord, taskEvents)

	return &services{store: store, db: db, coord: coord, notes: notes, tasks: tasks}, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_path", cfg.Store.Path),
		slog.String("index_path", cfg.Index.Path),
		slog.Int("bulk_threshold", cfg.Sync.BulkThreshold),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svcs, err := buildServices(cfg, logger,
		broker.PublishNoteEvent,
		broker.PublishTaskEvent,
	)
	if err != nil {
		return err
	}
	defer svcs.db.Close()

	// Bring the index up to date before serving reads.
	if err := svcs.coord.Rebuild(); err != nil {
		logger.Warn("initial index rebuild failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(svcs.notes, svcs.tasks, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the store directory for out-of-process mutations.
	g.Go(func() error {
		err := storage.Watch(gCtx, svcs.store, logger,
			broker.PublishNoteEvent,
			func() {
				svcs.coord.Refresh()
				broker.Publish(sse.Event{Type: "index.rebuilt", Data: map[string]string{}})
			},
		)
		if err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
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

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

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

// RunMCP serves the MCP tools over stdio. Logs go to stderr so stdout
// stays clean for the protocol stream.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	svcs, err := buildServices(cfg, logger, nil, nil)
	if err != nil {
		return err
	}
	defer svcs.db.Close()

	logger.Info("MCP server starting on stdio",
		slog.String("store_path", cfg.Store.Path),
		slog.String("index_path", cfg.Index.Path))

	return mcpserver.New(svcs.notes, svcs.tasks).ServeStdio()
}
