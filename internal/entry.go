// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/dossier/internal/api"
	"github.com/starford/dossier/internal/mcpserver"
	"github.com/starford/dossier/internal/sse"
	"github.com/starford/dossier/internal/writer"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := app.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	cfg, logger := c.cfg, c.logger

	// Pick up files added while the server was down.
	if res, err := c.ingester.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	} else {
		logger.Info("initial sync complete",
			slog.Int("indexed", res.Indexed),
			slog.Int("removed", res.Removed),
			slog.Int("failed", res.Failed))
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := c.service(ctx, broker)
	apiRouter := api.NewRouter(svc, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if c.index.Len() == 0 {
			writeStatus(w, http.StatusOK, "empty_index")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Sources.Watch {
		g.Go(func() error {
			err := c.ingester.Watch(gCtx, cfg.Sources.Dir, broker.PublishSourceEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("source watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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
		// Stops the watcher and cancels in-flight runs.
		cancel()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
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

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// Output formats for Generate.
const (
	OutputMarkdown = "markdown"
	OutputJSON     = "json"
)

// Generate writes one document from a template file to out and returns the
// number of failed sections.
func Generate(ctx context.Context, templatePath, format string, out io.Writer, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	tmpl, err := os.ReadFile(templatePath)
	if err != nil {
		return 0, fmt.Errorf("read template: %w", err)
	}

	c, err := app.build(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = c.Close() }()

	if _, err := c.ingester.Sync(ctx); err != nil {
		c.logger.Warn("sync failed, generating from the existing index", slog.String("error", err.Error()))
	}

	doc, err := c.service(ctx, nil).Generate(ctx, writer.GenerateRequest{Template: string(tmpl)})
	if err != nil {
		return 0, err
	}

	switch format {
	case OutputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(doc)
	default:
		_, err = io.WriteString(out, doc.Markdown())
	}
	if err != nil {
		return doc.FailedSections, fmt.Errorf("write document: %w", err)
	}
	return doc.FailedSections, nil
}

// Ingest brings the chunk store and index in line with the sources directory.
func Ingest(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := app.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	res, err := c.ingester.Sync(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("ingest complete",
		slog.Int("indexed", res.Indexed),
		slog.Int("removed", res.Removed),
		slog.Int("failed", res.Failed),
		slog.Int("chunks", c.index.Len()))
	if res.Failed > 0 {
		return fmt.Errorf("%d sources failed to ingest", res.Failed)
	}
	return nil
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := app.build(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if _, err := c.ingester.Sync(ctx); err != nil {
		c.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	return mcpserver.New(c.service(ctx, nil), app.version).ServeStdio()
}
