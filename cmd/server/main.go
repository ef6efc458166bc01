// Command server runs the realtime-copilot WebSocket and REST process: one
// client WebSocket connection at a time, wired through the STT, aggregator,
// and completion pipeline, plus the workspace/session/config REST surface
// the browser client polls.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
	"github.com/lokutor-ai/realtime-copilot/internal/ingress"
	"github.com/lokutor-ai/realtime-copilot/internal/logging"
	"github.com/lokutor-ai/realtime-copilot/internal/retrieval"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
	"github.com/lokutor-ai/realtime-copilot/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(settings.LogLevel)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	// One event bus and one session supervisor for the life of the process:
	// at most one Active session exists at a time, so every connection
	// borrows the same bus rather than owning one (mirrors the original's
	// SessionManager, which constructs a single EventBus and hands it to
	// every ConnectionHandler).
	bus := eventbus.New(logger)
	supervisor := session.NewSupervisor(logger, config.AudioQueueCapacity)
	index := retrieval.New("./workspaces")

	handler := ingress.New(supervisor, bus, index, settings, logger)
	api := workspace.New("./workspaces", settings, supervisor, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	api.Mount(mux)

	addr := fmt.Sprintf("%s:%d", settings.ServerHost, settings.ServerPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: workspace.CORS(mux),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen: %w", err)
		}
	case <-sigCh:
		logger.Info("server: shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server: shutdown error", "error", err)
		}

		supervisor.Shutdown()
		bus.Clear()
	}

	return nil
}
