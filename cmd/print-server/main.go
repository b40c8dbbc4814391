// Command print-server runs the print job engine: the HTTP API, the
// dispatch loop, and optionally the remote reconciliation poller.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Actief-IT-Services/aits-print-server/internal/api"
	"github.com/Actief-IT-Services/aits-print-server/internal/api/handlers"
	"github.com/Actief-IT-Services/aits-print-server/internal/api/middleware"
	"github.com/Actief-IT-Services/aits-print-server/internal/config"
	"github.com/Actief-IT-Services/aits-print-server/internal/core"
	"github.com/Actief-IT-Services/aits-print-server/internal/printer"
	"github.com/Actief-IT-Services/aits-print-server/internal/remote"
	"github.com/Actief-IT-Services/aits-print-server/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	printerBackend := flag.String("printer-backend", "", "printer backend override (lp, null)")
	flag.Parse()

	if err := run(*configPath, *printerBackend); err != nil {
		fmt.Fprintf(os.Stderr, "print-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, backendOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.NewLogger()
	logger.Info("starting print server", "port", cfg.Server.Port, "driver", cfg.Database.Driver)

	st, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer st.Close()

	backendName := cfg.Printer.Backend
	if backendOverride != "" {
		backendName = backendOverride
	}
	backend, err := printer.New(backendName)
	if err != nil {
		return err
	}

	auth, err := middleware.NewAuth(cfg.Auth)
	if err != nil {
		return err
	}
	if !auth.Enabled() {
		logger.Warn("no api keys configured, api is unauthenticated")
	}

	hub := handlers.NewEventHub(logger)
	hub.Start()
	defer hub.Stop()

	queue := core.NewQueue(st, backend, hub, cfg.Queue, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	defer queue.Stop()

	if cfg.Remote.Enabled {
		client := remote.NewClient(cfg.Remote.URL, cfg.Remote.Database, cfg.Remote.APIKey)
		poller := remote.NewPoller(client, queue, backend, cfg.Remote, logger)
		poller.Start(ctx)
		defer poller.Stop()
	}

	router := api.NewRouter(queue, backend, auth, hub, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return nil
}
