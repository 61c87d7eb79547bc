package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterje/termbridge/internal/api"
	"github.com/peterje/termbridge/internal/config"
	"github.com/peterje/termbridge/internal/db"
	"github.com/peterje/termbridge/internal/logging"
	"github.com/peterje/termbridge/internal/metrics"
	"github.com/peterje/termbridge/internal/preflight"
	ptymgr "github.com/peterje/termbridge/internal/pty"
	"github.com/peterje/termbridge/internal/server"
	"github.com/peterje/termbridge/internal/tunnel"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	host := flag.String("host", cfg.Server.Host, "listen address")
	port := flag.Int("port", cfg.Server.Port, "server port")
	flag.Parse()
	cfg.Server.Host = *host
	cfg.Server.Port = *port

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		logger = logging.NewDefault()
		logger.Warn("invalid logging config, using defaults", zap.String("level", cfg.Logging.Level), zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	commands := cfg.Terminal.Commands()
	cliStatus := preflight.CheckCommands(commands, logger.Named("preflight"))

	m := metrics.New()
	observers := ptymgr.Observers{m}

	var history api.HistoryStore
	if database, h := openHistory(cfg.Storage, logger); h != nil {
		defer database.Close()
		history = h
		observers = append(observers, h)
	}

	registry := ptymgr.NewRegistry(ptymgr.SessionConfig{
		ScrollbackSize: cfg.Terminal.ScrollbackBytes,
		StopGrace:      cfg.Terminal.StopGrace,
		Logger:         logger,
		Observer:       observers,
	})

	srv := server.New(server.Deps{
		Registry:     registry,
		Commands:     commands,
		CLIStatus:    cliStatus,
		History:      history,
		Metrics:      m,
		PollInterval: cfg.Terminal.PollInterval,
		Logger:       logger,
	})

	addr := cfg.Server.Addr()
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tunnel.GatewayURL != "" {
		client := tunnel.NewClient(cfg.Tunnel.GatewayURL, cfg.Tunnel.Secret, addr, logger)
		go client.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", "http://"+addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		registry.ReleaseAll()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Sessions die with the server. Their relays see the exit and close.
	registry.ReleaseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openHistory opens the session history store. Failures are logged and the
// server runs without history.
func openHistory(cfg config.StorageConfig, logger *zap.Logger) (*sql.DB, *db.History) {
	if cfg.Disabled {
		logger.Info("session history disabled")
		return nil, nil
	}

	path := cfg.Path
	if path == "" {
		p, err := db.DefaultPath()
		if err != nil {
			logger.Warn("session history unavailable", zap.Error(err))
			return nil, nil
		}
		path = p
	}

	database, err := db.Open(path)
	if err != nil {
		logger.Warn("session history unavailable", zap.String("path", path), zap.Error(err))
		return nil, nil
	}

	migration, err := migrationsFS.ReadFile("migrations/001_initial.sql")
	if err == nil {
		err = db.Migrate(database, string(migration))
	}
	if err != nil {
		logger.Warn("session history unavailable", zap.Error(err))
		database.Close()
		return nil, nil
	}

	h := db.NewHistory(database, logger)
	if n, err := h.Reconcile(); err != nil {
		logger.Warn("reconcile session history", zap.Error(err))
	} else if n > 0 {
		logger.Info("marked stale sessions as stopped", zap.Int64("count", n))
	}
	return database, h
}
