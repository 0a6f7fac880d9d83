// jarvisd keeps the realtime gateway connection open for the assistant,
// republishes gateway messages as application events, and optionally journals
// them to PostgreSQL.
//
// Usage: go run ./cmd/jarvisd -config configs/jarvisd.yaml
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

	"golang.org/x/sync/errgroup"

	"github.com/jarvis-app/realtime/internal/config"
	"github.com/jarvis-app/realtime/internal/connection"
	"github.com/jarvis-app/realtime/internal/database"
	"github.com/jarvis-app/realtime/internal/events"
	"github.com/jarvis-app/realtime/internal/journal"
	"github.com/jarvis-app/realtime/internal/session"
	"github.com/jarvis-app/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/jarvisd.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting jarvisd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("jarvisd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("jarvisd stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newProvider(cfg config.SessionConfig, logger *slog.Logger) session.Provider {
	if cfg.Provider == "supabase" {
		return session.NewSupabaseProvider(cfg.SupabaseURL, cfg.AnonKey,
			session.Credentials{
				Email:        cfg.Email,
				Password:     cfg.Password,
				RefreshToken: cfg.RefreshToken,
			},
			session.WithLogger(logger),
			session.WithTimeout(cfg.Timeout),
			session.WithRetries(cfg.MaxRetries, time.Second),
		)
	}
	return session.NewStaticProvider(cfg.Token, cfg.UserID)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	connection.InitDefault(cfg.Realtime.ManagerConfig(), logger)
	mgr := connection.Default()

	bus := events.NewBus(cfg.Journal.BufferSize, logger)
	bridge := events.NewBridge(bus, logger)
	bridge.Attach(mgr)

	history := events.NewHistory(events.DefaultHistorySize)
	historySub := bus.Subscribe()

	deps := statusDeps{gateway: mgr, history: history}

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := journal.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		jrnl = journal.New(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, bus.Subscribe(), pool, logger)
		if err := jrnl.Start(ctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
		deps.journal = jrnl
		deps.db = pool
	}

	keeper := session.NewKeeper(session.KeeperConfig{
		RefreshBefore: cfg.Session.RefreshBefore,
	}, newProvider(cfg.Session, logger), mgr, logger)
	deps.session = keeper

	unsubState := mgr.OnConnectionStateChange(func(st connection.ConnectionState) {
		logger.Debug("connection state",
			"connected", st.Connected,
			"authenticated", st.Authenticated,
			"reconnect_attempts", st.ReconnectAttempts,
			"queued", st.QueuedMessages,
		)
	})
	defer unsubState()

	if err := keeper.Start(ctx); err != nil {
		return fmt.Errorf("start session keeper: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		history.Run(gctx, historySub)
		return nil
	})

	if cfg.Status.Port > 0 {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Status.Port),
			Handler:           newStatusHandler(deps, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting status server", "port", cfg.Status.Port)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Info("jarvisd running", "gateway", cfg.Realtime.URL, "status_port", cfg.Status.Port)

	<-gctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop producers before consumers so nothing received is lost.
	if err := keeper.Stop(shutdownCtx); err != nil {
		logger.Warn("session keeper stop", "error", err)
	}
	bridge.Detach()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("connection manager shutdown", "error", err)
	}
	if jrnl != nil {
		if err := jrnl.Stop(shutdownCtx); err != nil {
			logger.Warn("journal stop", "error", err)
		}
	}
	bus.Close()

	return g.Wait()
}
