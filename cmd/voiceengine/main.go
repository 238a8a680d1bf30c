package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/config"
	"github.com/raidledger/voiceengine/internal/engine"
	"github.com/raidledger/voiceengine/internal/httpapi"
	"github.com/raidledger/voiceengine/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	bindingStore := store.NewBindingStore(pgPool)
	gameStore := store.NewGameStore(pgPool)
	overrideStore := store.NewOverrideStore(redisClient)
	adhocStore := store.NewAdHocStore(pgPool)
	sessionStore := store.NewSessionStore(pgPool)
	scheduledStore := store.NewScheduledStore(pgPool)
	availabilityStore := store.NewAvailabilityStore(pgPool)

	deps := engine.Deps{
		BindingLoader:     bindingStore,
		ResolverStore:     gameStore,
		OverrideStore:     overrideStore,
		AdHocStore:        adhocStore,
		AttendanceStore:   sessionStore,
		ClassifyStore:     scheduledStore,
		AvailabilityStore: availabilityStore,
		Renderer:          noopRenderer{},
		ScheduledEvents:   scheduledStore,
		OpenSessions:      scheduledStore,
	}
	eng := engine.New(ctx, cfg, deps, logger)

	if err := eng.Recover(ctx, time.Now()); err != nil {
		logger.Sugar().Errorw("startup attendance recovery failed", "error", err)
	}

	handler := httpapi.New(httpapi.Config{
		Bindings:       bindingStore,
		BindingCache:   eng.Bindings,
		Overrides:      overrideStore,
		OverrideTTL:    cfg.OverrideTTL,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
		Gateway:        eng.Gateway,
		DevMode:        cfg.Env != "production",
	})

	mux := http.NewServeMux()
	mux.Handle("/", handler.Router(cfg.AllowedOrigins))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Sugar().Infow("listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	engErrCh := make(chan error, 1)
	go func() { engErrCh <- eng.Run(ctx) }()

	engineDone := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Sugar().Errorw("http server failed", "error", err)
		stop()
	case err := <-engErrCh:
		engineDone = true
		if err != nil {
			logger.Sugar().Errorw("engine stopped with error", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Warnw("graceful http shutdown failed", "error", err)
	}
	if !engineDone {
		<-engErrCh
	}
	return nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// noopRenderer is a placeholder notify.Renderer until the chat-service
// message client is wired in; SendOrEdit sends nothing and returns an empty
// message id rather than failing the calling engine.
type noopRenderer struct{}

func (noopRenderer) SendOrEdit(ctx context.Context, channelID string, messageID *string, payload interface{}) (string, error) {
	return "", nil
}
