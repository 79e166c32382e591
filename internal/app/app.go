package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/marque-dev/marque/internal/config"
	"github.com/marque-dev/marque/internal/feed"
	"github.com/marque-dev/marque/internal/httpserver"
	"github.com/marque-dev/marque/internal/httpserver/deps"
	"github.com/marque-dev/marque/internal/identity"
	"github.com/marque-dev/marque/internal/logger"
	"github.com/marque-dev/marque/internal/reconcile"
	"github.com/marque-dev/marque/internal/redis"
	"github.com/marque-dev/marque/internal/seed"
	redisstore "github.com/marque-dev/marque/internal/store/redis"
	"github.com/marque-dev/marque/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	gate        *identity.Gate
	engine      *reconcile.Engine
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	store := redisstore.NewStore(redisClient)
	feeds := feed.NewRedisOpener(redisClient, loggerClient)
	gate := identity.NewGate([]byte(cfg.SessionSecret), loggerClient)
	engine := reconcile.New(store, feeds, gate, loggerClient)

	// Seed import (if configured) runs before the server accepts
	// traffic so a first sign-in sees the seeded data.
	if cfg.SeedFile != "" {
		importer := seed.NewImporter(store, loggerClient)
		if err := importer.Import(context.Background(), cfg.SeedFile, cfg.SeedOwner); err != nil {
			loggerClient.Warn("seed import failed", logger.Error(err))
		}
	}

	d := deps.Deps{
		Logger:      loggerClient,
		StartTime:   time.Now(),
		Version:     version.Version,
		Commit:      version.Commit,
		BuildDate:   version.BuildDate,
		GoVersion:   version.GoVersion,
		RedisClient: redisClient,
		Gate:        gate,
		Engine:      engine,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		gate:        gate,
		engine:      engine,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Marque v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Marque %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the reconciliation engine before resolving identity so
	// the None→Some transition of a bootstrap token is observed.
	go a.engine.Run(ctx)

	go func() {
		if err := a.gate.Resolve(a.cfg.BootstrapToken); err != nil {
			a.logger.Warn("bootstrap identity resolution failed; starting signed out",
				logger.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ Marque stopped cleanly")
	return nil
}
