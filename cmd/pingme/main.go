package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pingme/internal/auth"
	"pingme/internal/chatsync"
	"pingme/internal/config"
	"pingme/internal/constants"
	"pingme/internal/database"
	"pingme/internal/middleware"
	"pingme/internal/models"
	"pingme/internal/realtime"
	"pingme/internal/retry"
	"pingme/internal/service"
	"pingme/internal/tracing"
	"pingme/pkg/media"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable debug logging (includes unmasked identifiers)")
	configPath = flag.String("config", "config.json", "Path to configuration file (JSON or YAML)")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	version    = flag.Bool("version", false, "Show version information")
)

const limiterPruneInterval = time.Minute

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("pingme %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Warnf("Failed to load %s: %v", *envFile, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting pingme")

	cfg, err := config.LoadConfigOrDefault(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	tokens, err := auth.NewTokenManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	store, err := media.NewStore(cfg.Media, cfg.Server.PublicURL, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize media store: %w", err)
	}

	hub := realtime.NewHub(logger,
		realtime.WithPresenceRecorder(db),
		realtime.WithTypingTTL(time.Duration(cfg.Realtime.TypingTTLSec)*time.Second),
	)
	go hub.Run(ctx)

	messages := service.NewMessageService(db, db, store, logger, service.WithLimits(cfg.Messages))
	coordinator := chatsync.NewCoordinator(messages, service.NewPresenter(db, db), hub, logger)
	users := service.NewUserService(db, hub)

	limiter := middleware.NewLimiterPool(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go pruneLimiters(ctx, limiter, logger)

	watchConfig(ctx, cfg, limiter, logger)

	server := NewServer(cfg, Deps{
		Sync:    coordinator,
		Users:   users,
		Hub:     hub,
		Tokens:  tokens,
		Media:   store,
		DB:      db,
		Limiter: limiter,
		Verbose: *verbose,
	}, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		hub.Close()
		return err
	}

	shutdownSec := cfg.Server.ShutdownTimeoutSec
	if shutdownSec <= 0 {
		shutdownSec = constants.DefaultGracefulShutdownSec
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openDatabase opens the store with exponential backoff, since the volume
// holding the file may appear after the process starts.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	var db *database.Database
	backoffCfg := retry.FromRetryConfig(cfg.Retry)
	backoffCfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).WithError(err).Warn("Failed to initialize database, retrying")
	}
	err := retry.NewBackoff(backoffCfg).Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path, database.WithRetry(
			cfg.Retry.MaxAttempts,
			time.Duration(cfg.Retry.InitialBackoffMs)*time.Millisecond,
			time.Duration(cfg.Retry.MaxBackoffMs)*time.Millisecond,
		))
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

func applyLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - identifiers will be logged unmasked")
		return
	}
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// watchConfig applies log level and rate limit changes from the config file
// without a restart. Other settings still need one.
func watchConfig(ctx context.Context, cfg *models.Config, limiter *middleware.LimiterPool, logger *logrus.Logger) {
	if _, err := os.Stat(*configPath); err != nil {
		logger.WithField("path", *configPath).Debug("No config file to watch")
		return
	}

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		if next.LogLevel != cfg.LogLevel {
			applyLogLevel(logger, next.LogLevel, *verbose)
		}
		limiter.SetLimit(next.RateLimit.RequestsPerSecond, next.RateLimit.Burst)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.Warnf("Config watcher stopped: %v", err)
		}
	}()
}

func pruneLimiters(ctx context.Context, limiter *middleware.LimiterPool, logger *logrus.Logger) {
	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Prune(); n > 0 {
				logger.WithField(service.LogFieldCount, n).Debug("Pruned idle rate limiters")
			}
		}
	}
}
