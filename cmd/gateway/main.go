package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/config"
	"github.com/aman-churiwal/media-gateway/internal/dispatch"
	"github.com/aman-churiwal/media-gateway/internal/lock"
	"github.com/aman-churiwal/media-gateway/internal/logging"
	"github.com/aman-churiwal/media-gateway/internal/quota"
	"github.com/aman-churiwal/media-gateway/internal/ratelimit"
	"github.com/aman-churiwal/media-gateway/internal/repository"
	"github.com/aman-churiwal/media-gateway/internal/server"
	"github.com/aman-churiwal/media-gateway/internal/service"
	"github.com/aman-churiwal/media-gateway/internal/storage"
	"github.com/aman-churiwal/media-gateway/internal/token"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile        string
	rateRetention  time.Duration
	grantRetention time.Duration
)

func main() {
	// Load env if it exists
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "media-gateway",
		Short: "Token-gated media delivery and quota service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stale rate samples, expired tokens, old access logs and old ad grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd.Context())
		},
	}
	pruneCmd.Flags().DurationVar(&rateRetention, "rate-retention", 24*time.Hour, "Keep rate samples younger than this")
	pruneCmd.Flags().DurationVar(&grantRetention, "grant-retention", 7*24*time.Hour, "Keep ad grants younger than this")

	setupFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, pruneCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (default ./config.json)")
	cmd.PersistentFlags().String("address", defaults.GetString("server.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (postgres, sqlite)")
	cmd.PersistentFlags().String("database-dsn", "", "Postgres DSN (overrides env)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().StringSlice("transport-targets", nil, "Backend file server base URLs")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "server.address", "address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "transport.targets", "transport-targets")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

// bootstrap loads configuration, the logger and the database shared by every command.
func bootstrap() (*config.Config, *zap.Logger, *storage.Database, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("connected to database", zap.String("dialect", db.Dialect()))

	return cfg, logger, db, nil
}

func runServer(ctx context.Context) error {
	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	var redis *storage.RedisClient
	if cfg.Redis.Enabled() {
		redis, err = storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer redis.Close()
		logger.Info("connected to redis", zap.String("address", cfg.Redis.GetRedisAddr()))
	}

	srv, err := server.New(cfg, server.Deps{
		Database: db,
		Redis:    redis,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(signalCtx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}

	logger.Info("server exited")
	return nil
}

func runMigrate() error {
	_, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	logger.Info("schema up to date")
	return nil
}

func runPrune(ctx context.Context) error {
	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	defer db.Close()

	now := time.Now().UTC()
	locks := lock.New(lock.Config{Database: db, Timeout: cfg.Lock.Timeout, Logger: logger})

	samples, err := ratelimit.NewDatabaseSlidingWindow(db, locks, nil).Prune(ctx, now.Add(-rateRetention))
	if err != nil {
		return fmt.Errorf("prune rate samples: %w", err)
	}

	issuer, err := token.NewIssuer(token.Config{
		Database: db,
		Locks:    locks,
		Content:  repository.NewContentRepository(db),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	tokens, err := issuer.PruneExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("prune tokens: %w", err)
	}

	logs, err := service.NewAnalyticsService(repository.NewAccessLogRepository(db)).CleanupOldLogs(ctx, cfg.Retention.AccessLogs)
	if err != nil {
		return fmt.Errorf("prune access logs: %w", err)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Database: db,
		Locks:    locks,
		Quotas:   quota.NewStore(quota.Config{Database: db, Locks: locks, Logger: logger}),
		Networks: repository.NewAdNetworkRepository(db),
		Logger:   logger,
	})
	grants, err := dispatcher.PruneGrants(ctx, now.Add(-grantRetention))
	if err != nil {
		return fmt.Errorf("prune ad grants: %w", err)
	}

	logger.Info("prune complete",
		zap.Int64("rate_samples", samples),
		zap.Int64("tokens", tokens),
		zap.Int64("access_logs", logs),
		zap.Int64("ad_grants", grants),
	)
	return nil
}
