package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookthreads/bookthreads-api/internal/auth"
	"github.com/bookthreads/bookthreads-api/internal/catalog"
	"github.com/bookthreads/bookthreads-api/internal/config"
	"github.com/bookthreads/bookthreads-api/internal/database"
	"github.com/bookthreads/bookthreads-api/internal/entitystate"
	"github.com/bookthreads/bookthreads-api/internal/events"
	"github.com/bookthreads/bookthreads-api/internal/functions"
	"github.com/bookthreads/bookthreads-api/internal/logging"
	"github.com/bookthreads/bookthreads-api/internal/metrics"
	"github.com/bookthreads/bookthreads-api/internal/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisDialTimeout = 5 * time.Second
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	configViper := config.NewViper()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "bookthreads-api",
		Short: "BookThreads community API",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(configViper, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), configViper)
		},
		SilenceUsage: true,
	}
	setupFlags(rootCmd, configViper, &cfgFile)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServer(cmd.Context(), configViper)
			},
		},
		&cobra.Command{
			Use:   "cleanup-events",
			Short: "Archive and remove reading events that have ended",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCleanupEvents(cmd, configViper)
			},
		},
		newIssueTokenCommand(configViper),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command, configViper *viper.Viper, cfgFile *string) {
	flags := cmd.PersistentFlags()
	flags.StringVar(cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", configViper.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", configViper.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-dsn", configViper.GetString("database.dsn"), "Database DSN or SQLite path")
	flags.String("log-level", configViper.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("redis-address", configViper.GetString("redis.address"), "Redis address for cross-instance entity state")
	flags.String("character-url", configViper.GetString("functions.character_url"), "Remote character generation URL")
	flags.Int("trending-limit", configViper.GetInt("trending.limit"), "Number of trending books")

	bindFlag(cmd, configViper, "http.address", "http-address")
	bindFlag(cmd, configViper, "database.driver", "database-driver")
	bindFlag(cmd, configViper, "database.dsn", "database-dsn")
	bindFlag(cmd, configViper, "log.level", "log-level")
	bindFlag(cmd, configViper, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, configViper, "redis.address", "redis-address")
	bindFlag(cmd, configViper, "functions.character_url", "character-url")
	bindFlag(cmd, configViper, "trending.limit", "trending-limit")
}

func bindFlag(cmd *cobra.Command, configViper *viper.Viper, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func readConfigFile(configViper *viper.Viper, cfgFile string) error {
	if cfgFile == "" {
		return nil
	}
	configViper.SetConfigFile(cfgFile)
	return configViper.ReadInConfig()
}

func newIssueTokenCommand(configViper *viper.Viper) *cobra.Command {
	var identity auth.SessionIdentity
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(configViper)
			if err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AuthSigningSecret),
				Issuer:        appConfig.AuthIssuer,
				TokenTTL:      appConfig.TokenTTL,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(identity)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user", "", "User id to mint the token for")
	cmd.Flags().StringVar(&identity.Email, "email", "", "Email claim")
	cmd.Flags().StringVar(&identity.DisplayName, "name", "", "Display name claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func openStore(configViper *viper.Viper) (config.AppConfig, *zap.Logger, *gorm.DB, error) {
	appConfig, err := config.Load(configViper)
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return config.AppConfig{}, nil, nil, err
	}
	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		_ = logger.Sync()
		return config.AppConfig{}, nil, nil, err
	}
	return appConfig, logger, db, nil
}

func closeStore(db *gorm.DB, logger *zap.Logger) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = logger.Sync()
}

func runCleanupEvents(cmd *cobra.Command, configViper *viper.Viper) error {
	_, logger, db, err := openStore(configViper)
	if err != nil {
		return err
	}
	defer closeStore(db, logger)

	service, err := events.NewService(events.ServiceConfig{
		Database:   db,
		IDProvider: catalog.NewUUIDProvider(),
		Logger:     logger.Named("events"),
	})
	if err != nil {
		return err
	}
	report, err := service.CleanupExpired(cmd.Context())
	if err != nil {
		logger.Error("event cleanup failed", zap.Strings("archived", report.Archived), zap.Error(err))
		return err
	}
	logger.Info("event cleanup finished", zap.Int("archived", len(report.Archived)))
	fmt.Fprintf(cmd.OutOrStdout(), "archived %d events\n", len(report.Archived))
	return nil
}

func runServer(ctx context.Context, configViper *viper.Viper) error {
	appConfig, logger, db, err := openStore(configViper)
	if err != nil {
		return err
	}
	defer closeStore(db, logger)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var broadcaster entitystate.Broadcaster
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress, DialTimeout: redisDialTimeout})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(signalCtx, redisDialTimeout)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis %s: %w", appConfig.RedisAddress, err)
		}
		if broadcaster, err = entitystate.NewRedisBroadcaster(redisClient, entitystate.DefaultChannel, logger.Named("entitystate")); err != nil {
			return err
		}
	}
	state := entitystate.New(entitystate.Config{
		TTL:         appConfig.EntityStateTTL,
		Broadcaster: broadcaster,
		Logger:      logger.Named("entitystate"),
	})
	go func() {
		if err := state.Run(signalCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("entity state listener stopped", zap.Error(err))
		}
	}()

	registry := metrics.New()
	deps, err := server.NewServiceSet(server.ServiceSetConfig{
		Database:      db,
		State:         state,
		TrendingLimit: appConfig.TrendingLimit,
		Metrics:       registry,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	deps.Sessions, err = auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}
	if appConfig.CharacterURL != "" {
		deps.Characters = functions.NewClient(functions.ClientConfig{
			CharacterURL: appConfig.CharacterURL,
			Timeout:      appConfig.FunctionsTimeout,
			Metrics:      registry,
			Logger:       logger.Named("functions"),
		})
	}
	deps.WriteRateLimit = rate.Limit(appConfig.RateLimitRPS)
	deps.WriteBurst = appConfig.RateLimitBurst

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
