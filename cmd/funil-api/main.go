package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/funilcrm/backend/internal/auth"
	"github.com/funilcrm/backend/internal/board"
	"github.com/funilcrm/backend/internal/config"
	"github.com/funilcrm/backend/internal/database"
	"github.com/funilcrm/backend/internal/leads"
	"github.com/funilcrm/backend/internal/logging"
	"github.com/funilcrm/backend/internal/server"
	"github.com/funilcrm/backend/internal/tracking"
	"github.com/funilcrm/backend/internal/users"
	"github.com/funilcrm/backend/internal/webhook"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "funil-api",
		Short: "Funil CRM board backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("provider-jwks-url", defaults.GetString("provider.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().String("provider-audience", defaults.GetString("provider.audience"), "Identity provider token audience")
	cmd.PersistentFlags().StringSlice("provider-issuers", defaults.GetStringSlice("provider.issuers"), "Accepted identity provider issuers")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("webhook-url", defaults.GetString("webhook.url"), "Lead moved webhook endpoint")
	cmd.PersistentFlags().Int("settle-window-ms", defaults.GetInt("board.settle_window_ms"), "Echo suppression window after a persisted move")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "provider.jwks_url", "provider-jwks-url")
	bindFlag(cmd, "provider.audience", "provider-audience")
	bindFlag(cmd, "provider.issuers", "provider-issuers")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "webhook.url", "webhook-url")
	bindFlag(cmd, "board.settle_window_ms", "settle-window-ms")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "funil-auth",
		Audience:      "funil-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	providerVerifier, err := auth.NewProviderVerifier(auth.ProviderVerifierConfig{
		Audience:       appConfig.ProviderAudience,
		JWKSURL:        appConfig.ProviderJWKSURL,
		AllowedIssuers: appConfig.ProviderIssuers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	operatorService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	leadService, err := leads.NewService(leads.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: leads.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	recorder, err := tracking.NewRecorder(tracking.RecorderConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var notifier board.Notifier
	if appConfig.WebhookURL != "" {
		moveNotifier, err := webhook.NewNotifier(webhook.NotifierConfig{
			URL:    appConfig.WebhookURL,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		notifier = moveNotifier
	}

	dispatcher := server.NewRealtimeDispatcher()
	hub := server.NewWSHub()
	fanout := server.NewChangeFanout(dispatcher, hub, logger)

	boards, err := board.NewManager(board.ManagerConfig{
		Backend:      leadService,
		Notifier:     notifier,
		Tracker:      recorder,
		Alerter:      fanout,
		Publisher:    fanout,
		Logger:       logger,
		SettleWindow: appConfig.SettleWindow,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ProviderVerifier: providerVerifier,
		TokenManager:     tokenManager,
		Operators:        operatorService,
		LeadService:      leadService,
		Boards:           boards,
		Realtime:         dispatcher,
		Hub:              hub,
		Fanout:           fanout,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
