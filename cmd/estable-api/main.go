package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/estable-labs/estable-backend/internal/accrual"
	"github.com/estable-labs/estable-backend/internal/auth"
	"github.com/estable-labs/estable-backend/internal/config"
	"github.com/estable-labs/estable-backend/internal/database"
	"github.com/estable-labs/estable-backend/internal/logging"
	"github.com/estable-labs/estable-backend/internal/points"
	"github.com/estable-labs/estable-backend/internal/referrals"
	"github.com/estable-labs/estable-backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "estable-api",
		Short: "Estable rewards and yield backend service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Wallet session token TTL in minutes")
	cmd.PersistentFlags().Float64("annual-rate", defaults.GetFloat64("accrual.annual_rate"), "Simulated annual yield rate as a decimal")
	cmd.PersistentFlags().Int("refresh-interval-seconds", defaults.GetInt("refresh.interval_seconds"), "Portfolio refresh interval in seconds")
	cmd.PersistentFlags().Int("leaderboard-limit", defaults.GetInt("leaderboard.default_limit"), "Default leaderboard size")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Wallet token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "accrual.annual_rate", "annual-rate")
	bindFlag(cmd, "refresh.interval_seconds", "refresh-interval-seconds")
	bindFlag(cmd, "leaderboard.default_limit", "leaderboard-limit")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
		Issuer:        "estable-auth",
		Audience:      "estable-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	ledger, err := points.NewLedger(points.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: points.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	simulator, err := accrual.NewSimulator(accrual.SimulatorConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: accrual.NewUUIDProvider(),
		Logger:     logger,
		AnnualRate: appConfig.AnnualRate,
	})
	if err != nil {
		return err
	}

	referralService, err := referrals.NewService(referrals.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	refresher := server.NewPortfolioRefresher(server.RefresherConfig{
		Simulator: simulator,
		Clock:     time.Now,
		Interval:  appConfig.RefreshInterval,
		Logger:    logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:     tokenManager,
		Ledger:           ledger,
		Simulator:        simulator,
		Referrals:        referralService,
		Refresher:        refresher,
		Logger:           logger,
		LeaderboardLimit: appConfig.LeaderboardLimit,
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

	go refresher.Run(signalCtx)

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
