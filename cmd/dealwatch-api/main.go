package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealwatch/backend/internal/auth"
	"github.com/dealwatch/backend/internal/catalog"
	"github.com/dealwatch/backend/internal/config"
	"github.com/dealwatch/backend/internal/database"
	"github.com/dealwatch/backend/internal/deals"
	"github.com/dealwatch/backend/internal/logging"
	"github.com/dealwatch/backend/internal/server"
	"github.com/dealwatch/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dealwatch-api",
		Short: "Game-deals mirror backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove mirrored deals older than the retention window",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := cmd.Flags().GetInt("older-than-days")
			if err != nil {
				return err
			}
			return runCleanup(cmd.Context(), days)
		},
	}
	cleanupCmd.Flags().Int("older-than-days", 30, "Retention window in days")
	rootCmd.AddCommand(cleanupCmd)

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
	cmd.PersistentFlags().String("catalog-base-url", defaults.GetString("catalog.base_url"), "Upstream catalog API base URL")
	cmd.PersistentFlags().String("store-ids", defaults.GetString("sync.store_ids"), "Comma-separated allow-list of store ids")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "catalog.base_url", "catalog-base-url")
	bindFlag(cmd, "sync.store_ids", "store-ids")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
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
		if cfgFile != "" {
			return err
		}
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runCleanup(ctx context.Context, olderThanDays int) error {
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

	catalogClient := catalog.NewClient(catalog.ClientConfig{
		BaseURL:  appConfig.CatalogBaseURL,
		PageSize: appConfig.CatalogPageSize,
		Logger:   logger,
	})

	dealsService, err := deals.NewService(deals.ServiceConfig{
		Database:          db,
		Catalog:           catalogClient,
		IDProvider:        deals.NewUUIDProvider(),
		Logger:            logger,
		AllowedStoreIDs:   appConfig.AllowedStoreIDs,
		StoreImageBaseURL: appConfig.ImageBaseURL,
	})
	if err != nil {
		return err
	}

	deleted, err := dealsService.CleanupOldDeals(ctx, time.Duration(olderThanDays)*24*time.Hour)
	if err != nil {
		return err
	}
	logger.Info("cleanup finished",
		zap.Int("older_than_days", olderThanDays),
		zap.Int64("deleted", deleted))
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
		Issuer:        "dealwatch-auth",
		Audience:      "dealwatch-api",
		AccessTTL:     appConfig.TokenTTL,
		RefreshTTL:    appConfig.RefreshTTL,
	})

	catalogClient := catalog.NewClient(catalog.ClientConfig{
		BaseURL:  appConfig.CatalogBaseURL,
		PageSize: appConfig.CatalogPageSize,
		Logger:   logger,
	})

	dealsService, err := deals.NewService(deals.ServiceConfig{
		Database:          db,
		Catalog:           catalogClient,
		IDProvider:        deals.NewUUIDProvider(),
		Logger:            logger,
		AllowedStoreIDs:   appConfig.AllowedStoreIDs,
		StoreImageBaseURL: appConfig.ImageBaseURL,
		PerStoreQuota:     appConfig.PerStoreQuota,
		TotalTarget:       appConfig.TotalTarget,
		ListingPageSize:   appConfig.ListingPageSize,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		DealsService: dealsService,
		UsersService: usersService,
		TokenManager: tokenManager,
		Logger:       logger,
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
