package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hfsql/hfsql/internal/api"
	"github.com/hfsql/hfsql/internal/auth"
	"github.com/hfsql/hfsql/internal/config"
	"github.com/hfsql/hfsql/internal/datasets"
	"github.com/hfsql/hfsql/internal/explorer"
	"github.com/hfsql/hfsql/internal/export"
	"github.com/hfsql/hfsql/internal/observability"
	"github.com/hfsql/hfsql/internal/preferences"
	prefpostgres "github.com/hfsql/hfsql/internal/preferences/postgres"
	"github.com/hfsql/hfsql/internal/query"
	duckdbengine "github.com/hfsql/hfsql/internal/query/duckdb"
	s3store "github.com/hfsql/hfsql/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("hfsql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	defaults := preferences.Preferences{
		LoadViewsOnStartup: cfg.Preferences.LoadViewsOnStartup,
		ShowExplorer:       cfg.Preferences.ShowExplorer,
		APIToken:           cfg.Hub.APIToken,
	}
	var prefStore preferences.Store = preferences.NewMemoryStore(defaults)
	var readiness []api.ReadinessCheck
	if cfg.Catalog.DSN != "" {
		prefDB, err := prefpostgres.Open(startupCtx, prefpostgres.Config{
			DSN:             cfg.Catalog.DSN,
			MaxOpenConns:    cfg.Catalog.MaxOpenConns,
			MaxIdleConns:    cfg.Catalog.MaxIdleConns,
			ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
			PingTimeout:     cfg.Catalog.PingTimeout,
		})
		if err != nil {
			logger.Error("failed to open preferences db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = prefDB.Close() }()
		store := prefpostgres.NewStore(prefDB, defaults)
		prefStore = store
		readiness = append(readiness, store.HealthCheck)
	}

	var exports *export.Service
	if cfg.ObjectStore.Endpoint != "" {
		objectStore, err := s3store.New(startupCtx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		exports = export.NewService(objectStore, export.Options{Logger: logger})
	}

	metadata, err := datasets.NewClient(datasets.Config{
		BaseURL:  cfg.Hub.DatasetsServerURL,
		APIToken: cfg.Hub.APIToken,
		Timeout:  cfg.Hub.Timeout,
	})
	if err != nil {
		logger.Error("failed to initialize datasets client", slog.Any("error", err))
		os.Exit(1)
	}

	client := query.NewClient(duckdbengine.Opener(duckdbengine.Config{
		Path:             cfg.Engine.DatabasePath,
		Threads:          cfg.Engine.Threads,
		MemoryLimit:      cfg.Engine.MemoryLimit,
		BatchSize:        cfg.Engine.BatchSize,
		EnableHTTPFS:     cfg.Engine.EnableHTTPFS,
		HuggingFaceToken: cfg.Hub.APIToken,
	}), query.Options{Logger: logger})
	if err := client.Initialize(startupCtx); err != nil {
		logger.Error("failed to initialize query engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	session := explorer.NewSession(explorer.FromClient(client), explorer.Options{
		Logger:      logger,
		Metadata:    metadata,
		Preferences: prefStore,
		Exports:     exports,
		Dataset:     cfg.Hub.Dataset,
	})
	if loaded, err := session.Startup(startupCtx); err != nil {
		logger.Warn("startup views were not loaded", slog.String("dataset", cfg.Hub.Dataset), slog.Any("error", err))
	} else if loaded {
		logger.Info("startup views loaded", slog.String("dataset", cfg.Hub.Dataset))
	}

	readiness = append(readiness, api.CheckEngine(session), api.CheckObjectStoreConfig(cfg))
	deps := api.Dependencies{
		Logger:            logger,
		Explorer:          session,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	session.Cancel(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
