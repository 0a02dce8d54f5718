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

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	storeadapter "github.com/arborops/veggateway/internal/adapter/driven/store"
	upstreamadapter "github.com/arborops/veggateway/internal/adapter/driven/upstream"
	httphandler "github.com/arborops/veggateway/internal/adapter/driving/http"
	"github.com/arborops/veggateway/internal/application"
	"github.com/arborops/veggateway/internal/config"
	"github.com/arborops/veggateway/internal/domain/model"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"upstream_base_url", cfg.UpstreamBaseURL,
		"db_driver", cfg.DBDriver,
		"max_retries", cfg.MaxRetries,
	)
	if !cfg.HasServiceCredential() {
		slog.Warn("no service credential configured, callers without stored credentials cannot reach the upstream")
	}

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database and run migrations.
	db, err := storeadapter.Open(cfg.DBDriver, cfg.DBPath, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.RunMigrations(); err != nil {
		return err
	}
	slog.Info("database ready", "driver", cfg.DBDriver)

	// 4. Wire driven adapters.
	if cfg.SecretKey == nil {
		slog.Warn("VEGGW_SECRET_KEY not set, per-caller credential storage is disabled")
	}
	credentialStore := storeadapter.NewCredentialRepo(db, cfg.SecretKey)
	profileStore := storeadapter.NewProfileRepo(db)
	snapshotStore := storeadapter.NewSnapshotRepo(db)

	// 5. Application services. The credential resolver doubles as the
	// executor's validity marker.
	resolver := application.NewCredentialResolver(
		credentialStore,
		profileStore,
		model.Credential{Principal: cfg.ServicePrincipal, Secret: cfg.ServiceSecret},
		slog.Default(),
	)

	executor := upstreamadapter.NewClient(
		cfg.UpstreamBaseURL,
		cfg.ConnectTimeout,
		cfg.RequestTimeout,
		cfg.MaxRetries,
		resolver,
		slog.Default(),
	)

	scopeResolver := application.NewScopeResolver(cfg.GroupRegionMap, cfg.DefaultRegions, cfg.PlannerRegions)
	scopes := application.NewScopeService(profileStore, scopeResolver, cfg)
	caster := application.NewColumnCaster(cfg.UpstreamTimeZone)
	mapper := application.NewSnapshotMapper(snapshotStore)

	gateway := application.NewGateway(scopes, resolver, executor, caster, mapper, slog.Default())

	// 6. Start the snapshot refresh scheduler when configured.
	refresh := application.NewRefreshService(gateway, slog.Default())
	if err := refresh.Schedule(ctx, cfg.RefreshSchedule, cfg.RefreshOps); err != nil {
		return err
	}
	if cfg.RefreshSchedule != "" {
		slog.Info("refresh scheduler started", "schedule", cfg.RefreshSchedule, "ops", cfg.RefreshOps)
	}

	// 7. HTTP server.
	apiHandler := httphandler.NewHandler(gateway, refresh, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute, // upstream retries can block a request for a while
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return nil
}
