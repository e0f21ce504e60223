package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/changeset"
	"github.com/stackbound/varstore/internal/config"
	"github.com/stackbound/varstore/internal/db"
	"github.com/stackbound/varstore/internal/directory"
	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/export"
	"github.com/stackbound/varstore/internal/httpapi"
	"github.com/stackbound/varstore/internal/metrics"
	"github.com/stackbound/varstore/internal/middleware"
	"github.com/stackbound/varstore/internal/permission"
	"github.com/stackbound/varstore/internal/repository"
	"github.com/stackbound/varstore/internal/repository/memory"
	"github.com/stackbound/varstore/internal/repository/postgres"
	"github.com/stackbound/varstore/internal/store"
)

// storage is satisfied by both the postgres and the in-memory backends.
type storage interface {
	Repositories() repository.Repositories
	InTx(ctx context.Context, fn func(repository.Repositories) error) error
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("VARSTORE_CONFIG"), logger)
	if err != nil {
		logger.Fatal("load configuration", zap.Error(err))
	}

	var backend storage
	switch cfg.Storage {
	case "memory":
		backend = memory.NewStore()
		logger.Info("using in-memory storage")
	default:
		conn, err := db.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connect to database", zap.Error(err))
		}
		defer conn.Close()
		if err := db.RunMigrations(ctx, conn.Pool, cfg.MigrationsPath, logger); err != nil {
			logger.Fatal("run migrations", zap.Error(err))
		}
		backend = postgres.NewStore(conn)
	}
	repos := backend.Repositories()

	m := metrics.New(prometheus.DefaultRegisterer)
	perms := permission.NewEngine(repos, logger, m)
	entityStore := store.New(repos, logger)
	changesets := changeset.NewManager(repos, backend, entityStore, perms, logger, m)
	dir := directory.New(repos, perms, logger)
	exporter := export.NewService(entityStore, perms, logger)

	if err := bootstrapAdmin(ctx, repos, cfg.BootstrapAdmin, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}

	api := httpapi.NewHandler(entityStore, changesets, perms, dir, exporter, repos, logger)
	mux := api.Routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(logger, m)(
			middleware.PrincipalMiddleware(
				middleware.GroupLoaderMiddleware(repos.Directory)(mux))))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}

// bootstrapAdmin seeds an admin user with a global admin grant when the
// directory is empty, so a fresh deployment has someone who can grant.
func bootstrapAdmin(ctx context.Context, repos repository.Repositories, name string, logger *zap.Logger) error {
	if name == "" {
		return nil
	}
	users, err := repos.Directory.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	admin, err := repos.Directory.CreateUser(ctx, domain.NewUser(name, ""))
	if err != nil {
		return err
	}
	grant := domain.NewGrant(
		domain.PrincipalRef{Type: domain.PrincipalUser, ID: admin.ID},
		domain.GlobalScope(),
		domain.PermissionAdmin,
		nil,
	)
	if _, err := repos.Grants.Insert(ctx, grant); err != nil {
		return err
	}
	logger.Info("bootstrapped admin user", zap.String("name", name), zap.String("id", admin.ID.String()))
	return nil
}
