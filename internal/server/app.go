// Package server wires the cabinet service together: database, content
// store, services, expiry reaper and the HTTP endpoint, with graceful
// shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tempcab/cabinet/internal/logging"
	"github.com/tempcab/cabinet/internal/server/config"
	"github.com/tempcab/cabinet/internal/server/httpapi"
	"github.com/tempcab/cabinet/internal/server/repositories/repomanager"
	"github.com/tempcab/cabinet/internal/server/services"
	"github.com/tempcab/cabinet/internal/server/storage"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	cabinets    *services.CabinetService
	credentials *services.CredentialService
	reaper      *services.Reaper
	api         *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	content, err := newContentStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("content store init error: %w", err)
	}

	cabinets := services.NewCabinetService(db, rm, content, cfg.CabinetCapacity, logger)
	credentials := services.NewCredentialService(db, rm, cfg.MaxKeypairs, logger)
	reaper := services.NewReaper(cabinets, credentials, cfg.SweepInterval, logger)
	api := httpapi.New(cabinets, credentials, logger)

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		cabinets:    cabinets,
		credentials: credentials,
		reaper:      reaper,
		api:         api,
	}, nil
}

func newContentStore(ctx context.Context, cfg *config.Config) (storage.ContentStore, error) {
	switch cfg.ContentBackend {
	case config.ContentBackendFS:
		return storage.NewFileStore(cfg.ContentDir)
	case config.ContentBackendS3:
		return storage.NewS3Store(ctx, storage.S3Options{
			Region:       cfg.S3Region,
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Bucket:       cfg.S3Bucket,
		})
	default:
		return nil, fmt.Errorf("unsupported content backend %q", cfg.ContentBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.api.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reaper.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
