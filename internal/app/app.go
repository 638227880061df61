// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bissquit/courier/internal/auth"
	"github.com/bissquit/courier/internal/config"
	"github.com/bissquit/courier/internal/notifications"
	"github.com/bissquit/courier/internal/notifications/memory"
	notificationspostgres "github.com/bissquit/courier/internal/notifications/postgres"
	"github.com/bissquit/courier/internal/pkg/ctxlog"
	"github.com/bissquit/courier/internal/pkg/httputil"
	"github.com/bissquit/courier/internal/pkg/lease"
	"github.com/bissquit/courier/internal/pkg/logging"
	"github.com/bissquit/courier/internal/pkg/metrics"
	"github.com/bissquit/courier/internal/pkg/postgres"
	"github.com/bissquit/courier/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const metricsInterval = 15 * time.Second

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	logCloser     io.Closer
	db            *pgxpool.Pool
	repo          notifications.Repository
	lease         *lease.RedisLease
	components    *components
	sweepJob      *SweepJob
	server        *http.Server
	metricsServer *http.Server
}

// New creates a new application instance: it connects the store, builds the
// delivery components and the HTTP servers. Nothing is started until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, logCloser := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File: logging.FileConfig{
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	})
	slog.SetDefault(logger)
	metrics.SetBuildInfo(version.Version, version.GitCommit)

	a := &App{config: cfg, logger: logger, logCloser: logCloser}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Sweeper.Lease.Enabled {
		l, err := lease.Connect(ctx, lease.Config{
			URL:      cfg.Sweeper.Lease.RedisURL,
			Password: cfg.Sweeper.Lease.RedisPassword,
			Key:      cfg.Sweeper.Lease.Key,
			TTL:      cfg.Sweeper.Lease.TTL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect sweep lease: %w", err)
		}
		a.lease = l
	}

	c, err := buildComponents(cfg, a.repo, a.lease)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.components = c

	if cfg.Sweeper.Enabled {
		job, err := NewSweepJob(c.sweeper, cfg.Sweeper.Interval)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sweepJob = job
	}

	router, err := a.setupRouter()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	a.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.config.Storage.Driver {
	case "memory":
		a.logger.Warn("using in-memory store: queued deliveries are lost on restart")
		a.repo = memory.NewStore()
		return nil
	default:
		connectCtx, cancel := context.WithTimeout(ctx, a.config.Database.ConnectTimeout)
		defer cancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             a.config.Database.URL,
			MaxOpenConns:    a.config.Database.MaxOpenConns,
			MaxIdleConns:    a.config.Database.MaxIdleConns,
			ConnMaxLifetime: a.config.Database.ConnMaxLifetime,
			ConnectAttempts: a.config.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db
		a.repo = notificationspostgres.NewRepository(db)
		return nil
	}
}

// Run serves HTTP, runs the sweeper schedule and collects gauges until ctx is
// cancelled or one of them fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting metrics server", "host", a.config.Server.Host, "port", a.config.Server.MetricsPort)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("starting server", "host", a.config.Server.Host, "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	if a.sweepJob != nil {
		g.Go(func() error {
			a.sweepJob.Start()
			<-gctx.Done()
			return a.sweepJob.Stop()
		})
	}

	g.Go(func() error {
		a.collectMetrics(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.config.Server.ShutdownTimeout)
		defer cancel()
		return a.shutdownServers(shutdownCtx)
	})

	return g.Wait()
}

// Sweep runs one sweep outside the schedule, for the sweep command and external cron.
func (a *App) Sweep(ctx context.Context) (int, error) {
	return a.components.sweeper.Sweep(ctx)
}

func (a *App) shutdownServers(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	g := new(errgroup.Group)
	g.Go(func() error {
		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases the store, the lease client and the log file.
func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.lease != nil {
		if err := a.lease.Close(); err != nil {
			a.logger.Warn("failed to close lease client", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

func (a *App) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		a.recordMetrics(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) recordMetrics(ctx context.Context) {
	if a.db != nil {
		metrics.RecordDBPoolMetrics(a.db)
	}
	stats, err := a.repo.GetQueueStats(ctx, nil)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("failed to get queue stats", "error", err)
		}
		return
	}
	notifications.RecordQueueStats(stats)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	handler := notifications.NewHandler(a.components.service)

	var authMiddleware func(http.Handler) http.Handler
	if a.config.Auth.Enabled {
		authenticator, err := auth.NewAuthenticator(authConfig(a.config.Auth))
		if err != nil {
			return nil, fmt.Errorf("create authenticator: %w", err)
		}
		authMiddleware = httputil.AuthMiddleware(authenticator)
	} else {
		a.logger.Warn("service token auth is disabled: the delivery API is open")
	}

	r.Route("/api/v1", func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		handler.RegisterRoutes(r)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		httputil.Text(w, http.StatusOK, "OK")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func authConfig(cfg config.AuthConfig) auth.Config {
	return auth.Config{
		Secret:          cfg.Secret,
		Issuer:          cfg.Issuer,
		TokenTTL:        cfg.TokenTTL,
		AllowedServices: cfg.AllowedServices,
	}
}

// NewAuthenticator builds the service token authenticator from configuration.
func NewAuthenticator(cfg config.AuthConfig) (*auth.Authenticator, error) {
	return auth.NewAuthenticator(authConfig(cfg))
}
