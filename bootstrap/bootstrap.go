// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/codelens/quotagate/adapters/clock"
	adapterhttp "github.com/codelens/quotagate/adapters/http"
	"github.com/codelens/quotagate/adapters/idgen"
	"github.com/codelens/quotagate/adapters/memory"
	"github.com/codelens/quotagate/adapters/metrics"
	"github.com/codelens/quotagate/adapters/mongo"
	"github.com/codelens/quotagate/adapters/redis"
	"github.com/codelens/quotagate/adapters/sqlite"
	"github.com/codelens/quotagate/app"
	"github.com/codelens/quotagate/config"
	"github.com/codelens/quotagate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	Store      ports.UsageStore
	Quota      *app.QuotaService
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	holder *config.Holder

	// Adapters (for cleanup)
	db         *sqlite.DB
	mongoStore *mongo.UsageStore
	redisStore *redis.UsageStore
}

// New creates and initializes the application from a loaded config.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	logger.Info().Msg("initializing quotagate")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	a.initStore()
	a.initQuotaService()
	a.initHTTPServer()

	return a, nil
}

// NewWithHotReload creates the application with config file watching. Edits
// to the file and SIGHUP both reload; the daily limit takes effect without a
// restart.
func NewWithHotReload(path string) (*App, error) {
	bootLogger := setupLogger(config.LoggingConfig{Level: "info", Format: "console"})

	holder, err := config.NewHolder(path, bootLogger)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a, err := New(holder.Get())
	if err != nil {
		holder.Stop()
		return nil, err
	}
	a.holder = holder

	holder.OnChange(func(cfg *config.Config) {
		a.Quota.SetDailyLimit(cfg.Quota.DailyLimit)
	})

	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watching disabled")
	}
	holder.WatchSignals()

	return a, nil
}

// initStore builds the usage store named by the config. A backend that fails
// to come up is logged and replaced with the in-memory store: the quota
// service fails open, it never refuses to start.
func (a *App) initStore() {
	cfg := a.Config.Store
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.DSN)
		if err == nil {
			if merr := db.Migrate(); merr != nil {
				db.Close()
				err = merr
			}
		}
		if err != nil {
			a.Logger.Warn().Err(err).Str("dsn", cfg.DSN).Msg("sqlite store unavailable, falling back to memory")
			break
		}
		a.db = db
		a.Store = sqlite.NewUsageStore(db)
		a.Logger.Info().Str("dsn", cfg.DSN).Msg("sqlite store initialized")

	case "mongo":
		store, err := mongo.Connect(ctx, cfg.DSN, cfg.Database)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("mongo store unavailable, falling back to memory")
			break
		}
		a.mongoStore = store
		a.Store = store
		a.Logger.Info().Msg("mongo store initialized")

	case "redis":
		store, err := redis.Connect(ctx, cfg.DSN)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("redis store unavailable, falling back to memory")
			break
		}
		a.redisStore = store
		a.Store = store
		a.Logger.Info().Msg("redis store initialized")
	}

	if a.Store == nil {
		a.Store = memory.NewUsageStore()
		if cfg.Driver == "memory" {
			a.Logger.Info().Msg("memory store initialized")
		}
	}
}

func (a *App) initQuotaService() {
	if a.Config.Metrics.Enabled {
		a.Metrics = metrics.New()
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	svcCfg := app.QuotaConfig{
		DailyLimit:   a.Config.Quota.DailyLimit,
		Location:     a.Config.Location(),
		StoreTimeout: a.Config.Store.Timeout,
	}

	if a.Metrics != nil {
		a.Quota = app.NewQuotaServiceWithMetrics(a.Store, clock.Real{}, idgen.UUID{}, svcCfg, a.Logger, a.Metrics)
	} else {
		a.Quota = app.NewQuotaService(a.Store, clock.Real{}, idgen.UUID{}, svcCfg, a.Logger)
	}

	a.Logger.Info().
		Int("daily_limit", a.Config.Quota.DailyLimit).
		Str("timezone", a.Config.Quota.Timezone).
		Msg("quota service initialized")
}

func (a *App) initHTTPServer() {
	handler := adapterhttp.NewHandler(a.Quota, a.Logger)
	health := adapterhttp.NewHealthHandler(a.Store)

	router := adapterhttp.NewRouter(handler, health, a.Logger, adapterhttp.RouterConfig{
		MetricsEnabled: a.Config.Metrics.Enabled,
		MetricsPath:    a.Config.Metrics.Path,
		Metrics:        a.Metrics,
	})

	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("sqlite close error")
		}
	}
	if a.mongoStore != nil {
		if err := a.mongoStore.Close(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("mongo close error")
		}
	}
	if a.redisStore != nil {
		if err := a.redisStore.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
