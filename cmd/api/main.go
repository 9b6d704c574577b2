package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carecoop/internal/api"
	"carecoop/internal/config"
	"carecoop/internal/database"
	"carecoop/internal/domain"
	"carecoop/internal/events"
	"carecoop/internal/google"
	"carecoop/internal/logging"
	"carecoop/internal/metrics"
	"carecoop/internal/repository"
	"carecoop/internal/scheduling"
	"carecoop/internal/service"
	"carecoop/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultQueuePath     = "data/sync_queue.db"
	rosterCacheRefresh   = 10 * time.Minute
	shutdownGracePeriod  = 10 * time.Second
	metricsShutdownGrace = 3 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	life := newLifecycle(sigCtx, logger)
	defer life.Stop()
	ctx := life.Context()

	redisClient := initRedis(ctx, cfg, logger)
	// The redis store owns and closes its client.
	if redisClient != nil && cfg.Storage.Backend != config.BackendRedis {
		life.OnStop(redisClient)
	}

	store, db, err := initStore(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	life.OnStop(store)

	if db != nil {
		backup := database.NewBackupService(db, cfg.Backup, logger)
		life.Go(backup.Start)
	}

	engine := scheduling.NewEngine(scheduling.Options{
		Window:         cfg.Scheduling.Window(),
		StepMinutes:    cfg.Scheduling.StepMinutes,
		MaxSuggestions: cfg.Scheduling.MaxSuggestions,
		MaxInstances:   cfg.Scheduling.MaxRecurrenceInstances,
	})

	bus := events.NewEventBus()
	bus.SubscribeAll(events.LogHandler(logging.Component(logger, "events")))
	bus.OnError(func(event *events.Event, err error) {
		logger.Error().Err(err).Str("event", event.Type).Msg("event handler failed")
	})

	svc := service.NewBookingService(store, engine, bus, nil, logger)
	svc.SetExportDir(cfg.Exports.Path)

	if err := initRosterSync(life, cfg, db, redisClient, svc, logger); err != nil {
		return err
	}

	startMetrics(life, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.API, svc, store, logger)
	return serve(ctx, httpServer, cfg, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The redis backend can still start degraded behind the failover store.
		if cfg.Storage.Backend == config.BackendRedis && cfg.Storage.Failover {
			logger.Warn().Err(err).Msg("redis unreachable, starting on fallback store")
			return client
		}
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

// initStore opens the configured backend. The sqlite handle is returned
// separately for the backup service.
func initStore(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (domain.Store, *database.DB, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, db, nil

	case config.BackendRedis:
		if redisClient == nil {
			return nil, nil, errors.New("redis backend selected but redis is unavailable")
		}
		var store domain.Store = repository.NewRedisStore(redisClient)
		if cfg.Storage.Failover {
			store = repository.NewFailoverStore(store, repository.NewMemoryStore(), logging.Component(logger, "failover_store"))
		}
		logger.Info().Bool("failover", cfg.Storage.Failover).Msg("using redis booking store")
		return store, nil, nil

	case config.BackendMemory:
		logger.Warn().Msg("using in-memory booking store, data is lost on restart")
		return repository.NewMemoryStore(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// initRosterSync connects the shared roster and starts the sync worker. The
// durable task queue lives in sqlite; backends other than sqlite get a
// dedicated queue database, closed by life once the worker has stopped.
func initRosterSync(
	life *lifecycle,
	cfg *config.Config,
	db *database.DB,
	redisClient *redis.Client,
	svc *service.BookingService,
	logger *zerolog.Logger,
) error {
	ctx := life.Context()
	if !cfg.Google.Enabled() {
		logger.Info().Msg("roster sync disabled")
		return nil
	}

	roster, err := google.NewRosterSheet(ctx, cfg.Google.CredentialsFile, cfg.Google.RosterSpreadsheetID, cfg.Google.RosterSheetName, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without roster sync")
		return nil
	}
	if err := roster.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("roster sheet unreachable, tasks will retry")
	}
	life.Go(func(ctx context.Context) { roster.Start(ctx, rosterCacheRefresh) })

	queue := db
	if queue == nil {
		path := cfg.Database.Path
		if path == "" {
			path = defaultQueuePath
		}
		queue, err = database.NewDB(path, logger)
		if err != nil {
			return fmt.Errorf("open sync queue: %w", err)
		}
		life.OnStop(queue)
	}

	if failed, err := queue.GetFailedSyncTasks(ctx); err == nil {
		for _, t := range failed {
			ev := logger.Warn().Int64("task_id", t.ID).Str("booking_id", t.BookingID).Str("task", t.TaskType)
			if t.LastError != nil {
				ev = ev.Str("error", *t.LastError)
			}
			ev.Msg("retrying dead roster sync task")
		}
	}
	if n, err := queue.RequeueFailedSyncTasks(ctx); err != nil {
		logger.Warn().Err(err).Msg("requeue failed sync tasks")
	} else if n > 0 {
		logger.Info().Int64("tasks", n).Msg("requeued failed roster sync tasks")
	}

	syncWorker := worker.NewRosterSyncWorker(queue, roster, redisClient, worker.DefaultRetryPolicy, logger)
	life.Go(syncWorker.Start)

	svc.SetSyncWorker(syncWorker)
	svc.SetRosterReplacer(roster)
	logger.Info().Str("sheet", cfg.Google.RosterSheetName).Msg("roster sync enabled")
	return nil
}

func startMetrics(life *lifecycle, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	life.Go(func(ctx context.Context) {
		startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	})
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("backend", cfg.Storage.Backend).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), metricsShutdownGrace)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
