package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/ember/internal/adapters/index"
	"github.com/okian/ember/internal/adapters/mq/queue"
	"github.com/okian/ember/internal/adapters/mq/worker"
	"github.com/okian/ember/internal/adapters/rank"
	"github.com/okian/ember/internal/adapters/repository"
	"github.com/okian/ember/internal/app"
	"github.com/okian/ember/internal/config"
	"github.com/okian/ember/internal/domain/category"
	"github.com/okian/ember/internal/domain/dedupe"
	"github.com/okian/ember/internal/domain/model"
	"github.com/okian/ember/internal/domain/thermometer"
	"github.com/okian/ember/pkg/logger"
	"github.com/okian/ember/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	// We collect our own custom system metrics instead.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env).
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input).
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Relational store.
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Error(ctx, "failed to open database", logger.Error(err))
		return
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Error(ctx, "failed to migrate schema", logger.Error(err))
		return
	}
	repo := repository.New(db)

	// Document index.
	idx, err := index.Open(cfg.IndexPath, index.WithPageSize(cfg.PageSize))
	if err != nil {
		log.Error(ctx, "failed to open document index", logger.String("path", cfg.IndexPath), logger.Error(err))
		return
	}
	defer idx.Close()

	// Counter repair pipeline.
	repairQueue := queue.NewInMemoryQueue(queue.WithCapacity(cfg.RepairQueueSize))
	coalescer := dedupe.NewInMemoryCoalescer(dedupe.WithMaxSize(cfg.DedupeSize))
	pool := worker.NewPool(cfg.RepairWorkerCount, repairQueue, repo, idx, worker.WithReleaser(coalescer))
	pool.Start(ctx)

	meter := thermometer.New(
		thermometer.WithWeights(parseWeights(ctx, cfg.CategoryWeights)),
		thermometer.WithMaxScore(cfg.MaxThermometer),
	)

	svc := app.NewService(repo, idx, rank.NewBoard(),
		app.WithLogger(log),
		app.WithMeter(meter),
		app.WithRepairQueue(repairQueue),
		app.WithCoalescer(coalescer),
		app.WithQnetImage(cfg.QnetImage),
	)

	if err := svc.Hydrate(ctx); err != nil {
		log.Error(ctx, "failed to hydrate rank boards", logger.Error(err))
		return
	}

	go startSystemMetricsUpdater(ctx)

	// Operational endpoints only; business routing lives elsewhere.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			return
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "repair pool shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// parseWeights converts configured category names to typed weights.
// Unknown names are logged and skipped.
func parseWeights(ctx context.Context, raw map[string]float64) map[category.Category]float64 {
	weights := make(map[category.Category]float64, len(raw))
	for name, weight := range raw {
		cat, err := category.Parse(name)
		if err != nil {
			logger.Get().Warn(ctx, "ignoring unknown category weight", logger.String("category", name))
			continue
		}
		weights[cat] = weight
	}
	return weights
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
