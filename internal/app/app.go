package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/filter"
	"github.com/starCarlos/HotSpot-Hunter/internal/importance"
	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/fetcher"
	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/llm"
	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/notify"
	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/scheduler"
	"github.com/starCarlos/HotSpot-Hunter/internal/infrastructure/storage"
	"github.com/starCarlos/HotSpot-Hunter/internal/logging"
	"github.com/starCarlos/HotSpot-Hunter/internal/monitoring"
	"github.com/starCarlos/HotSpot-Hunter/internal/scanner"
	"github.com/starCarlos/HotSpot-Hunter/internal/usecase"
)

// shutdownGrace bounds how long in-flight classification workers may keep
// running after the scheduler stops.
const shutdownGrace = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	engine   *storage.Engine
	pipeline *usecase.Pipeline
	sched    *scheduler.IntervalScheduler
	listener *monitoring.Listener
}

// New builds a runnable application instance. Construction validates the
// classifier configuration; a disabled classifier yields a crawl-only app.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	engine := storage.NewEngine(cfg.Storage.DataDir, cfg.Storage.BusyTimeoutMS,
		baseLogger.With("component", "storage"))

	registry := scanner.NewRegistry()
	registry.Register(fetcher.NewNewsNowScanner(nil, cfg.Crawl.APIBaseURL))
	registry.Register(fetcher.NewBoardScanner(nil))
	source := fetcher.NewSource(registry, cfg.Crawl.Platforms, cfg.Crawl.RequestIntervalMS,
		baseLogger.With("component", "source"))

	keywordFilter, err := filter.LoadFile(cfg.Crawl.FrequencyFile)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	var analyzer *importance.Analyzer
	if cfg.Classifier.Enabled() {
		chatClient, err := llm.New(cfg.Classifier, baseLogger.With("component", "classifier"))
		if err != nil {
			return nil, err
		}
		analyzer = importance.New(chatClient, engine, cfg.Importance,
			baseLogger.With("component", "importance"))
	} else {
		baseLogger.Info("classifier disabled, running crawl-only")
	}

	var feedSource *fetcher.FeedFetcher
	if len(cfg.Feeds) > 0 {
		feedSource = fetcher.NewFeedFetcher(nil, cfg.Feeds, baseLogger.With("component", "feeds"))
	}

	sink := notify.FromConfig(cfg.Notifications, nil, baseLogger.With("component", "notify"))

	deps := usecase.PipelineDeps{
		Source:   source,
		Store:    engine,
		Analyzer: analyzer,
		Filter:   keywordFilter,
		Metrics:  metrics,
		Logger:   baseLogger.With("component", "pipeline"),
	}
	if feedSource != nil {
		deps.FeedSource = feedSource
		deps.FeedStore = engine.Feeds()
	}
	if sink.Enabled() {
		deps.Sink = sink
		deps.Pushes = engine
	}
	pipeline := usecase.NewPipeline(deps)

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		engine:   engine,
		pipeline: pipeline,
		sched:    scheduler.NewIntervalScheduler(cfg.Scheduler.Interval(), cfg.Scheduler.Location()),
		listener: monitoring.NewListener(cfg.Metrics.ListenAddr, reg, baseLogger.With("component", "metrics")),
	}, nil
}

// RunOnce executes a single ingestion cycle, for one-shot invocations.
func (a *Application) RunOnce(ctx context.Context) error {
	defer a.engine.Close()
	err := a.cycle(ctx, time.Now().In(a.cfg.Scheduler.Location()))
	a.pipeline.Drain(shutdownGrace)
	return err
}

// Run starts the scheduler and blocks until the context is cancelled,
// then stops with a bounded grace period for in-flight workers.
func (a *Application) Run(ctx context.Context) error {
	if a.listener != nil {
		go a.listener.Start()
	}

	err := a.sched.Start(ctx, func(now time.Time) {
		if cErr := a.cycle(ctx, now); cErr != nil {
			a.logger.Error("ingestion cycle failed", "err", cErr)
		}
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	a.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := a.sched.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop failed", "err", err)
	}
	if !a.pipeline.Drain(shutdownGrace) {
		a.logger.Warn("abandoning in-flight classification workers", "grace", shutdownGrace)
	}
	if a.listener != nil {
		if err := a.listener.Stop(stopCtx); err != nil {
			a.logger.Warn("metrics listener stop failed", "err", err)
		}
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("storage close failed", "err", err)
	}
	return nil
}

// cycle runs one ingestion pass plus the retention purge when configured.
func (a *Application) cycle(ctx context.Context, now time.Time) error {
	if err := a.pipeline.ProcessCycle(ctx, now); err != nil {
		return err
	}

	if days := a.cfg.Storage.RetentionDays; days > 0 {
		cutoff := now.AddDate(0, 0, -days)
		deleted, err := a.engine.PurgeBefore(ctx, cutoff)
		if err != nil {
			a.logger.Warn("retention purge failed", "err", err)
		} else if deleted > 0 {
			a.logger.Info("retention purge done", "partitions", deleted)
		}
	}
	return nil
}
