package main

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/BearBump/ShipTrack/config"
	"github.com/BearBump/ShipTrack/internal/broker/kafka"
	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/services/poller"
	"github.com/BearBump/ShipTrack/internal/services/reconciler"
	"github.com/BearBump/ShipTrack/internal/storage/pgtracking"
	"github.com/BearBump/ShipTrack/internal/wiring"
)

type workerRepo interface {
	wiring.Repository
	poller.Repository
	poller.ProjectionRepository
	Ping(ctx context.Context) error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo workerRepo, closeFn func(), err error)
	newProducer    func(cfg *config.Config) wiring.Producer
	newRateLimiter func(cfg *config.Config) reconciler.RateLimiter
	newLocker      func(cfg *config.Config) reconciler.Locker
	newProofStore  func(ctx context.Context, cfg *config.Config) (reconciler.ObjectStore, error)
	newCarriers    func(cfg *config.Config) carrier.Registry
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepo, func(), error) {
			st, err := pgtracking.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) wiring.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
		newLocker: func(cfg *config.Config) reconciler.Locker {
			return rediscache.NewLocker(cfg.Redis.Addr())
		},
		newProofStore: wiring.ProofStore,
		newCarriers: func(cfg *config.Config) carrier.Registry {
			return wiring.Carriers(cfg.Carrier)
		},
	}
}

type workerSettings struct {
	pollInterval time.Duration
	batchSize    int
	concurrency  int
}

func settingsFrom(cfg *config.Config) workerSettings {
	s := workerSettings{
		pollInterval: time.Duration(cfg.ShipTrack.WorkerPollIntervalSeconds) * time.Second,
		batchSize:    cfg.ShipTrack.WorkerBatchSize,
		concurrency:  cfg.ShipTrack.WorkerConcurrency,
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 50
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	return s
}

// RunTrackWorker поднимает планировщик и, если задан swaggerPath,
// служебный HTTP. Возвращается после отмены ctx.
func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	store, err := f.newProofStore(ctx, cfg)
	if err != nil {
		return err
	}

	producer := f.newProducer(cfg)
	if c, ok := producer.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	rec := wiring.NewReconciler(cfg, wiring.ReconcilerDeps{
		Repo:        repo,
		Producer:    producer,
		RateLimiter: f.newRateLimiter(cfg),
		Locker:      f.newLocker(cfg),
		Store:       store,
		Carriers:    f.newCarriers(cfg),
	})

	s := settingsFrom(cfg)
	p := poller.New(repo, rec).
		WithSettings(s.pollInterval, s.batchSize, s.concurrency).
		WithProjectionSweep(repo, wiring.NewProjector(cfg, repo, producer))

	if httpOpts.swaggerPath != "" {
		httpOpts.poller = p
		httpOpts.cfg = cfg
		httpOpts.ready = repo.Ping
		go func() {
			if err := runWorkerHTTPServer(ctx, httpOpts); err != nil {
				slog.Error("worker http server stopped", "error", err.Error())
			}
		}()
	}

	slog.Info("track-worker started",
		"poll_interval", s.pollInterval.String(),
		"batch_size", s.batchSize,
		"concurrency", s.concurrency,
	)
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}
