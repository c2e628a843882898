package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipTrack/config"
	trackingsapi "github.com/BearBump/ShipTrack/internal/api/trackings_api"
	"github.com/BearBump/ShipTrack/internal/auth/identity"
	"github.com/BearBump/ShipTrack/internal/broker/kafka"
	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/integrations/notify"
	"github.com/BearBump/ShipTrack/internal/services/trackings"
	"github.com/BearBump/ShipTrack/internal/storage/objectstore/static"
	"github.com/BearBump/ShipTrack/internal/storage/pgtracking"
	"github.com/BearBump/ShipTrack/internal/wiring"
)

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts

	api     *trackingsapi.TrackingsAPI
	svc     *trackings.Service
	updates *kafka.Consumer
	pushes  *kafka.Consumer

	closers []func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if cfg.Auth.JWTSecret == "" {
		panic("auth.jwt_secret is required")
	}

	httpAddr := cfg.ShipTrack.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ShipTrack.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	updatesTopic := wiring.TrackingUpdatedTopic(cfg)
	pushTopic := cfg.Kafka.CarrierUpdatesTopicName
	if pushTopic == "" {
		pushTopic = wiring.DefaultCarrierUpdatesTopic
	}
	cacheTTL := time.Duration(cfg.ShipTrack.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app := &trackAPIApp{ctx: ctx, cancel: cancel}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
	app.closers = append(app.closers, st.Close)

	redisAddr := cfg.Redis.Addr()
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)
	locker := rediscache.NewLocker(redisAddr)
	app.closers = append(app.closers,
		func() { _ = rc.Close() },
		func() { _ = rl.Close() },
		func() { _ = locker.Close() },
	)

	brokers := cfg.Kafka.Brokers()
	producer := kafka.NewProducer(brokers)
	app.closers = append(app.closers, func() { _ = producer.Close() })

	store, err := wiring.ProofStore(ctx, cfg)
	if err != nil {
		panic(err)
	}
	if store == nil {
		slog.Warn("proof store is not configured, delivered checkpoints will have no proof")
	}

	carriers := wiring.Carriers(cfg.Carrier)
	rec := wiring.NewReconciler(cfg, wiring.ReconcilerDeps{
		Repo:        st,
		Producer:    producer,
		RateLimiter: rl,
		Locker:      locker,
		Store:       store,
		Carriers:    carriers,
	})

	svc := trackings.New(st, rec, carriers, rc, cacheTTL).
		WithNotifier(notify.NewSender(producer, wiring.NotificationsTopic(cfg)), cfg.ShipTrack.FrontendURL).
		WithLiveTimeout(time.Duration(cfg.ShipTrack.LiveFetchTimeoutSeconds) * time.Second)
	if cfg.ShipTrack.BackendURL != "" {
		svc = svc.WithProofResolver(static.New(cfg.ShipTrack.BackendURL))
	}

	app.svc = svc
	app.api = trackingsapi.New(svc, identity.NewVerifier(cfg.Auth.JWTSecret)).
		WithWebhookSecret(cfg.Carrier.WebhookSecret, time.Duration(cfg.Carrier.WebhookSkewSeconds)*time.Second)

	app.updates = kafka.NewConsumer(brokers, updatesTopic, consumerGroup)
	app.pushes = kafka.NewConsumer(brokers, pushTopic, consumerGroup)

	app.opts = trackAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		proofDir:      os.Getenv("proofDir"),
		updatesTopic:  updatesTopic,
		pushTopic:     pushTopic,
		consumerGroup: consumerGroup,
	}

	slog.Info("track-api configured",
		"http_addr", httpAddr,
		"carriers", len(carriers),
		"webhook_enabled", cfg.Carrier.WebhookSecret != "",
	)
	return app
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtracking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.updates != nil {
		_ = a.updates.Close()
	}
	if a.pushes != nil {
		_ = a.pushes.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.api, a.svc, a.updates, a.pushes)
}
