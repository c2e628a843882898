package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ShipTrack/internal/broker/kafka"
	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string
	proofDir    string // файлы для /proof/*, может быть пустым

	updatesTopic  string
	pushTopic     string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type routes interface {
	Routes(r chi.Router)
}

type eventHandler interface {
	RefreshCache(ctx context.Context, msg messages.TrackingUpdated) error
	ApplyCarrierPush(ctx context.Context, push messages.CarrierUpdate) (*models.Tracking, error)
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, api routes, events eventHandler, updates, pushes kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, newRouter(opts, api))
	}()

	if updates != nil {
		go consumeLoop(ctx, opts.updatesTopic, opts.consumerGroup, updates, trackingUpdatedHandler(ctx, events))
	}
	if pushes != nil {
		go consumeLoop(ctx, opts.pushTopic, opts.consumerGroup, pushes, carrierPushHandler(ctx, events))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func newRouter(opts trackAPIOpts, api routes) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	if opts.proofDir != "" {
		r.Handle("/proof/*", http.StripPrefix("/proof/", http.FileServer(http.Dir(opts.proofDir))))
	}

	api.Routes(r)
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// consumeLoop перезапускает чтение топика после ошибки обработчика,
// пока не отменён ctx. Упавшее сообщение Consumer отдаст первым.
func consumeLoop(ctx context.Context, topic, group string, c kafkaConsumer, handler func(key, value []byte) error) {
	slog.Info("kafka consumer started", "topic", topic, "group", group)
	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("kafka consumer stopped, restarting", "topic", topic, "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func trackingUpdatedHandler(ctx context.Context, events eventHandler) func(key, value []byte) error {
	return func(_ []byte, value []byte) error {
		var m messages.TrackingUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			return errors.Wrap(kafka.ErrSkipMessage, "malformed tracking.updated: "+err.Error())
		}
		err := events.RefreshCache(ctx, m)
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidInput) {
			return errors.Wrapf(kafka.ErrSkipMessage, "tracking %d: %v", m.TrackingID, err)
		}
		return err
	}
}

func carrierPushHandler(ctx context.Context, events eventHandler) func(key, value []byte) error {
	return func(_ []byte, value []byte) error {
		var push messages.CarrierUpdate
		if err := json.Unmarshal(value, &push); err != nil {
			return errors.Wrap(kafka.ErrSkipMessage, "malformed carrier update: "+err.Error())
		}
		_, err := events.ApplyCarrierPush(ctx, push)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidInput),
			errors.Is(err, models.ErrInvalidStatus), errors.Is(err, models.ErrAlreadyTerminal):
			// повтор не поможет
			return errors.Wrapf(kafka.ErrSkipMessage, "carrier update %s: %v", push.TrackingNumber, err)
		default:
			return err
		}
	}
}
