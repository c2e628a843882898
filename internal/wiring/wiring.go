// Package wiring собирает общие для track-api и track-worker компоненты
// из конфига: адаптеры перевозчиков, хранилище доказательств и реконсилер.
package wiring

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/config"
	"github.com/BearBump/ShipTrack/internal/auth/ratingtoken"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier/aftership"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier/emulatorv1"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier/track24http"
	"github.com/BearBump/ShipTrack/internal/integrations/notify"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/projector"
	"github.com/BearBump/ShipTrack/internal/services/reconciler"
	"github.com/BearBump/ShipTrack/internal/storage/objectstore/s3store"
	"github.com/BearBump/ShipTrack/internal/storage/objectstore/static"
	"github.com/pkg/errors"
)

const (
	DefaultTrackingUpdatedTopic = "tracking.updated"
	DefaultCarrierUpdatesTopic  = "carrier.updates"
)

type Repository interface {
	reconciler.Repository
	projector.Repository
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Carriers регистрирует только те источники, для которых заданы ключи.
func Carriers(cfg config.CarrierConfig) carrier.Registry {
	reg := carrier.Registry{}
	if cfg.AfterShipAPIKey != "" {
		reg[models.TrackingSourceAfterShip] = aftership.New(cfg.AfterShipBaseURL, cfg.AfterShipAPIKey)
	}
	if cfg.EmulatorBaseURL != "" {
		reg[models.TrackingSourceEmulator] = emulatorv1.New(cfg.EmulatorBaseURL, cfg.EmulatorAPIKey)
	}
	if cfg.Track24BaseURL != "" && cfg.Track24APIKey != "" {
		reg[models.TrackingSourceTrack24] = track24http.New(cfg.Track24BaseURL, cfg.Track24APIKey, cfg.Track24Domain)
	}
	return reg
}

func CarrierRateLimits(cfg config.CarrierConfig) map[string]int64 {
	out := make(map[string]int64, len(cfg.RateLimits))
	for src, n := range cfg.RateLimits {
		if n > 0 {
			out[strings.ToLower(src)] = int64(n)
		}
	}
	return out
}

// ProofStore выбирает S3, если задан bucket, иначе раздачу файлов самим
// backend. Возвращает nil, если не настроено ни то, ни другое.
func ProofStore(ctx context.Context, cfg *config.Config) (reconciler.ObjectStore, error) {
	if cfg.Storage.Bucket != "" {
		st, err := s3store.New(s3store.Config{
			Endpoint:      cfg.Storage.Endpoint,
			Region:        cfg.Storage.Region,
			Bucket:        cfg.Storage.Bucket,
			AccessKey:     cfg.Storage.AccessKey,
			SecretKey:     cfg.Storage.SecretKey,
			UsePathStyle:  cfg.Storage.UsePathStyle,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, errors.Wrap(err, "s3 store")
		}
		if err := st.EnsureBucket(ctx); err != nil {
			// бакет могут создать позже; загрузка сама залогирует ошибку
			slog.Warn("ensure proof bucket", "bucket", cfg.Storage.Bucket, "error", err.Error())
		}
		return st, nil
	}
	if cfg.ShipTrack.BackendURL != "" {
		return static.New(cfg.ShipTrack.BackendURL), nil
	}
	return nil, nil
}

func RatingIssuer(cfg *config.Config) *ratingtoken.Issuer {
	secret := cfg.Rating.Secret
	if secret == "" {
		secret = cfg.Auth.JWTSecret
	}
	issuer := cfg.Rating.Issuer
	if issuer == "" {
		issuer = "shiptrack"
	}
	ttl := time.Duration(cfg.Rating.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = ratingtoken.DefaultTTL
	}
	return ratingtoken.NewIssuer(secret, issuer, ttl)
}

func NotificationsTopic(cfg *config.Config) string {
	if cfg.Kafka.NotificationsTopicName != "" {
		return cfg.Kafka.NotificationsTopicName
	}
	return notify.DefaultTopic
}

func TrackingUpdatedTopic(cfg *config.Config) string {
	if cfg.Kafka.TrackingUpdatedTopicName != "" {
		return cfg.Kafka.TrackingUpdatedTopicName
	}
	return DefaultTrackingUpdatedTopic
}

func ratingLink(cfg *config.Config) string {
	if cfg.Rating.LinkURL != "" {
		return cfg.Rating.LinkURL
	}
	if cfg.ShipTrack.FrontendURL != "" {
		return strings.TrimRight(cfg.ShipTrack.FrontendURL, "/") + "/rate-order"
	}
	return ""
}

type ReconcilerDeps struct {
	Repo        Repository
	Producer    Producer
	RateLimiter reconciler.RateLimiter
	Locker      reconciler.Locker
	Store       reconciler.ObjectStore
	Carriers    carrier.Registry
}

// NewProjector: перенос доставки на заказ с токеном оценки и письмом.
// Без producer письма не отправляются.
func NewProjector(cfg *config.Config, repo projector.Repository, producer Producer) *projector.Projector {
	var notifier projector.Notifier
	if producer != nil {
		notifier = notify.NewSender(producer, NotificationsTopic(cfg))
	}
	return projector.New(repo, RatingIssuer(cfg), notifier, ratingLink(cfg))
}

// NewReconciler собирает реконсилер вместе с проектором заказа.
// Nil-зависимости просто отключают соответствующую возможность.
func NewReconciler(cfg *config.Config, d ReconcilerDeps) *reconciler.Reconciler {
	rec := reconciler.New(d.Repo, d.Carriers, NewProjector(cfg, d.Repo, d.Producer)).
		WithTimeout(time.Duration(cfg.Carrier.TimeoutSeconds) * time.Second).
		WithLocker(d.Locker, time.Duration(cfg.ShipTrack.LockTTLSeconds)*time.Second)

	if d.Producer != nil {
		rec = rec.WithProducer(d.Producer, TrackingUpdatedTopic(cfg))
	}
	if d.RateLimiter != nil {
		perMin := int64(cfg.Carrier.RateLimitPerMinute)
		if perMin <= 0 {
			perMin = 120
		}
		rec = rec.WithRateLimiter(d.RateLimiter, perMin, CarrierRateLimits(cfg.Carrier))
	}
	if d.Store != nil {
		rec = rec.WithProof(d.Store, cfg.ShipTrack.MockProofSource)
	}
	return rec
}
