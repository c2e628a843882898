package carrier

import (
	"context"

	"github.com/BearBump/ShipTrack/internal/models"
)

type SubscriptionRequest struct {
	Courier        string
	TrackingNumber string
	Title          string
	CustomerName   string
}

// Subscription: то, что вернул перевозчик при регистрации трека.
// Meta кладётся в Tracking.ExternalMeta как есть.
type Subscription struct {
	Slug string
	ID   string
	Meta map[string]any
}

// Observation: полный список чекпоинтов у перевозчика в его порядке.
// Tag: нормализованный итоговый статус (может быть пустым).
type Observation struct {
	Tag         string
	Checkpoints []models.Checkpoint
}

// Adapter is a real carrier integration. Implementations fail closed:
// any transport, status or decode problem is returned as an error.
type Adapter interface {
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (Subscription, error)
	FetchCheckpoints(ctx context.Context, courierSlug, trackingNumber string) (Observation, error)
}

// Registry maps a tracking source to its configured adapter.
// A source without credentials is simply not registered.
type Registry map[string]Adapter

func (r Registry) Get(source string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r[source]
	return a, ok && a != nil
}

// Default returns the preferred live source when a caller does not name one.
func (r Registry) Default() (string, Adapter, bool) {
	for _, src := range []string{models.TrackingSourceAfterShip, models.TrackingSourceEmulator, models.TrackingSourceTrack24} {
		if a, ok := r.Get(src); ok {
			return src, a, true
		}
	}
	return "", nil, false
}
