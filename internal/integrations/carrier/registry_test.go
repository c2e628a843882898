package carrier

import "context"

type stubAdapter struct{}

func (stubAdapter) CreateSubscription(ctx context.Context, req SubscriptionRequest) (Subscription, error) {
	return Subscription{}, nil
}

func (stubAdapter) FetchCheckpoints(ctx context.Context, courierSlug, trackingNumber string) (Observation, error) {
	return Observation{}, nil
}
