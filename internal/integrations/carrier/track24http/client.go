package track24http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
)

// Client reads checkpoints from a Track24-compatible API.
// Track24 определяет перевозчика сам и не требует регистрации трека.
type Client struct {
	baseURL string
	apiKey  string
	domain  string
	httpc   *http.Client
}

func New(baseURL, apiKey, domain string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		domain:  domain,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type track24Resp struct {
	Status string `json:"status"`
	Data   struct {
		Events []struct {
			OperationDateTime        string `json:"operationDateTime"`
			OperationAttribute       string `json:"operationAttribute"`
			OperationType            string `json:"operationType"`
			OperationPlaceName       string `json:"operationPlaceName"`
			OperationPlacePostalCode string `json:"operationPlacePostalCode"`
			Source                   string `json:"source"`
		} `json:"events"`
	} `json:"data"`
}

func (c *Client) CreateSubscription(ctx context.Context, req carrier.SubscriptionRequest) (carrier.Subscription, error) {
	slug := strings.ToLower(req.Courier)
	return carrier.Subscription{
		Slug: slug,
		Meta: map[string]any{"slug": slug, "domain": c.domain},
	}, nil
}

func (c *Client) FetchCheckpoints(ctx context.Context, courierSlug, trackingNumber string) (carrier.Observation, error) {
	_ = courierSlug

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return carrier.Observation{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/tracking.json.php"

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("domain", c.domain)
	q.Set("code", trackingNumber)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.Observation{}, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.Observation{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return carrier.Observation{}, fmt.Errorf("track24 http %d", resp.StatusCode)
	}

	var r track24Resp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return carrier.Observation{}, errors.Wrap(err, "decode")
	}
	if r.Status != "ok" {
		return carrier.Observation{}, fmt.Errorf("track24 status=%s", r.Status)
	}

	var obs carrier.Observation
	for _, e := range r.Data.Events {
		status := models.TrackingStatusInTransit
		if containsDeliveredHint(e.OperationAttribute) {
			status = models.TrackingStatusDelivered
		}
		// Track24: "02.07.2014 19:16:00"; события без даты пропускаем, чтобы не ломать хронологию.
		evTime, err := time.ParseInLocation("02.01.2006 15:04:05", e.OperationDateTime, time.UTC)
		if err != nil {
			continue
		}
		obs.Checkpoints = append(obs.Checkpoints, models.Checkpoint{
			Status:    status,
			Message:   e.OperationAttribute,
			Location:  e.OperationPlaceName,
			Timestamp: evTime.UTC(),
		})
	}
	if n := len(obs.Checkpoints); n > 0 {
		obs.Tag = obs.Checkpoints[n-1].Status
	}
	return obs, nil
}

func containsDeliveredHint(s string) bool {
	low := strings.ToLower(s)
	return strings.Contains(low, "вруч") || strings.Contains(low, "достав") || strings.Contains(low, "delivered")
}
