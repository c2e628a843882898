package emulatorv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
)

// Client talks to the local carrier emulator (v1 API).
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type subscribeBody struct {
	Slug         string `json:"slug"`
	TrackNumber  string `json:"track_number"`
	Title        string `json:"title,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}

type subscribeResp struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	TrackNumber string `json:"track_number"`
}

type respEvent struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Location  string    `json:"location,omitempty"`
	EventTime time.Time `json:"event_time"`
	ProofURL  string    `json:"proof_url,omitempty"`
}

type respBody struct {
	Slug        string      `json:"slug"`
	TrackNumber string      `json:"track_number"`
	Status      string      `json:"status"`
	Events      []respEvent `json:"events"`
}

func (c *Client) CreateSubscription(ctx context.Context, req carrier.SubscriptionRequest) (carrier.Subscription, error) {
	u, err := c.endpoint("/v1/subscriptions")
	if err != nil {
		return carrier.Subscription{}, err
	}
	b, err := json.Marshal(subscribeBody{
		Slug:         req.Courier,
		TrackNumber:  req.TrackingNumber,
		Title:        req.Title,
		CustomerName: req.CustomerName,
	})
	if err != nil {
		return carrier.Subscription{}, errors.Wrap(err, "marshal subscription")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return carrier.Subscription{}, errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var out subscribeResp
	if err := c.do(httpReq, &out); err != nil {
		return carrier.Subscription{}, err
	}
	slug := out.Slug
	if slug == "" {
		slug = req.Courier
	}
	return carrier.Subscription{
		Slug: slug,
		ID:   out.ID,
		Meta: map[string]any{"slug": slug, "subscription_id": out.ID},
	}, nil
}

func (c *Client) FetchCheckpoints(ctx context.Context, courierSlug, trackingNumber string) (carrier.Observation, error) {
	u, err := c.endpoint(fmt.Sprintf("/v1/tracking/%s/%s", url.PathEscape(courierSlug), url.PathEscape(trackingNumber)))
	if err != nil {
		return carrier.Observation{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return carrier.Observation{}, errors.Wrap(err, "new request")
	}

	var rb respBody
	if err := c.do(req, &rb); err != nil {
		return carrier.Observation{}, err
	}

	obs := carrier.Observation{Tag: carrier.NormalizeTag(rb.Status)}
	for _, e := range rb.Events {
		obs.Checkpoints = append(obs.Checkpoints, models.Checkpoint{
			Status:    carrier.NormalizeTag(e.Status),
			Message:   e.Message,
			Location:  e.Location,
			Timestamp: e.EventTime.UTC(),
			ProofURL:  e.ProofURL,
		})
	}
	return obs, nil
}

func (c *Client) endpoint(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = path
	q := u.Query()
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("carrier emulator rate limit (429)")
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("carrier emulator http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}
