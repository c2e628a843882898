package aftership

import (
	"bytes"
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

const defaultBaseURL = "https://api.aftership.com/v4"

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type meta struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type checkpoint struct {
	Tag            string `json:"tag"`
	Message        string `json:"message"`
	City           string `json:"city"`
	Location       string `json:"location"`
	CheckpointTime string `json:"checkpoint_time"`
	CreatedAt      string `json:"created_at"`
	Attachment     string `json:"attachment,omitempty"`
}

type tracking struct {
	ID             string       `json:"id"`
	Slug           string       `json:"slug"`
	TrackingNumber string       `json:"tracking_number"`
	Title          string       `json:"title,omitempty"`
	CustomerName   string       `json:"customer_name,omitempty"`
	Tag            string       `json:"tag,omitempty"`
	Checkpoints    []checkpoint `json:"checkpoints,omitempty"`
}

type envelope struct {
	Meta meta `json:"meta"`
	Data struct {
		Tracking tracking `json:"tracking"`
	} `json:"data"`
}

func (c *Client) CreateSubscription(ctx context.Context, req carrier.SubscriptionRequest) (carrier.Subscription, error) {
	slug := strings.ToLower(req.Courier)
	title := req.Title
	if title == "" {
		title = "Order " + req.TrackingNumber
	}

	body := map[string]any{
		"tracking": tracking{
			Slug:           slug,
			TrackingNumber: req.TrackingNumber,
			Title:          title,
			CustomerName:   req.CustomerName,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return carrier.Subscription{}, errors.Wrap(err, "marshal tracking")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/trackings", bytes.NewReader(b))
	if err != nil {
		return carrier.Subscription{}, errors.Wrap(err, "new request")
	}

	var env envelope
	if err := c.do(httpReq, &env, "aftership create"); err != nil {
		return carrier.Subscription{}, err
	}

	tr := env.Data.Tracking
	if tr.Slug != "" {
		slug = tr.Slug
	}
	return carrier.Subscription{
		Slug: slug,
		ID:   tr.ID,
		Meta: map[string]any{"slug": slug, "subscription_id": tr.ID},
	}, nil
}

func (c *Client) FetchCheckpoints(ctx context.Context, courierSlug, trackingNumber string) (carrier.Observation, error) {
	u := fmt.Sprintf("%s/trackings/%s/%s", c.baseURL, url.PathEscape(courierSlug), url.PathEscape(trackingNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return carrier.Observation{}, errors.Wrap(err, "new request")
	}

	var env envelope
	if err := c.do(req, &env, "aftership fetch"); err != nil {
		return carrier.Observation{}, err
	}

	tr := env.Data.Tracking
	obs := carrier.Observation{Tag: carrier.NormalizeTag(tr.Tag)}
	for _, cp := range tr.Checkpoints {
		loc := cp.City
		if loc == "" {
			loc = cp.Location
		}
		obs.Checkpoints = append(obs.Checkpoints, models.Checkpoint{
			Status:    carrier.NormalizeTag(cp.Tag),
			Message:   cp.Message,
			Location:  loc,
			Timestamp: parseTime(cp.CheckpointTime, cp.CreatedAt),
			ProofURL:  absoluteURL(cp.Attachment),
		})
	}
	return obs, nil
}

func (c *Client) do(req *http.Request, out *envelope, op string) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("aftership-api-key", c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, op)
	}
	defer resp.Body.Close()

	decErr := json.NewDecoder(resp.Body).Decode(out)
	if resp.StatusCode/100 != 2 {
		if decErr == nil && out.Meta.Message != "" {
			return fmt.Errorf("%s: http %d: %s", op, resp.StatusCode, out.Meta.Message)
		}
		return fmt.Errorf("%s: http %d", op, resp.StatusCode)
	}
	if decErr != nil {
		return errors.Wrap(decErr, op+": decode")
	}
	return nil
}

// AfterShip отдаёт время чекпоинта как с зоной, так и без неё.
// Без валидного времени возвращается нулевое: такую точку Merge отбросит.
func parseTime(values ...string) time.Time {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05"}
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, l := range layouts {
			if t, err := time.Parse(l, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func absoluteURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return ""
}
