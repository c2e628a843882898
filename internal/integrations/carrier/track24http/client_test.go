package track24http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchCheckpoints_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tracking.json.php", r.URL.Path)
		require.Equal(t, "demo", r.URL.Query().Get("apiKey"))
		require.Equal(t, "d", r.URL.Query().Get("domain"))
		require.Equal(t, "CODE", r.URL.Query().Get("code"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "status": "ok",
  "data": {
    "events": [
      {"operationDateTime":"01.01.2025 00:00:00","operationAttribute":"Accepted","operationPlaceName":"Moscow"},
      {"operationDateTime":"bad","operationAttribute":"Noise","operationPlaceName":"Moscow"},
      {"operationDateTime":"01.01.2025 00:10:00","operationAttribute":"Delivered","operationPlaceName":"Moscow"}
    ]
  }
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "demo", "d")
	obs, err := c.FetchCheckpoints(context.Background(), "ignored", "CODE")
	require.NoError(t, err)
	require.Equal(t, models.TrackingStatusDelivered, obs.Tag)
	require.Len(t, obs.Checkpoints, 2)
	require.Equal(t, models.TrackingStatusInTransit, obs.Checkpoints[0].Status)
	require.WithinDuration(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), obs.Checkpoints[0].Timestamp, time.Second)
}

func TestClient_FetchCheckpoints_StatusNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "demo", "d").FetchCheckpoints(context.Background(), "x", "CODE")
	require.Error(t, err)
}

func TestClient_CreateSubscription_NoRemoteCall(t *testing.T) {
	c := New("http://127.0.0.1:1", "demo", "d")
	sub, err := c.CreateSubscription(context.Background(), carrier.SubscriptionRequest{Courier: "CDEK", TrackingNumber: "1"})
	require.NoError(t, err)
	require.Equal(t, "cdek", sub.Slug)
}

func TestContainsDeliveredHint(t *testing.T) {
	require.True(t, containsDeliveredHint("Delivered"))
	require.True(t, containsDeliveredHint("Прибыло в место вручения"))
	require.False(t, containsDeliveredHint("In transit"))
}
