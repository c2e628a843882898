package trackings_api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/ShipTrack/internal/auth/identity"
	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const maxBodyBytes = 1 << 20

type Service interface {
	CreateTracking(ctx context.Context, orderID uint64, in models.TrackingCreateInput) (*models.Tracking, error)
	PollNow(ctx context.Context, trackingID uint64) (*models.Tracking, error)
	OverrideStatus(ctx context.Context, trackingID uint64, status, message string) (*models.Tracking, error)
	GetTrackingForOrder(ctx context.Context, orderID uint64, viewer identity.Viewer) (*models.Tracking, error)
	ApplyCarrierPush(ctx context.Context, push messages.CarrierUpdate) (*models.Tracking, error)
}

type Authenticator interface {
	FromAuthorization(header string) (identity.Viewer, error)
}

type TrackingsAPI struct {
	svc  Service
	auth Authenticator

	webhookSecret string
	webhookSkew   time.Duration
	now           func() time.Time
}

func New(svc Service, auth Authenticator) *TrackingsAPI {
	return &TrackingsAPI{
		svc:         svc,
		auth:        auth,
		webhookSkew: 5 * time.Minute,
		now:         time.Now,
	}
}

// WithWebhookSecret включает вебхук перевозчика. Без секрета он отвечает 503.
func (a *TrackingsAPI) WithWebhookSecret(secret string, skew time.Duration) *TrackingsAPI {
	a.webhookSecret = secret
	if skew > 0 {
		a.webhookSkew = skew
	}
	return a
}

type createTrackingRequest struct {
	Courier    string `json:"courier"`
	Auto       *bool  `json:"auto"`
	UseCarrier bool   `json:"useCarrier"`
}

type overrideStatusRequest struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type trackingResponse struct {
	Tracking *models.Tracking `json:"tracking"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes регистрирует /api/tracking/* и /api/webhooks/carrier.
func (a *TrackingsAPI) Routes(r chi.Router) {
	r.Route("/api/tracking", func(r chi.Router) {
		r.Use(a.authenticate)

		r.Get("/order/{orderId}", a.getTrackingForOrder)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Post("/{orderId}/create", a.createTracking)
			r.Post("/{trackingId}/poll", a.pollNow)
			r.Patch("/{trackingId}/status", a.overrideStatus)
		})
	})
	r.Post("/api/webhooks/carrier", a.carrierWebhook)
}

func (a *TrackingsAPI) createTracking(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}
	var req createTrackingRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	auto := true
	if req.Auto != nil {
		auto = *req.Auto
	}

	tr, err := a.svc.CreateTracking(r.Context(), orderID, models.TrackingCreateInput{
		Courier:    req.Courier,
		Auto:       auto,
		UseCarrier: req.UseCarrier,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trackingResponse{Tracking: tr})
}

func (a *TrackingsAPI) pollNow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "trackingId")
	if !ok {
		return
	}
	tr, err := a.svc.PollNow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackingResponse{Tracking: tr})
}

func (a *TrackingsAPI) overrideStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "trackingId")
	if !ok {
		return
	}
	var req overrideStatusRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	tr, err := a.svc.OverrideStatus(r.Context(), id, req.Status, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackingResponse{Tracking: tr})
}

func (a *TrackingsAPI) getTrackingForOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderId")
	if !ok {
		return
	}
	viewer, _ := identity.FromContext(r.Context())
	tr, err := a.svc.GetTrackingForOrder(r.Context(), orderID, viewer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackingResponse{Tracking: tr})
}

func (a *TrackingsAPI) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	if a.webhookSecret == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "carrier webhook is not configured"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cannot read body"})
		return
	}
	if err := verifySignature(a.webhookSecret, r.Header.Get(headerTimestamp), r.Header.Get(headerSignature), body, a.now(), a.webhookSkew); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	var push messages.CarrierUpdate
	if err := json.Unmarshal(body, &push); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	tr, err := a.svc.ApplyCarrierPush(r.Context(), push)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackingResponse{Tracking: tr})
}

func (a *TrackingsAPI) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, err := a.auth.FromAuthorization(r.Header.Get("Authorization"))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithViewer(r.Context(), viewer)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v, ok := identity.FromContext(r.Context()); !ok || !v.IsAdmin {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
	return false
}

// statusFor переводит доменные ошибки в HTTP-коды.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAlreadyTerminal), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "error", msg)
		msg = "internal error"
	}
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
