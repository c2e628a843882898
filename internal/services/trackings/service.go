package trackings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/internal/auth/identity"
	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/cache"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier/mockcarrier"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/reconciler"
	"github.com/pkg/errors"
)

type Repository interface {
	GetOrder(ctx context.Context, id uint64) (*models.Order, error)
	MarkOrderShipped(ctx context.Context, id uint64, courier, number string) (*models.Order, error)
	CreateTracking(ctx context.Context, t *models.Tracking) (*models.Tracking, error)
	GetTracking(ctx context.Context, id uint64) (*models.Tracking, error)
	GetTrackingByNumber(ctx context.Context, number string) (*models.Tracking, error)
	GetLatestTrackingForOrder(ctx context.Context, orderID uint64) (*models.Tracking, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, trackingID uint64) (reconciler.Result, error)
	ApplyObservation(ctx context.Context, trackingID uint64, obs carrier.Observation) (reconciler.Result, error)
	Override(ctx context.Context, trackingID uint64, status, message string) (reconciler.Result, error)
}

type Notifier interface {
	Send(ctx context.Context, n messages.Notification) error
}

// ProofResolver приводит старые относительные ссылки на доказательства к абсолютным.
type ProofResolver interface {
	Absolute(raw string) string
}

type Service struct {
	repo       Repository
	reconciler Reconciler
	adapters   carrier.Registry

	cache      cache.BytesCache
	currentTTL time.Duration

	notifier    Notifier
	proofs      ProofResolver
	frontendURL string
	liveTimeout time.Duration
	now         func() time.Time
}

func New(repo Repository, rec Reconciler, adapters carrier.Registry, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:        repo,
		reconciler:  rec,
		adapters:    adapters,
		cache:       c,
		currentTTL:  currentTTL,
		liveTimeout: 5 * time.Second,
		now:         time.Now,
	}
}

func (s *Service) WithNotifier(n Notifier, frontendURL string) *Service {
	s.notifier = n
	s.frontendURL = strings.TrimRight(frontendURL, "/")
	return s
}

func (s *Service) WithProofResolver(p ProofResolver) *Service {
	s.proofs = p
	return s
}

func (s *Service) WithLiveTimeout(d time.Duration) *Service {
	if d > 0 {
		s.liveTimeout = d
	}
	return s
}

// CreateTracking создаёт трек для заказа (действие админа). С UseCarrier и
// настроенным перевозчиком трек заводится у него, иначе работает симулятор.
func (s *Service) CreateTracking(ctx context.Context, orderID uint64, in models.TrackingCreateInput) (*models.Tracking, error) {
	if orderID == 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "orderId is required")
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == models.OrderStatusCancelled {
		return nil, errors.Wrap(models.ErrInvalidInput, "order is cancelled")
	}

	courier := strings.TrimSpace(in.Courier)
	if courier == "" {
		courier = mockcarrier.DefaultCourier
	}
	mode := models.TrackingModeManual
	if in.Auto {
		mode = models.TrackingModeAuto
	}
	now := s.now().UTC()

	var tr *models.Tracking
	if src, adapter, ok := s.adapters.Default(); in.UseCarrier && ok {
		tr, err = s.subscribe(ctx, order, courier, mode, src, adapter, now)
		if err != nil {
			return nil, err
		}
	} else {
		if in.UseCarrier {
			slog.Info("no carrier configured, using mock", "order_id", orderID)
		}
		sh := mockcarrier.CreateShipment(orderID, courier, now)
		tr = &models.Tracking{
			OrderID:        orderID,
			Courier:        courier,
			TrackingNumber: sh.TrackingNumber,
			Status:         sh.Status,
			Mode:           mode,
			Source:         models.TrackingSourceMock,
			ExternalMeta:   map[string]any{"createdWith": "mock"},
			History:        sh.History,
		}
	}

	created, err := s.repo.CreateTracking(ctx, tr)
	if err != nil {
		return nil, errors.Wrap(err, "create tracking")
	}

	if _, err := s.repo.MarkOrderShipped(ctx, orderID, created.Courier, created.TrackingNumber); err != nil {
		return nil, errors.Wrap(err, "mark order shipped")
	}

	s.notifyShipped(ctx, order, created)
	s.cacheSet(ctx, orderID, created)
	return created, nil
}

func (s *Service) subscribe(ctx context.Context, order *models.Order, courier, mode, src string, adapter carrier.Adapter, now time.Time) (*models.Tracking, error) {
	slug := strings.ToLower(courier)
	number := mockcarrier.NewTrackingNumber("AS", now)

	cctx, cancel := context.WithTimeout(ctx, s.liveTimeout)
	defer cancel()
	sub, err := adapter.CreateSubscription(cctx, carrier.SubscriptionRequest{
		Courier:        slug,
		TrackingNumber: number,
		Title:          fmt.Sprintf("Order %d", order.ID),
		CustomerName:   order.CustomerName,
	})
	if err != nil {
		return nil, errors.Wrapf(models.ErrUpstream, "create carrier subscription: %s", err.Error())
	}
	if sub.Slug != "" {
		slug = sub.Slug
	}

	meta := map[string]any{"slug": slug}
	if sub.ID != "" {
		meta["subscription_id"] = sub.ID
	}
	for k, v := range sub.Meta {
		meta[k] = v
	}

	return &models.Tracking{
		OrderID:        order.ID,
		Courier:        slug,
		TrackingNumber: number,
		Status:         models.TrackingStatusCreated,
		Mode:           mode,
		Source:         src,
		ExternalMeta:   meta,
		History: []models.Checkpoint{{
			Status:    models.TrackingStatusCreated,
			Message:   "Tracking created with carrier",
			Timestamp: now,
		}},
	}, nil
}

// PollNow: немедленный шаг согласования по запросу админа.
// Ошибка перевозчика отдаётся как ErrUpstream.
func (s *Service) PollNow(ctx context.Context, trackingID uint64) (*models.Tracking, error) {
	res, err := s.reconciler.Reconcile(ctx, trackingID)
	if err != nil {
		return res.Record, err
	}
	if res.SourceErr != nil {
		return res.Record, errors.Wrap(models.ErrUpstream, res.SourceErr.Error())
	}
	s.invalidate(ctx, res)
	return s.withAbsoluteProofs(res.Record), nil
}

func (s *Service) OverrideStatus(ctx context.Context, trackingID uint64, status, message string) (*models.Tracking, error) {
	if trackingID == 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "trackingId is required")
	}
	res, err := s.reconciler.Override(ctx, trackingID, status, strings.TrimSpace(message))
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, res)
	return s.withAbsoluteProofs(res.Record), nil
}

// GetTrackingForOrder: чтение для покупателя. Для живого источника пробуем
// свежие данные перевозчика и мёржим их в памяти; при ошибке отдаём снимок.
func (s *Service) GetTrackingForOrder(ctx context.Context, orderID uint64, viewer identity.Viewer) (*models.Tracking, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin && order.UserID != viewer.UserID {
		return nil, models.ErrForbidden
	}

	tr, ok := s.cacheGet(ctx, orderID)
	if !ok {
		tr, err = s.repo.GetLatestTrackingForOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		s.cacheSet(ctx, orderID, tr)
	}

	return s.withAbsoluteProofs(s.liveView(ctx, tr)), nil
}

func (s *Service) liveView(ctx context.Context, tr *models.Tracking) *models.Tracking {
	if tr.Source == models.TrackingSourceMock || tr.IsTerminal() {
		return tr
	}
	adapter, ok := s.adapters.Get(tr.Source)
	if !ok {
		return tr
	}

	slug := tr.MetaString("slug")
	if slug == "" {
		slug = tr.Courier
	}
	cctx, cancel := context.WithTimeout(ctx, s.liveTimeout)
	defer cancel()
	obs, err := adapter.FetchCheckpoints(cctx, slug, tr.TrackingNumber)
	if err != nil {
		slog.Warn("live fetch failed, serving snapshot", "tracking_id", tr.ID, "source", tr.Source, "error", err.Error())
		return tr
	}

	fresh := reconciler.Merge(tr.History, obs, s.now())
	if len(fresh) == 0 {
		return tr
	}
	view := tr.Clone()
	view.History = append(view.History, fresh...)
	view.Status = fresh[len(fresh)-1].Status
	return view
}

// ApplyCarrierPush применяет обновление, присланное перевозчиком (webhook или kafka).
func (s *Service) ApplyCarrierPush(ctx context.Context, push messages.CarrierUpdate) (*models.Tracking, error) {
	number := strings.TrimSpace(push.TrackingNumber)
	if number == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "tracking_number is required")
	}
	tr, err := s.repo.GetTrackingByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	obs := carrier.Observation{Tag: carrier.NormalizeTag(push.Tag)}
	for _, c := range push.Checkpoints {
		url := c.ProofURL
		if s.proofs != nil {
			url = s.proofs.Absolute(url)
		}
		obs.Checkpoints = append(obs.Checkpoints, models.Checkpoint{
			Status:    carrier.NormalizeTag(c.Status),
			Message:   c.Message,
			Location:  c.Location,
			Timestamp: c.Timestamp,
			ProofURL:  url,
		})
	}

	res, err := s.reconciler.ApplyObservation(ctx, tr.ID, obs)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		// трек сейчас обновляет кто-то другой; отправитель должен повторить
		return nil, errors.Wrapf(models.ErrConflict, "tracking %d is busy, push not applied", tr.ID)
	}
	s.invalidate(ctx, res)
	return res.Record, nil
}

// RefreshCache обновляет кэш текущего состояния заказа по событию tracking.updated.
func (s *Service) RefreshCache(ctx context.Context, msg messages.TrackingUpdated) error {
	if msg.TrackingID == 0 {
		return errors.Wrap(models.ErrInvalidInput, "tracking_id is required")
	}
	if s.cache == nil || s.currentTTL <= 0 {
		return nil
	}

	orderID := msg.OrderID
	if orderID == 0 {
		tr, err := s.repo.GetTracking(ctx, msg.TrackingID)
		if err != nil {
			return err
		}
		orderID = tr.OrderID
	}

	// кэшируем активный трек заказа, а не обязательно тот, что обновился
	latest, err := s.repo.GetLatestTrackingForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	s.cacheSet(ctx, orderID, latest)
	return nil
}

func (s *Service) notifyShipped(ctx context.Context, order *models.Order, tr *models.Tracking) {
	if s.notifier == nil {
		return
	}
	if order.CustomerEmail == "" {
		slog.Warn("order has no email, shipped notification skipped", "order_id", order.ID)
		return
	}
	params := map[string]string{
		"order_id":        strconv.FormatUint(order.ID, 10),
		"customer_name":   order.CustomerName,
		"courier":         tr.Courier,
		"tracking_number": tr.TrackingNumber,
	}
	if s.frontendURL != "" {
		params["track_link"] = fmt.Sprintf("%s/track-order/%d", s.frontendURL, order.ID)
	}
	err := s.notifier.Send(ctx, messages.Notification{
		Recipient: order.CustomerEmail,
		Template:  messages.TemplateOrderShipped,
		Params:    params,
	})
	if err != nil {
		slog.Error("send shipped notification", "order_id", order.ID, "error", err.Error())
	}
}

func (s *Service) withAbsoluteProofs(tr *models.Tracking) *models.Tracking {
	if tr == nil || s.proofs == nil {
		return tr
	}
	out := tr
	for i, cp := range tr.History {
		abs := s.proofs.Absolute(cp.ProofURL)
		if abs == cp.ProofURL {
			continue
		}
		if out == tr {
			out = tr.Clone()
		}
		out.History[i].ProofURL = abs
	}
	return out
}

func (s *Service) cacheGet(ctx context.Context, orderID uint64) (*models.Tracking, bool) {
	if s.cache == nil || s.currentTTL <= 0 {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, currentKey(orderID))
	if err != nil || !ok {
		return nil, false
	}
	var t models.Tracking
	if json.Unmarshal(b, &t) != nil || t.ID == 0 {
		return nil, false
	}
	return &t, true
}

func (s *Service) cacheSet(ctx context.Context, orderID uint64, tr *models.Tracking) {
	if s.cache == nil || s.currentTTL <= 0 || tr == nil {
		return
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return
	}
	// ошибки кэша не критичны
	_ = s.cache.Set(ctx, currentKey(orderID), b, s.currentTTL)
}

// invalidate сбрасывает кэш заказа после записи, чтобы следующее чтение
// пошло в базу. tracking.updated потом прогреет его заново.
func (s *Service) invalidate(ctx context.Context, res reconciler.Result) {
	if s.cache == nil || s.currentTTL <= 0 || res.Appended == 0 || res.Record == nil {
		return
	}
	if err := s.cache.Delete(ctx, currentKey(res.Record.OrderID)); err != nil {
		slog.Warn("invalidate current tracking cache", "order_id", res.Record.OrderID, "error", err.Error())
	}
}

func currentKey(orderID uint64) string {
	return fmt.Sprintf("order:%d:tracking:current", orderID)
}
