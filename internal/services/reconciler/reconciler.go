package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier/mockcarrier"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/projector"
	"github.com/pkg/errors"
)

var ErrRateLimited = errors.New("carrier rate limit exceeded")

type Repository interface {
	GetTracking(ctx context.Context, id uint64) (*models.Tracking, error)
	AppendCheckpoints(ctx context.Context, id uint64, expectedLen int, cps []models.Checkpoint, meta map[string]any) (*models.Tracking, error)
}

type ObjectStore interface {
	Upload(ctx context.Context, source, folder string) (string, error)
}

type Projector interface {
	Project(ctx context.Context, orderID uint64) (projector.Projection, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error)
}

// Result: итог одного шага согласования.
// SourceErr заполняется, когда перевозчик не ответил; запись при этом не менялась.
type Result struct {
	Record    *models.Tracking
	Appended  int
	Skipped   bool
	SourceErr error
}

type Reconciler struct {
	repo      Repository
	adapters  carrier.Registry
	projector Projector

	store       ObjectStore
	proofSource string

	producer Producer
	topic    string

	rl                 RateLimiter
	rateLimitPerMinute int64
	carrierLimits      map[string]int64

	locker  Locker
	lockTTL time.Duration

	timeout time.Duration
	now     func() time.Time
}

func New(repo Repository, adapters carrier.Registry, proj Projector) *Reconciler {
	return &Reconciler{
		repo:      repo,
		adapters:  adapters,
		projector: proj,
		timeout:   10 * time.Second,
		lockTTL:   30 * time.Second,
		now:       time.Now,
	}
}

func (r *Reconciler) WithProof(store ObjectStore, source string) *Reconciler {
	r.store = store
	r.proofSource = source
	return r
}

func (r *Reconciler) WithProducer(p Producer, topic string) *Reconciler {
	r.producer = p
	r.topic = topic
	return r
}

// WithRateLimiter задаёт общий лимит запросов к перевозчику в минуту
// и переопределения по источнику.
func (r *Reconciler) WithRateLimiter(rl RateLimiter, perMinute int64, perCarrier map[string]int64) *Reconciler {
	r.rl = rl
	r.rateLimitPerMinute = perMinute
	r.carrierLimits = perCarrier
	return r
}

func (r *Reconciler) WithLocker(l Locker, ttl time.Duration) *Reconciler {
	r.locker = l
	if ttl > 0 {
		r.lockTTL = ttl
	}
	return r
}

func (r *Reconciler) WithTimeout(d time.Duration) *Reconciler {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Reconcile делает один шаг продвижения трека: опрос перевозчика для живого
// источника или шаг симулятора для mock.
func (r *Reconciler) Reconcile(ctx context.Context, trackingID uint64) (Result, error) {
	release, ok := r.lock(ctx, trackingID)
	if !ok {
		return r.skipped(ctx, trackingID)
	}
	defer release()

	tr, err := r.repo.GetTracking(ctx, trackingID)
	if err != nil {
		return Result{}, errors.Wrap(err, "get tracking")
	}
	if tr.IsTerminal() {
		return Result{Record: tr}, models.ErrAlreadyTerminal
	}

	if tr.Source == models.TrackingSourceMock {
		return r.advanceMock(ctx, tr)
	}

	adapter, ok := r.adapters.Get(tr.Source)
	if !ok {
		err := errors.Errorf("carrier source %q is not configured", tr.Source)
		slog.Warn("reconcile: no adapter", "tracking_id", tr.ID, "source", tr.Source)
		return Result{Record: tr, SourceErr: err}, nil
	}

	if !r.allow(ctx, tr) {
		return Result{Record: tr, Skipped: true, SourceErr: ErrRateLimited}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	obs, err := adapter.FetchCheckpoints(cctx, r.slug(tr), tr.TrackingNumber)
	cancel()
	if err != nil {
		slog.Warn("carrier fetch failed",
			"tracking_id", tr.ID,
			"source", tr.Source,
			"error", err.Error(),
		)
		return Result{Record: tr, SourceErr: err}, nil
	}

	return r.persist(ctx, tr, Merge(tr.History, obs, r.now()), nil)
}

// ApplyObservation применяет присланное перевозчиком наблюдение (webhook/kafka)
// по тем же правилам слияния, что и опрос.
func (r *Reconciler) ApplyObservation(ctx context.Context, trackingID uint64, obs carrier.Observation) (Result, error) {
	release, ok := r.lock(ctx, trackingID)
	if !ok {
		return r.skipped(ctx, trackingID)
	}
	defer release()

	tr, err := r.repo.GetTracking(ctx, trackingID)
	if err != nil {
		return Result{}, errors.Wrap(err, "get tracking")
	}
	if tr.IsTerminal() {
		return Result{Record: tr}, models.ErrAlreadyTerminal
	}
	return r.persist(ctx, tr, Merge(tr.History, obs, r.now()), nil)
}

// Override: ручная смена статуса админом. На терминальном треке разрешён
// только Exception.
func (r *Reconciler) Override(ctx context.Context, trackingID uint64, status, message string) (Result, error) {
	st, ok := models.ParseStatus(status)
	if !ok {
		return Result{}, errors.Wrapf(models.ErrInvalidStatus, "%q", status)
	}

	release, ok := r.lock(ctx, trackingID)
	if !ok {
		return Result{}, errors.Wrap(models.ErrConflict, "tracking is being reconciled")
	}
	defer release()

	tr, err := r.repo.GetTracking(ctx, trackingID)
	if err != nil {
		return Result{}, errors.Wrap(err, "get tracking")
	}
	if tr.IsTerminal() && st != models.TrackingStatusException {
		return Result{Record: tr}, models.ErrAlreadyTerminal
	}

	if message == "" {
		message = "Status updated by admin"
	}
	cp := models.Checkpoint{
		Seq:       len(tr.History),
		Status:    st,
		Message:   message,
		Timestamp: r.nextTimestamp(tr),
	}

	res, err := r.persist(ctx, tr, []models.Checkpoint{cp}, nil)
	if err != nil {
		return res, err
	}
	if res.Skipped {
		return res, models.ErrConflict
	}
	return res, nil
}

func (r *Reconciler) advanceMock(ctx context.Context, tr *models.Tracking) (Result, error) {
	next := mockcarrier.AdvanceOnce(tr.Status)
	if next == tr.Status {
		return Result{Record: tr}, nil
	}

	cp := mockcarrier.NextCheckpoint(next, r.nextTimestamp(tr))
	cp.Seq = len(tr.History)

	if next == models.TrackingStatusDelivered && !tr.HasProof() {
		cp.ProofURL = r.uploadProof(ctx, tr)
	}

	return r.persist(ctx, tr, []models.Checkpoint{cp}, nil)
}

func (r *Reconciler) uploadProof(ctx context.Context, tr *models.Tracking) string {
	if r.store == nil || r.proofSource == "" {
		return ""
	}
	u, err := r.store.Upload(ctx, r.proofSource, fmt.Sprintf("proofs/%d", tr.ID))
	if err != nil {
		// доставка всё равно фиксируется, просто без фото
		slog.Error("proof upload failed", "tracking_id", tr.ID, "error", err.Error())
		return ""
	}
	return u
}

func (r *Reconciler) persist(ctx context.Context, tr *models.Tracking, cps []models.Checkpoint, meta map[string]any) (Result, error) {
	if len(cps) == 0 && meta == nil {
		return Result{Record: tr}, nil
	}

	updated, err := r.repo.AppendCheckpoints(ctx, tr.ID, len(tr.History), cps, meta)
	if errors.Is(err, models.ErrConflict) {
		slog.Warn("tracking changed concurrently, step skipped", "tracking_id", tr.ID)
		fresh, gerr := r.repo.GetTracking(ctx, tr.ID)
		if gerr != nil {
			return Result{Record: tr, Skipped: true}, nil
		}
		return Result{Record: fresh, Skipped: true}, nil
	}
	if err != nil {
		return Result{Record: tr}, errors.Wrap(err, "append checkpoints")
	}

	r.publish(ctx, tr.Status, updated, len(cps))

	if tr.Status != models.TrackingStatusDelivered && updated.Status == models.TrackingStatusDelivered && r.projector != nil {
		if _, err := r.projector.Project(ctx, updated.OrderID); err != nil {
			slog.Error("project delivered order",
				"tracking_id", updated.ID,
				"order_id", updated.OrderID,
				"error", err.Error(),
			)
		}
	}

	return Result{Record: updated, Appended: len(cps)}, nil
}

func (r *Reconciler) publish(ctx context.Context, prevStatus string, tr *models.Tracking, appended int) {
	if r.producer == nil || r.topic == "" {
		return
	}
	b, err := json.Marshal(messages.TrackingUpdated{
		TrackingID: tr.ID,
		OrderID:    tr.OrderID,
		Status:     tr.Status,
		PrevStatus: prevStatus,
		Appended:   appended,
		Source:     tr.Source,
		UpdatedAt:  tr.UpdatedAt,
	})
	if err != nil {
		slog.Error("marshal tracking.updated", "tracking_id", tr.ID, "error", err.Error())
		return
	}
	if err := r.producer.Publish(ctx, r.topic, []byte(strconv.FormatUint(tr.ID, 10)), b); err != nil {
		slog.Warn("publish tracking.updated", "tracking_id", tr.ID, "error", err.Error())
	}
}

func (r *Reconciler) allow(ctx context.Context, tr *models.Tracking) bool {
	if r.rl == nil || r.rateLimitPerMinute <= 0 {
		return true
	}
	limit := r.rateLimitPerMinute
	if l, ok := r.carrierLimits[tr.Source]; ok && l > 0 {
		limit = l
	}

	key := fmt.Sprintf("rl:carrier:%s:%s", tr.Source, r.now().UTC().Format("200601021504"))
	allowed, n, err := r.rl.Allow(ctx, key, limit, 70*time.Second)
	if err != nil {
		// без redis не блокируем опрос
		slog.Warn("rate limiter unavailable", "source", tr.Source, "error", err.Error())
		return true
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "source", tr.Source, "count", n, "tracking_id", tr.ID)
	}
	return allowed
}

// lock берёт advisory-лок на трек. Без локера или при недоступном redis
// работаем без него: конфликт всё равно поймает AppendCheckpoints.
func (r *Reconciler) lock(ctx context.Context, trackingID uint64) (func(), bool) {
	noop := func() {}
	if r.locker == nil {
		return noop, true
	}
	release, ok, err := r.locker.TryLock(ctx, fmt.Sprintf("lock:tracking:%d", trackingID), r.lockTTL)
	if err != nil {
		slog.Warn("tracking lock unavailable", "tracking_id", trackingID, "error", err.Error())
		return noop, true
	}
	if !ok {
		return nil, false
	}
	return release, true
}

func (r *Reconciler) skipped(ctx context.Context, trackingID uint64) (Result, error) {
	slog.Info("tracking is locked by another reconciler, skipped", "tracking_id", trackingID)
	tr, err := r.repo.GetTracking(ctx, trackingID)
	if err != nil {
		return Result{}, errors.Wrap(err, "get tracking")
	}
	return Result{Record: tr, Skipped: true}, nil
}

func (r *Reconciler) slug(tr *models.Tracking) string {
	if s := tr.MetaString("slug"); s != "" {
		return s
	}
	return tr.Courier
}

// nextTimestamp не даёт истории пойти назад во времени: стартовые точки
// симулятора могут быть датированы будущим.
func (r *Reconciler) nextTimestamp(tr *models.Tracking) time.Time {
	at := r.now().UTC()
	if last := tr.LastCheckpoint(); last != nil && !at.After(last.Timestamp) {
		at = last.Timestamp.Add(time.Minute)
	}
	return at
}
