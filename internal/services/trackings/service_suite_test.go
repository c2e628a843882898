package trackings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/auth/identity"
	"github.com/BearBump/ShipTrack/internal/broker/messages"
	cachemocks "github.com/BearBump/ShipTrack/internal/cache/mocks"
	"github.com/BearBump/ShipTrack/internal/integrations/carrier"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/reconciler"
	"github.com/BearBump/ShipTrack/internal/storage/objectstore/static"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	trackingsmocks "github.com/BearBump/ShipTrack/internal/services/trackings/mocks"
)

type stubAdapter struct {
	sub    carrier.Subscription
	subErr error
	obs    carrier.Observation
	obsErr error
}

func (a *stubAdapter) CreateSubscription(ctx context.Context, req carrier.SubscriptionRequest) (carrier.Subscription, error) {
	return a.sub, a.subErr
}

func (a *stubAdapter) FetchCheckpoints(ctx context.Context, slug, number string) (carrier.Observation, error) {
	return a.obs, a.obsErr
}

type memCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemCache() *memCache { return &memCache{items: map[string][]byte{}} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.items[key]
	return b, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memCache) has(key string) bool {
	_, ok, _ := c.Get(context.Background(), key)
	return ok
}

// recStore: хранилище для настоящего реконсилера, append по ожидаемой длине.
type recStore struct {
	mu sync.Mutex
	tr *models.Tracking
}

func (r *recStore) GetTracking(ctx context.Context, id uint64) (*models.Tracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tr.Clone(), nil
}

func (r *recStore) AppendCheckpoints(ctx context.Context, id uint64, expectedLen int, cps []models.Checkpoint, meta map[string]any) (*models.Tracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tr.History) != expectedLen {
		return nil, models.ErrConflict
	}
	r.tr.History = append(r.tr.History, cps...)
	if len(cps) > 0 {
		r.tr.Status = cps[len(cps)-1].Status
	}
	return r.tr.Clone(), nil
}

type heldLocker struct{}

func (heldLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, false, nil
}

type ServiceSuite struct {
	suite.Suite

	repo     *trackingsmocks.MockRepository
	rec      *trackingsmocks.MockReconciler
	notifier *trackingsmocks.MockNotifier
	cache    *cachemocks.MockBytesCache
	svc      *Service
	now      time.Time
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &trackingsmocks.MockRepository{}
	s.rec = &trackingsmocks.MockReconciler{}
	s.notifier = &trackingsmocks.MockNotifier{}
	s.cache = &cachemocks.MockBytesCache{}
	s.now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s.svc = s.newService(nil, s.cache, 10*time.Minute)
}

func (s *ServiceSuite) newService(reg carrier.Registry, c *cachemocks.MockBytesCache, ttl time.Duration) *Service {
	var svc *Service
	if c == nil {
		svc = New(s.repo, s.rec, reg, nil, ttl)
	} else {
		svc = New(s.repo, s.rec, reg, c, ttl)
	}
	svc.WithNotifier(s.notifier, "https://shop.example.com/").
		WithProofResolver(static.New("https://api.example.com"))
	svc.now = func() time.Time { return s.now }
	return svc
}

func (s *ServiceSuite) order(id, user uint64) *models.Order {
	return &models.Order{ID: id, UserID: user, CustomerName: "Ann", CustomerEmail: "ann@example.com", Status: models.OrderStatusProcessing}
}

func (s *ServiceSuite) TestCreateTracking_MockPath() {
	s.repo.On("GetOrder", mock.Anything, uint64(1)).Return(s.order(1, 7), nil).Once()
	s.repo.On("CreateTracking", mock.Anything, mock.MatchedBy(func(t *models.Tracking) bool {
		return t.Source == models.TrackingSourceMock &&
			t.Courier == "MockCourier" &&
			t.Mode == models.TrackingModeAuto &&
			t.Status == models.TrackingStatusProcessing &&
			len(t.History) == 2 &&
			strings.HasPrefix(t.TrackingNumber, "MOCK-")
	})).Return(&models.Tracking{ID: 11, OrderID: 1, Courier: "MockCourier", TrackingNumber: "MOCK-A", Status: models.TrackingStatusProcessing}, nil).Once()
	s.repo.On("MarkOrderShipped", mock.Anything, uint64(1), "MockCourier", "MOCK-A").Return(s.order(1, 7), nil).Once()
	s.notifier.On("Send", mock.Anything, mock.MatchedBy(func(n messages.Notification) bool {
		return n.Template == messages.TemplateOrderShipped &&
			n.Recipient == "ann@example.com" &&
			n.Params["track_link"] == "https://shop.example.com/track-order/1"
	})).Return(nil).Once()
	s.cache.On("Set", mock.Anything, "order:1:tracking:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	tr, err := s.svc.CreateTracking(context.Background(), 1, models.TrackingCreateInput{Auto: true, UseCarrier: true})
	s.Require().NoError(err)
	s.Require().Equal(uint64(11), tr.ID)
	s.repo.AssertExpectations(s.T())
	s.notifier.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestCreateTracking_CarrierPath() {
	ad := &stubAdapter{sub: carrier.Subscription{Slug: "dhl", ID: "sub-1"}}
	svc := s.newService(carrier.Registry{models.TrackingSourceAfterShip: ad}, nil, 0)

	s.repo.On("GetOrder", mock.Anything, uint64(2)).Return(s.order(2, 7), nil).Once()
	s.repo.On("CreateTracking", mock.Anything, mock.MatchedBy(func(t *models.Tracking) bool {
		return t.Source == models.TrackingSourceAfterShip &&
			t.Mode == models.TrackingModeManual &&
			t.MetaString("slug") == "dhl" &&
			t.MetaString("subscription_id") == "sub-1" &&
			t.Status == models.TrackingStatusCreated &&
			len(t.History) == 1
	})).Return(&models.Tracking{ID: 12, Courier: "dhl", TrackingNumber: "AS-1"}, nil).Once()
	s.repo.On("MarkOrderShipped", mock.Anything, uint64(2), "dhl", "AS-1").Return(s.order(2, 7), nil).Once()
	s.notifier.On("Send", mock.Anything, mock.Anything).Return(errors.New("kafka down")).Once()

	tr, err := svc.CreateTracking(context.Background(), 2, models.TrackingCreateInput{Courier: "DHL", UseCarrier: true})
	s.Require().NoError(err)
	s.Require().Equal(uint64(12), tr.ID)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestCreateTracking_CarrierFailureSurfaced() {
	ad := &stubAdapter{subErr: errors.New("invalid slug")}
	svc := s.newService(carrier.Registry{models.TrackingSourceAfterShip: ad}, nil, 0)
	s.repo.On("GetOrder", mock.Anything, uint64(3)).Return(s.order(3, 7), nil).Once()

	_, err := svc.CreateTracking(context.Background(), 3, models.TrackingCreateInput{UseCarrier: true})
	s.Require().ErrorIs(err, models.ErrUpstream)
	s.Require().Contains(err.Error(), "invalid slug")
	s.repo.AssertNotCalled(s.T(), "CreateTracking", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreateTracking_Validation() {
	_, err := s.svc.CreateTracking(context.Background(), 0, models.TrackingCreateInput{})
	s.Require().ErrorIs(err, models.ErrInvalidInput)

	s.repo.On("GetOrder", mock.Anything, uint64(4)).Return(nil, models.ErrNotFound).Once()
	_, err = s.svc.CreateTracking(context.Background(), 4, models.TrackingCreateInput{})
	s.Require().ErrorIs(err, models.ErrNotFound)

	cancelled := s.order(5, 1)
	cancelled.Status = models.OrderStatusCancelled
	s.repo.On("GetOrder", mock.Anything, uint64(5)).Return(cancelled, nil).Once()
	_, err = s.svc.CreateTracking(context.Background(), 5, models.TrackingCreateInput{})
	s.Require().ErrorIs(err, models.ErrInvalidInput)
}

func (s *ServiceSuite) TestPollNow() {
	rec := &models.Tracking{ID: 9, OrderID: 90, History: []models.Checkpoint{{Status: models.TrackingStatusDelivered, ProofURL: "/mnt/data/p.mp4"}}}
	s.rec.On("Reconcile", mock.Anything, uint64(9)).Return(reconciler.Result{Record: rec, Appended: 1}, nil).Once()
	s.cache.On("Delete", mock.Anything, "order:90:tracking:current").Return(nil).Once()

	tr, err := s.svc.PollNow(context.Background(), 9)
	s.Require().NoError(err)
	s.Require().Equal("https://api.example.com/proof/p.mp4", tr.History[0].ProofURL)
	// исходная запись не мутирует
	s.Require().Equal("/mnt/data/p.mp4", rec.History[0].ProofURL)

	s.rec.On("Reconcile", mock.Anything, uint64(10)).
		Return(reconciler.Result{Record: &models.Tracking{ID: 10}, SourceErr: errors.New("timeout")}, nil).Once()
	_, err = s.svc.PollNow(context.Background(), 10)
	s.Require().ErrorIs(err, models.ErrUpstream)

	s.rec.On("Reconcile", mock.Anything, uint64(11)).
		Return(reconciler.Result{Record: &models.Tracking{ID: 11}}, models.ErrAlreadyTerminal).Once()
	_, err = s.svc.PollNow(context.Background(), 11)
	s.Require().ErrorIs(err, models.ErrAlreadyTerminal)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestOverrideStatus() {
	s.rec.On("Override", mock.Anything, uint64(3), "Exception", "lost").
		Return(reconciler.Result{Record: &models.Tracking{ID: 3, OrderID: 30, Status: models.TrackingStatusException}, Appended: 1}, nil).Once()
	s.cache.On("Delete", mock.Anything, "order:30:tracking:current").Return(errors.New("redis down")).Once()
	tr, err := s.svc.OverrideStatus(context.Background(), 3, "Exception", "  lost ")
	s.Require().NoError(err)
	s.Require().Equal(models.TrackingStatusException, tr.Status)

	_, err = s.svc.OverrideStatus(context.Background(), 0, "Exception", "")
	s.Require().ErrorIs(err, models.ErrInvalidInput)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestPollNow_CustomerReadSeesPersistedState() {
	c := newMemCache()
	svc := New(s.repo, s.rec, nil, c, 10*time.Minute)
	viewer := identity.Viewer{UserID: 7}

	before := &models.Tracking{ID: 5, OrderID: 1, Source: models.TrackingSourceMock, Status: models.TrackingStatusProcessing}
	after := &models.Tracking{ID: 5, OrderID: 1, Source: models.TrackingSourceMock, Status: models.TrackingStatusInTransit}
	s.repo.On("GetOrder", mock.Anything, uint64(1)).Return(s.order(1, 7), nil)
	s.repo.On("GetLatestTrackingForOrder", mock.Anything, uint64(1)).Return(before, nil).Once()
	s.repo.On("GetLatestTrackingForOrder", mock.Anything, uint64(1)).Return(after, nil).Once()
	s.rec.On("Reconcile", mock.Anything, uint64(5)).Return(reconciler.Result{Record: after, Appended: 1}, nil).Once()

	tr, err := svc.GetTrackingForOrder(context.Background(), 1, viewer)
	s.Require().NoError(err)
	s.Require().Equal(models.TrackingStatusProcessing, tr.Status)
	s.Require().True(c.has("order:1:tracking:current"))

	_, err = svc.PollNow(context.Background(), 5)
	s.Require().NoError(err)
	s.Require().False(c.has("order:1:tracking:current"))

	tr, err = svc.GetTrackingForOrder(context.Background(), 1, viewer)
	s.Require().NoError(err)
	s.Require().Equal(models.TrackingStatusInTransit, tr.Status)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetTrackingForOrder_Authorization() {
	s.repo.On("GetOrder", mock.Anything, uint64(1)).Return(s.order(1, 7), nil)

	_, err := s.svc.GetTrackingForOrder(context.Background(), 1, identity.Viewer{UserID: 8})
	s.Require().ErrorIs(err, models.ErrForbidden)

	s.repo.On("GetOrder", mock.Anything, uint64(2)).Return(nil, models.ErrNotFound).Once()
	_, err = s.svc.GetTrackingForOrder(context.Background(), 2, identity.Viewer{UserID: 8, IsAdmin: true})
	s.Require().ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestGetTrackingForOrder_CacheHit_NoDB() {
	cached := &models.Tracking{ID: 5, OrderID: 1, Source: models.TrackingSourceMock, Status: models.TrackingStatusInTransit}
	b, _ := json.Marshal(cached)
	s.repo.On("GetOrder", mock.Anything, uint64(1)).Return(s.order(1, 7), nil).Once()
	s.cache.On("Get", mock.Anything, "order:1:tracking:current").Return(b, true, nil).Once()

	tr, err := s.svc.GetTrackingForOrder(context.Background(), 1, identity.Viewer{UserID: 7})
	s.Require().NoError(err)
	s.Require().Equal(uint64(5), tr.ID)
	s.repo.AssertNotCalled(s.T(), "GetLatestTrackingForOrder", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGetTrackingForOrder_CacheMiss_NoTracking() {
	s.repo.On("GetOrder", mock.Anything, uint64(1)).Return(s.order(1, 7), nil).Once()
	s.cache.On("Get", mock.Anything, "order:1:tracking:current").Return([]byte(nil), false, errors.New("redis down")).Once()
	s.repo.On("GetLatestTrackingForOrder", mock.Anything, uint64(1)).Return(nil, models.ErrNotFound).Once()

	_, err := s.svc.GetTrackingForOrder(context.Background(), 1, identity.Viewer{UserID: 7})
	s.Require().ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestGetTrackingForOrder_LiveMergeInMemory() {
	t0 := s.now.Add(-2 * time.Hour)
	snap := &models.Tracking{
		ID: 6, OrderID: 1, Source: models.TrackingSourceAfterShip, Status: models.TrackingStatusInTransit,
		ExternalMeta: map[string]any{"slug": "dhl"},
		History:      []models.Checkpoint{{Seq: 0, Status: models.TrackingStatusInTransit, Timestamp: t0}},
	}
	ad := &stubAdapter{obs: carrier.Observation{Checkpoints: []models.Checkpoint{
		{Status: models.TrackingStatusOutForDelivery, Timestamp: t0.Add(time.Hour)},
	}}}
	svc := s.newService(carrier.Registry{models.TrackingSourceAfterShip: ad}, nil, 0)

	s.repo.On("GetOrder", mock.Anything, uint64(1)).Return(s.order(1, 7), nil)
	s.repo.On("GetLatestTrackingForOrder", mock.Anything, uint64(1)).Return(snap, nil)

	tr, err := svc.GetTrackingForOrder(context.Background(), 1, identity.Viewer{UserID: 7})
	s.Require().NoError(err)
	s.Require().Equal(models.TrackingStatusOutForDelivery, tr.Status)
	s.Require().Len(tr.History, 2)
	// снимок не трогаем
	s.Require().Len(snap.History, 1)

	ad.obsErr = errors.New("carrier down")
	tr, err = svc.GetTrackingForOrder(context.Background(), 1, identity.Viewer{UserID: 7})
	s.Require().NoError(err)
	s.Require().Equal(models.TrackingStatusInTransit, tr.Status)
}

func (s *ServiceSuite) TestApplyCarrierPush() {
	ts := s.now
	s.repo.On("GetTrackingByNumber", mock.Anything, "AS-1").Return(&models.Tracking{ID: 4}, nil).Once()
	s.rec.On("ApplyObservation", mock.Anything, uint64(4), mock.MatchedBy(func(o carrier.Observation) bool {
		return o.Tag == models.TrackingStatusDelivered &&
			len(o.Checkpoints) == 1 &&
			o.Checkpoints[0].Status == models.TrackingStatusOutForDelivery &&
			o.Checkpoints[0].ProofURL == "https://api.example.com/proof/x.jpg"
	})).Return(reconciler.Result{Record: &models.Tracking{ID: 4, Status: models.TrackingStatusDelivered}}, nil).Once()

	tr, err := s.svc.ApplyCarrierPush(context.Background(), messages.CarrierUpdate{
		TrackingNumber: " AS-1 ",
		Tag:            "Delivered",
		Checkpoints: []messages.CarrierCheckpoint{
			{Status: "OutForDelivery", Timestamp: ts, ProofURL: "x.jpg"},
		},
	})
	s.Require().NoError(err)
	s.Require().Equal(models.TrackingStatusDelivered, tr.Status)

	_, err = s.svc.ApplyCarrierPush(context.Background(), messages.CarrierUpdate{})
	s.Require().ErrorIs(err, models.ErrInvalidInput)

	s.repo.On("GetTrackingByNumber", mock.Anything, "nope").Return(nil, models.ErrNotFound).Once()
	_, err = s.svc.ApplyCarrierPush(context.Background(), messages.CarrierUpdate{TrackingNumber: "nope"})
	s.Require().ErrorIs(err, models.ErrNotFound)
}

func (s *ServiceSuite) TestApplyCarrierPush_BusyTrackingIsConflict() {
	t0 := s.now.Add(-time.Hour)
	store := &recStore{tr: &models.Tracking{
		ID: 4, OrderID: 40, TrackingNumber: "AS-1", Status: models.TrackingStatusInTransit, Source: models.TrackingSourceAfterShip,
		History: []models.Checkpoint{{Seq: 0, Status: models.TrackingStatusInTransit, Timestamp: t0}},
	}}
	rec := reconciler.New(store, nil, nil).WithLocker(heldLocker{}, time.Second)
	svc := New(s.repo, rec, nil, s.cache, 10*time.Minute)
	s.repo.On("GetTrackingByNumber", mock.Anything, "AS-1").Return(store.tr.Clone(), nil)

	_, err := svc.ApplyCarrierPush(context.Background(), messages.CarrierUpdate{
		TrackingNumber: "AS-1",
		Checkpoints:    []messages.CarrierCheckpoint{{Status: "OutForDelivery", Timestamp: s.now}},
	})
	s.Require().ErrorIs(err, models.ErrConflict)
	s.Require().Len(store.tr.History, 1)
	s.cache.AssertNotCalled(s.T(), "Delete", mock.Anything, mock.Anything)

	// без блокировки тот же push применяется и сбрасывает кэш
	svc = New(s.repo, reconciler.New(store, nil, nil), nil, s.cache, 10*time.Minute)
	s.cache.On("Delete", mock.Anything, "order:40:tracking:current").Return(nil).Once()
	tr, err := svc.ApplyCarrierPush(context.Background(), messages.CarrierUpdate{
		TrackingNumber: "AS-1",
		Checkpoints:    []messages.CarrierCheckpoint{{Status: "OutForDelivery", Timestamp: s.now}},
	})
	s.Require().NoError(err)
	s.Require().Equal(models.TrackingStatusOutForDelivery, tr.Status)
	s.Require().Len(store.tr.History, 2)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestRefreshCache() {
	s.Require().Error(s.svc.RefreshCache(context.Background(), messages.TrackingUpdated{}))

	s.repo.On("GetTracking", mock.Anything, uint64(3)).Return(&models.Tracking{ID: 3, OrderID: 30}, nil).Once()
	s.repo.On("GetLatestTrackingForOrder", mock.Anything, uint64(30)).Return(&models.Tracking{ID: 4, OrderID: 30}, nil).Once()
	s.cache.On("Set", mock.Anything, "order:30:tracking:current", mock.Anything, 10*time.Minute).Return(errors.New("set failed")).Once()
	s.Require().NoError(s.svc.RefreshCache(context.Background(), messages.TrackingUpdated{TrackingID: 3}))

	// кэш выключен: в базу не ходим
	svc := s.newService(nil, nil, 0)
	s.Require().NoError(svc.RefreshCache(context.Background(), messages.TrackingUpdated{TrackingID: 99, OrderID: 1}))
	s.repo.AssertNotCalled(s.T(), "GetTracking", mock.Anything, uint64(99))
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
