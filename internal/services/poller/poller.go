package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/projector"
	"github.com/BearBump/ShipTrack/internal/services/reconciler"
	"github.com/pkg/errors"
)

type Repository interface {
	ListDueTrackings(ctx context.Context, limit int) ([]*models.Tracking, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, trackingID uint64) (reconciler.Result, error)
}

type ProjectionRepository interface {
	ListUnprojectedDeliveries(ctx context.Context, limit int) ([]uint64, error)
}

type Projector interface {
	Project(ctx context.Context, orderID uint64) (projector.Projection, error)
}

// Poller периодически прогоняет auto-треки через реконсилер.
// Между тиками хранит только счётчики.
type Poller struct {
	repo       Repository
	reconciler Reconciler

	// догоняющая проекция доставленных заказов; nil отключает
	deliveries ProjectionRepository
	projector  Projector

	pollInterval time.Duration
	batchSize    int
	concurrency  int

	triggerCh chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalListed         atomic.Int64
	totalProcessed      atomic.Int64
	totalAdvanced       atomic.Int64
	totalSkipped        atomic.Int64
	totalSourceErrors   atomic.Int64
	totalErrors         atomic.Int64
	totalProjected      atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, rec Reconciler) *Poller {
	return &Poller{
		repo:              repo,
		reconciler:        rec,
		pollInterval:      5 * time.Minute,
		batchSize:         50,
		concurrency:       1,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	return p
}

// WithProjectionSweep включает повторную проекцию: после каждой пачки
// заказы с доставленным треком, но не Delivered, прогоняются через проектор.
func (p *Poller) WithProjectionSweep(repo ProjectionRepository, proj Projector) *Poller {
	p.deliveries = repo
	p.projector = proj
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt         time.Time  `json:"startedAt"`
	LastCycleAt       *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt     *time.Time `json:"lastTriggerAt,omitempty"`
	TotalListed       int64      `json:"totalListed"`
	TotalProcessed    int64      `json:"totalProcessed"`
	TotalAdvanced     int64      `json:"totalAdvanced"`
	TotalSkipped      int64      `json:"totalSkipped"`
	TotalSourceErrors int64      `json:"totalSourceErrors"`
	TotalErrors       int64      `json:"totalErrors"`
	TotalProjected    int64      `json:"totalProjected"`
	InFlight          int64      `json:"inFlight"`
	Running           bool       `json:"running"`
	LastError         string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:         time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalListed:       p.totalListed.Load(),
		TotalProcessed:    p.totalProcessed.Load(),
		TotalAdvanced:     p.totalAdvanced.Load(),
		TotalSkipped:      p.totalSkipped.Load(),
		TotalSourceErrors: p.totalSourceErrors.Load(),
		TotalErrors:       p.totalErrors.Load(),
		TotalProjected:    p.totalProjected.Load(),
		InFlight:          p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.runMu.Lock()
	st.Running = p.cancel != nil
	p.runMu.Unlock()
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

// Start запускает Run в фоне. Повторный Start без Stop ничего не делает.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("poller stopped", "error", err.Error())
		}
	}()
}

// Stop останавливает фоновый цикл и ждёт завершения текущего тика.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.RunOnce(ctx)
		case <-p.triggerCh:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce обрабатывает одну пачку. Ошибка по одному треку не прерывает пачку.
func (p *Poller) RunOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	items, err := p.repo.ListDueTrackings(ctx, p.batchSize)
	if err != nil {
		slog.Error("list due trackings", "error", err.Error())
		p.setLastError(err)
		return
	}
	p.totalListed.Add(int64(len(items)))

	// Трек встречается в пачке один раз, так что по одной записи шаги
	// остаются последовательными при любом concurrency.
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, tr := range items {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		p.inFlight.Add(1)
		go func(id uint64) {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			p.processOne(ctx, id)
		}(tr.ID)
	}
	wg.Wait()

	p.sweepProjections(ctx)
}

func (p *Poller) sweepProjections(ctx context.Context) {
	if p.deliveries == nil || p.projector == nil || ctx.Err() != nil {
		return
	}
	ids, err := p.deliveries.ListUnprojectedDeliveries(ctx, p.batchSize)
	if err != nil {
		slog.Error("list unprojected deliveries", "error", err.Error())
		p.setLastError(err)
		return
	}
	for _, orderID := range ids {
		if ctx.Err() != nil {
			return
		}
		res, err := p.projector.Project(ctx, orderID)
		if err != nil {
			p.totalErrors.Add(1)
			p.setLastError(err)
			slog.Error("reproject delivered order", "order_id", orderID, "error", err.Error())
			continue
		}
		if res.Changed {
			p.totalProjected.Add(1)
			slog.Info("delivered order projected by sweep", "order_id", orderID)
		}
	}
}

func (p *Poller) processOne(ctx context.Context, id uint64) {
	defer p.totalProcessed.Add(1)

	res, err := p.reconciler.Reconcile(ctx, id)
	switch {
	case errors.Is(err, models.ErrAlreadyTerminal):
		// успел стать терминальным между выборкой и шагом
		p.totalSkipped.Add(1)
	case err != nil:
		p.totalErrors.Add(1)
		p.setLastError(err)
		slog.Error("reconcile tracking", "tracking_id", id, "error", err.Error())
	case res.SourceErr != nil:
		p.totalSourceErrors.Add(1)
		p.setLastError(res.SourceErr)
	case res.Skipped:
		p.totalSkipped.Add(1)
	case res.Appended > 0:
		p.totalAdvanced.Add(1)
	}
}

func (p *Poller) setLastError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
