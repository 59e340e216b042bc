package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/ports"
)

const (
	defaultMaxInFlight  = 16
	defaultWriteTimeout = 10 * time.Second
)

// ErrDispatcherClosed is reported for phases dispatched after Close.
var ErrDispatcherClosed = errors.New("persistence dispatcher closed")

// DispatcherDeps wires the sink and limits of the persistence dispatcher.
type DispatcherDeps struct {
	Sink         ports.PhaseSink
	Logger       *slog.Logger
	Metrics      ports.RelayMetrics
	MaxInFlight  int
	WriteTimeout time.Duration
}

// Dispatcher applies phase events in the background. Results are only logged.
type Dispatcher struct {
	sink    ports.PhaseSink
	logger  *slog.Logger
	metrics ports.RelayMetrics
	sem     *semaphore.Weighted
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.PhaseDispatcher = (*Dispatcher)(nil)

// NewDispatcher builds a dispatcher; zero limits fall back to defaults.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	maxInFlight := deps.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	timeout := deps.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Dispatcher{
		sink:    deps.Sink,
		logger:  logger,
		metrics: metrics,
		sem:     semaphore.NewWeighted(int64(maxInFlight)),
		timeout: timeout,
	}
}

// Dispatch schedules the write and returns immediately.
func (d *Dispatcher) Dispatch(ownerID string, event domain.PhaseEvent) {
	if d.sink == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.metrics.PersistenceResult(event.Phase, ErrDispatcherClosed)
		d.logger.Warn("phase dropped after shutdown", "owner_id", ownerID, "phase", event.Phase)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		// The write outlives the request that produced it.
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.metrics.PersistenceResult(event.Phase, err)
			d.logger.Error("persistence slot unavailable", "owner_id", ownerID, "phase", event.Phase, "error", err)
			return
		}
		defer d.sem.Release(1)

		start := time.Now()
		err := d.sink.Apply(ctx, ownerID, event)
		d.metrics.PersistenceResult(event.Phase, err)
		if err != nil {
			d.logger.Error("persist phase failed", "owner_id", ownerID, "phase", event.Phase, "error", err)
			return
		}
		d.logger.Debug("phase persisted", "owner_id", ownerID, "phase", event.Phase,
			"progress", event.Progress, "took", time.Since(start))
	}()
}

// Close stops accepting phases and blocks until every dispatched write has finished.
// Later Dispatch calls are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}

type nopMetrics struct{}

func (nopMetrics) StreamStarted()                        {}
func (nopMetrics) StreamFinished(string)                 {}
func (nopMetrics) FrameForwarded(string)                 {}
func (nopMetrics) DecodeFailed()                         {}
func (nopMetrics) PersistenceResult(domain.Phase, error) {}
func (nopMetrics) UpstreamFailed()                       {}
