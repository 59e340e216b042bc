package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/juju/clock"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/phase"
	"EnrichmentRelay/internal/sse"
)

var (
	// ErrInvalidTarget is returned when the subject or owner is empty.
	ErrInvalidTarget = errors.New("subscription target needs subject and owner")
	// ErrClosed is returned by operations on a closed subscription.
	ErrClosed = errors.New("subscription closed")

	errStreamClosed = errors.New("stream closed by relay")
)

// Options configures a Subscription.
type Options struct {
	Transport Transport
	// Clock schedules reconnects. Defaults to the wall clock.
	Clock      clock.Clock
	Logger     *slog.Logger
	MaxRetries int
	// OnPhaseError is called for every protocol error frame. It must not block.
	OnPhaseError func(domain.PhaseError)
}

// Subscription consumes the relay's event stream for one target and keeps an
// observable state. Transport drops are retried with exponential backoff;
// protocol error frames are recorded but do not affect status or the retry budget.
type Subscription struct {
	transport    Transport
	clock        clock.Clock
	logger       *slog.Logger
	maxRetries   int
	onPhaseError func(domain.PhaseError)

	mu        sync.Mutex
	state     domain.SubscriptionState
	changed   chan struct{}
	target    Target
	hasTarget bool
	closed    bool
	// gen identifies the current attempt chain. Callbacks from older chains are dropped.
	gen    uint64
	cancel context.CancelFunc
	timer  clock.Timer

	wg sync.WaitGroup
}

// New returns an idle subscription.
func New(opts Options) *Subscription {
	s := &Subscription{
		transport:    opts.Transport,
		clock:        opts.Clock,
		logger:       opts.Logger,
		maxRetries:   opts.MaxRetries,
		onPhaseError: opts.OnPhaseError,
		state:        domain.SubscriptionState{Status: domain.StatusIdle},
		changed:      make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = clock.WallClock
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxRetries <= 0 {
		s.maxRetries = DefaultMaxRetries
	}
	return s
}

// Subscribe starts streaming target, replacing any current stream.
func (s *Subscription) Subscribe(target Target) error {
	if !target.Valid() {
		return ErrInvalidTarget
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.target = target
	s.hasTarget = true
	s.restartLocked()
	return nil
}

// Retry tears down the current stream and any pending reconnect, then starts
// over from idle with a fresh retry budget.
func (s *Subscription) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.hasTarget {
		return nil
	}
	s.restartLocked()
	return nil
}

// Close stops streaming and waits for background work to finish. The last state stays readable.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.teardownLocked()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// State returns a snapshot of the current state.
func (s *Subscription) State() domain.SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Wait blocks until the state version exceeds afterVersion.
func (s *Subscription) Wait(ctx context.Context, afterVersion uint64) (domain.SubscriptionState, error) {
	return s.WaitFor(ctx, func(st domain.SubscriptionState) bool {
		return st.Version > afterVersion
	})
}

// WaitFor blocks until pred holds for the current state.
func (s *Subscription) WaitFor(ctx context.Context, pred func(domain.SubscriptionState) bool) (domain.SubscriptionState, error) {
	for {
		s.mu.Lock()
		st := s.state.Clone()
		changed := s.changed
		s.mu.Unlock()

		if pred(st) {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (s *Subscription) restartLocked() {
	s.teardownLocked()
	s.state = domain.SubscriptionState{Status: domain.StatusIdle, Version: s.state.Version}
	s.publishLocked()
	s.connectLocked()
}

func (s *Subscription) teardownLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Subscription) connectLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state.Status = domain.StatusConnecting
	s.publishLocked()

	s.wg.Add(1)
	go s.run(ctx, s.gen, s.target)
}

func (s *Subscription) publishLocked() {
	s.state.Version++
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Subscription) run(ctx context.Context, gen uint64, target Target) {
	defer s.wg.Done()

	stream, err := s.transport.Open(ctx, target)
	if err != nil {
		s.dropped(gen, fmt.Errorf("open stream: %w", err))
		return
	}
	defer stream.Close()

	frames := stream.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				err := stream.Err()
				if err == nil {
					err = errStreamClosed
				}
				s.dropped(gen, err)
				return
			}
			if !s.handle(gen, frame) {
				return
			}
		}
	}
}

// handle applies one frame and reports whether the stream should keep being read.
func (s *Subscription) handle(gen uint64, frame sse.Frame) bool {
	switch frame.Event {
	case sse.EventPhase:
		event, err := domain.DecodePhaseEvent(frame.Data)
		if err != nil {
			s.logger.Warn("skip undecodable phase frame", "error", err)
			return true
		}
		return s.applyPhase(gen, event)

	case sse.EventDone:
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return false
		}
		s.state.Status = domain.StatusDone
		s.publishLocked()
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		return false

	case sse.EventError:
		perr, err := domain.DecodePhaseError(frame.Data)
		if err != nil {
			s.logger.Warn("skip undecodable error frame", "error", err)
			return true
		}
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return false
		}
		if s.state.PhaseErrors == nil {
			s.state.PhaseErrors = make(map[string]string)
		}
		s.state.PhaseErrors[perr.Phase] = perr.Message
		s.publishLocked()
		notify := s.onPhaseError
		s.mu.Unlock()

		s.logger.Info("enrichment phase reported an error", "phase", perr.Phase, "message", perr.Message)
		if notify != nil {
			notify(perr)
		}
		return true
	}
	return true
}

func (s *Subscription) applyPhase(gen uint64, event domain.PhaseEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}

	var err error
	switch event.Phase {
	case domain.PhaseProfile:
		var fields domain.ProfileFields
		if fields, err = phase.DecodeProfile(event.Data); err == nil {
			s.state.Profile = &fields
		}
	case domain.PhaseMetrics:
		var fields domain.MetricsFields
		if fields, err = phase.DecodeMetrics(event.Data); err == nil {
			s.state.Metrics = &fields
		}
	case domain.PhaseAI:
		var fields domain.AIFields
		if fields, err = phase.DecodeAI(event.Data); err == nil {
			s.state.AI = &fields
		}
	}
	if err != nil {
		s.logger.Warn("skip phase with malformed payload", "phase", event.Phase, "error", err)
	}

	// Any received phase frame proves the connection healthy.
	s.state.Status = domain.StatusStreaming
	s.state.Progress = event.Progress
	s.state.RetryCount = 0
	s.state.LastError = ""
	s.publishLocked()
	return true
}

func (s *Subscription) dropped(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed || s.state.Status.Terminal() {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if s.state.RetryCount >= s.maxRetries {
		s.state.Status = domain.StatusError
		s.state.LastError = fmt.Sprintf("enrichment stream unavailable after %d retries: %v", s.maxRetries, cause)
		s.publishLocked()
		s.logger.Error("giving up on enrichment stream", "subject", s.target.Subject, "error", cause)
		return
	}

	delay := Backoff(s.state.RetryCount)
	s.state.RetryCount++
	s.state.Status = domain.StatusConnecting
	s.state.LastError = cause.Error()
	s.publishLocked()
	s.logger.Warn("enrichment stream dropped", "subject", s.target.Subject,
		"attempt", s.state.RetryCount, "delay", delay, "error", cause)

	s.timer = s.clock.AfterFunc(delay, func() { s.reopen(gen) })
}

func (s *Subscription) reopen(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.timer = nil
	s.connectLocked()
}
