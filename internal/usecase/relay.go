package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/ports"
	"EnrichmentRelay/internal/sse"
)

const (
	defaultRelayTimeout = 110 * time.Second
	defaultChunkSize    = 4096

	// streamPhase tags error frames produced by the relay itself.
	streamPhase = "stream"
)

var (
	// ErrMissingParameter marks a request without subject handle or owner id.
	ErrMissingParameter = errors.New("missing required parameter")
	// ErrUpstreamUnavailable marks a failure to open the upstream stream.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Finish reasons reported to metrics.
const (
	finishDone       = "done"
	finishEOF        = "eof"
	finishTimeout    = "timeout"
	finishUpstream   = "upstream_error"
	finishClientGone = "client_gone"
	finishDownstream = "downstream_error"
)

// StreamRequest identifies the subject to enrich and the owner whose record receives results.
type StreamRequest struct {
	Subject string
	OwnerID string
}

// Validate reports ErrMissingParameter when either field is blank.
func (r StreamRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Subject) == "" {
		missing = append(missing, "handle")
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		missing = append(missing, "owner_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingParameter, strings.Join(missing, ", "))
	}
	return nil
}

// RelayDeps wires the upstream source, persistence dispatch and observability.
type RelayDeps struct {
	Source     ports.EnrichmentSource
	Dispatcher ports.PhaseDispatcher
	Logger     *slog.Logger
	Metrics    ports.RelayMetrics
	Timeout    time.Duration
	ChunkSize  int
}

// Relay bridges one upstream stream to one downstream stream per call.
type Relay struct {
	source     ports.EnrichmentSource
	dispatcher ports.PhaseDispatcher
	logger     *slog.Logger
	metrics    ports.RelayMetrics
	timeout    time.Duration
	chunkSize  int
}

// NewRelay constructs the relay; zero values fall back to defaults.
func NewRelay(deps RelayDeps) *Relay {
	r := &Relay{
		source:     deps.Source,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		timeout:    deps.Timeout,
		chunkSize:  deps.ChunkSize,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.timeout <= 0 {
		r.timeout = defaultRelayTimeout
	}
	if r.chunkSize <= 0 {
		r.chunkSize = defaultChunkSize
	}
	return r
}

// Serve runs one relay session. Errors returned before out.Open is called are
// pre-stream failures the caller must report; failures after that point are
// delivered in-stream as a single error frame and Serve returns nil.
func (r *Relay) Serve(ctx context.Context, req StreamRequest, out ports.Downstream) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if r.source == nil {
		return fmt.Errorf("%w: source is not configured", ErrUpstreamUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	streamID := uuid.NewString()
	log := r.logger.With("stream_id", streamID, "subject", req.Subject, "owner_id", req.OwnerID)

	body, err := r.source.Open(ctx, req.Subject, streamID)
	if err != nil {
		r.metrics.UpstreamFailed()
		log.Warn("upstream open failed", "error", err)
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	upstream := &onceCloser{rc: body}
	defer upstream.Close()
	// Unblocks a pending Read when the deadline passes or the client leaves.
	stop := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stop()

	if err := out.Open(); err != nil {
		return fmt.Errorf("open downstream: %w", err)
	}

	r.metrics.StreamStarted()
	log.Info("relay stream opened")

	reason, err := r.pump(ctx, log, req.OwnerID, upstream, out)
	r.metrics.StreamFinished(reason)
	log.Info("relay stream closed", "reason", reason)
	if reason == finishDownstream {
		return err
	}
	if err != nil {
		log.Warn("relay stream failed", "error", err)
		if werr := out.WriteFrame(sse.ErrorFrame(streamPhase, err.Error())); werr != nil {
			log.Debug("write error frame", "error", werr)
		}
	}
	return nil
}

// pump reads, parses and forwards until the stream terminates. A non-nil error
// with a reason other than finishDownstream must be reported to the client.
func (r *Relay) pump(ctx context.Context, log *slog.Logger, ownerID string, body io.Reader, out ports.Downstream) (string, error) {
	var parser sse.Parser
	buf := make([]byte, r.chunkSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				if err := out.WriteFrame(frame); err != nil {
					return finishDownstream, fmt.Errorf("forward %s frame: %w", frame.Event, err)
				}
				r.metrics.FrameForwarded(frame.Event)

				switch frame.Event {
				case sse.EventPhase:
					r.dispatch(log, ownerID, frame)
				case sse.EventDone:
					return finishDone, nil
				case sse.EventError:
					log.Info("upstream reported error", "data", frame.Data)
				}
			}
		}

		if readErr == nil {
			continue
		}
		switch {
		case errors.Is(readErr, io.EOF):
			if parser.Pending() > 0 {
				log.Debug("upstream ended mid-line", "pending_bytes", parser.Pending())
			}
			return finishEOF, nil
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return finishTimeout, fmt.Errorf("upstream timed out after %s", r.timeout)
		case errors.Is(ctx.Err(), context.Canceled):
			return finishClientGone, nil
		default:
			return finishUpstream, fmt.Errorf("upstream connection lost: %w", readErr)
		}
	}
}

// dispatch runs after the frame has been forwarded and never blocks on storage.
func (r *Relay) dispatch(log *slog.Logger, ownerID string, frame sse.Frame) {
	event, err := domain.DecodePhaseEvent(frame.Data)
	if err != nil {
		r.metrics.DecodeFailed()
		log.Warn("skip undecodable phase frame", "error", err)
		return
	}
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.Dispatch(ownerID, event)
}

type onceCloser struct {
	rc   io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Read(p []byte) (int, error) {
	return c.rc.Read(p)
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.rc.Close() })
	return c.err
}
