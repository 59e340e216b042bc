package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"EnrichmentRelay/internal/domain"
	"EnrichmentRelay/internal/ports"
)

const metricsNamespace = "enrichment_relay"

// Collector is a prometheus.Collector that collects metrics about relayed streams.
type Collector struct {
	activeStreams       prometheus.Gauge
	streamsFinished     *prometheus.CounterVec
	framesForwarded     *prometheus.CounterVec
	decodeFailures      prometheus.Counter
	persistenceWrites   *prometheus.CounterVec
	upstreamOpenFailure prometheus.Counter
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ ports.RelayMetrics   = (*Collector)(nil)
)

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		activeStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_streams",
				Help:      "The number of relay streams currently open.",
			},
		),
		streamsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "streams_finished_total",
				Help:      "Relay streams that ended, by reason.",
			}, []string{"reason"},
		),
		framesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_forwarded_total",
				Help:      "Frames forwarded downstream, by event name.",
			}, []string{"event"},
		),
		decodeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "phase_decode_failures_total",
				Help:      "Phase frames whose payload could not be decoded.",
			},
		),
		persistenceWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "persistence_writes_total",
				Help:      "Phase upserts, by phase and result.",
			}, []string{"phase", "result"},
		),
		upstreamOpenFailure: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "upstream_open_failures_total",
				Help:      "Requests whose upstream stream could not be opened.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.activeStreams.Describe(ch)
	c.streamsFinished.Describe(ch)
	c.framesForwarded.Describe(ch)
	c.decodeFailures.Describe(ch)
	c.persistenceWrites.Describe(ch)
	c.upstreamOpenFailure.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.activeStreams.Collect(ch)
	c.streamsFinished.Collect(ch)
	c.framesForwarded.Collect(ch)
	c.decodeFailures.Collect(ch)
	c.persistenceWrites.Collect(ch)
	c.upstreamOpenFailure.Collect(ch)
}

func (c *Collector) StreamStarted() {
	c.activeStreams.Inc()
}

func (c *Collector) StreamFinished(reason string) {
	c.activeStreams.Dec()
	c.streamsFinished.WithLabelValues(reason).Inc()
}

func (c *Collector) FrameForwarded(event string) {
	c.framesForwarded.WithLabelValues(event).Inc()
}

func (c *Collector) DecodeFailed() {
	c.decodeFailures.Inc()
}

func (c *Collector) PersistenceResult(phase domain.Phase, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.persistenceWrites.WithLabelValues(string(phase), result).Inc()
}

func (c *Collector) UpstreamFailed() {
	c.upstreamOpenFailure.Inc()
}
