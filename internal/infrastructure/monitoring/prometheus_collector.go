package monitoring

import (
	"net/http"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector records coordinator activity on its own registry so
// several collectors can coexist in one process (tests, embedded use).
type PrometheusCollector struct {
	registry *prometheus.Registry

	streamsLive        prometheus.Gauge
	participantsActive prometheus.Gauge
	joinsTotal         prometheus.Counter
	leavesTotal        *prometheus.CounterVec

	metricsReported    prometheus.Counter
	metricsRejected    prometheus.Counter
	reportedBitrate    prometheus.Histogram
	reportedPacketLoss prometheus.Histogram
	qualityAdjusted    *prometheus.CounterVec

	signalsRouted *prometheus.CounterVec

	recordingsActive   prometheus.Gauge
	recordingsFailed   prometheus.Counter
	recordingBytes     prometheus.Counter
	recordingDurations prometheus.Histogram
}

var _ ports.CoordinatorMetrics = (*PrometheusCollector)(nil)

func NewPrometheusCollector() *PrometheusCollector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &PrometheusCollector{
		registry: registry,

		streamsLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveclass_streams_live",
			Help: "Number of live streams coordinated by this instance",
		}),

		participantsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveclass_participants_active",
			Help: "Number of participants currently registered in live streams",
		}),

		joinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_participant_joins_total",
			Help: "Total number of participant joins",
		}),

		leavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveclass_participant_leaves_total",
			Help: "Total number of participant departures by reason",
		}, []string{"reason"}),

		metricsReported: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_bandwidth_samples_total",
			Help: "Total number of accepted client bandwidth samples",
		}),

		metricsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_bandwidth_samples_rejected_total",
			Help: "Total number of rejected client bandwidth samples",
		}),

		reportedBitrate: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveclass_reported_bitrate_kbps",
			Help:    "Bitrate reported by clients in kbps",
			Buckets: []float64{100, 250, 500, 1000, 1500, 2500, 4000, 6000, 10000},
		}),

		reportedPacketLoss: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveclass_reported_packet_loss_percent",
			Help:    "Packet loss percentage reported by clients",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50},
		}),

		qualityAdjusted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveclass_quality_adjustments_total",
			Help: "Total number of quality adjustments pushed to participants",
		}, []string{"quality"}),

		signalsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liveclass_signals_routed_total",
			Help: "Total number of signaling messages routed by type and outcome",
		}, []string{"type", "outcome"}),

		recordingsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liveclass_recordings_active",
			Help: "Number of recordings in progress",
		}),

		recordingsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_recordings_failed_total",
			Help: "Total number of failed recording finalize attempts",
		}),

		recordingBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "liveclass_recording_bytes_total",
			Help: "Total bytes written by finalized recordings",
		}),

		recordingDurations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "liveclass_recording_duration_seconds",
			Help:    "Duration of finalized recordings",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8),
		}),
	}
}

// Registry exposes the collector's registry, mainly for tests.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusCollector) StreamStarted(domain.StreamID) {
	p.streamsLive.Inc()
}

func (p *PrometheusCollector) StreamEnded(domain.StreamID) {
	p.streamsLive.Dec()
}

func (p *PrometheusCollector) ParticipantJoined(domain.StreamID) {
	p.joinsTotal.Inc()
	p.participantsActive.Inc()
}

func (p *PrometheusCollector) ParticipantLeft(_ domain.StreamID, reason string) {
	p.leavesTotal.WithLabelValues(reason).Inc()
	p.participantsActive.Dec()
}

func (p *PrometheusCollector) MetricsReported(_ domain.StreamID, sample domain.BandwidthSample) {
	p.metricsReported.Inc()
	p.reportedBitrate.Observe(sample.BitrateKbps)
	p.reportedPacketLoss.Observe(sample.PacketLossPercent)
}

func (p *PrometheusCollector) MetricsRejected(domain.StreamID) {
	p.metricsRejected.Inc()
}

func (p *PrometheusCollector) QualityAdjusted(_ domain.StreamID, quality domain.Quality) {
	p.qualityAdjusted.WithLabelValues(string(quality)).Inc()
}

func (p *PrometheusCollector) SignalRouted(msgType domain.MessageType, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	p.signalsRouted.WithLabelValues(string(msgType), outcome).Inc()
}

func (p *PrometheusCollector) RecordingStarted(domain.StreamID) {
	p.recordingsActive.Inc()
}

func (p *PrometheusCollector) RecordingFinalized(_ domain.StreamID, sizeBytes int64, duration time.Duration) {
	p.recordingsActive.Dec()
	p.recordingBytes.Add(float64(sizeBytes))
	p.recordingDurations.Observe(duration.Seconds())
}

// RecordingFailed counts a failed finalize attempt. The recording stays
// active so the attempt can be retried.
func (p *PrometheusCollector) RecordingFailed(domain.StreamID) {
	p.recordingsFailed.Inc()
}
