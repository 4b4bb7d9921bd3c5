package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"codecollab/internal/core/domain"
)

type PrometheusCollector struct {
	// Counters
	clientsConnectedTotal prometheus.Gauge
	roomsActiveTotal      prometheus.Gauge
	framesReceivedTotal   *prometheus.CounterVec
	framesRejectedTotal   *prometheus.CounterVec
	opsAppliedTotal       prometheus.Counter

	// Histograms
	persistDuration prometheus.Histogram
	opBatchSize     prometheus.Histogram

	// Per-room metrics
	roomClientCount *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		clientsConnectedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "codecollab_clients_connected_total",
			Help: "Total number of connected clients",
		}),

		roomsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "codecollab_rooms_active_total",
			Help: "Total number of rooms with at least one client",
		}),

		framesReceivedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codecollab_frames_received_total",
			Help: "Total number of relay frames received by type",
		}, []string{"type"}),

		framesRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "codecollab_frames_rejected_total",
			Help: "Total number of relay frames rejected by type",
		}, []string{"type"}),

		opsAppliedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "codecollab_document_ops_applied_total",
			Help: "Total number of document operations applied",
		}),

		persistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "codecollab_file_persist_duration_seconds",
			Help:    "Duration of file store writes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		opBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "codecollab_op_batch_size",
			Help:    "Number of operations per relayed batch",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),

		roomClientCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codecollab_room_client_count",
			Help: "Number of clients in each room",
		}, []string{"room_id"}),
	}
}

func (p *PrometheusCollector) ClientConnected(roomID domain.RoomID) {
	p.clientsConnectedTotal.Inc()
	p.roomClientCount.WithLabelValues(string(roomID)).Inc()
}

func (p *PrometheusCollector) ClientDisconnected(roomID domain.RoomID) {
	p.clientsConnectedTotal.Dec()
	p.roomClientCount.WithLabelValues(string(roomID)).Dec()
}

func (p *PrometheusCollector) RoomOpened(roomID domain.RoomID) {
	p.roomsActiveTotal.Inc()
}

func (p *PrometheusCollector) RoomClosed(roomID domain.RoomID) {
	p.roomsActiveTotal.Dec()
	p.roomClientCount.DeleteLabelValues(string(roomID))
}

func (p *PrometheusCollector) FrameReceived(frameType string) {
	p.framesReceivedTotal.WithLabelValues(frameType).Inc()
}

func (p *PrometheusCollector) FrameRejected(frameType string) {
	p.framesRejectedTotal.WithLabelValues(frameType).Inc()
}

func (p *PrometheusCollector) RecordOpsApplied(count int) {
	p.opsAppliedTotal.Add(float64(count))
	p.opBatchSize.Observe(float64(count))
}

func (p *PrometheusCollector) RecordPersist(duration time.Duration) {
	p.persistDuration.Observe(duration.Seconds())
}
