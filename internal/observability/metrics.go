package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

var (
	registerOnce sync.Once

	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cimd",
			Subsystem: "frame",
			Name:      "frames_total",
			Help:      "CIMD frames encoded or decoded.",
		},
		[]string{"direction", "success"},
	)
	replies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cimd",
			Subsystem: "session",
			Name:      "requests_total",
			Help:      "Requests sent to the message center by outcome.",
		},
		[]string{"op", "outcome"},
	)
	replyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cimd",
			Subsystem: "session",
			Name:      "request_duration_seconds",
			Help:      "Time from request write to reply or failure.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "outcome"},
	)
	connects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cimd",
			Subsystem: "session",
			Name:      "connects_total",
			Help:      "Connection acquisition attempts by result.",
		},
		[]string{"result"},
	)
	segmentParts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cimd",
			Subsystem: "segment",
			Name:      "parts",
			Help:      "Number of parts produced per segmented message.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 16, 32, 255},
		},
		[]string{"alphabet"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(frames, replies, replyDuration, connects, segmentParts)
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordFrame(direction string, success bool) {
	RegisterMetrics()
	frames.WithLabelValues(direction, strconv.FormatBool(success)).Inc()
}

func RecordRequest(op int, outcome string, duration time.Duration) {
	RegisterMetrics()
	opLabel := strconv.Itoa(op)
	replies.WithLabelValues(opLabel, outcome).Inc()
	replyDuration.WithLabelValues(opLabel, outcome).Observe(duration.Seconds())
}

func RecordConnect(result string) {
	RegisterMetrics()
	connects.WithLabelValues(result).Inc()
}

func RecordSegmentation(alphabet string, parts int) {
	RegisterMetrics()
	segmentParts.WithLabelValues(alphabet).Observe(float64(parts))
}
