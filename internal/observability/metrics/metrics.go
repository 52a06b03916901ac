package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "logram"

// Dispatch actions.
const (
	ActionSend = "send"
	ActionEdit = "edit"
)

var (
	sourceRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_records_total",
		Help:      "Records received from each log source.",
	}, []string{"source"})
	sourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_errors_total",
		Help:      "Per-event errors reported inline by each log source.",
	}, []string{"source"})
	sourceDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_dropped_total",
		Help:      "Items discarded because a source output channel was full.",
	}, []string{"source"})
	dispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_messages_total",
		Help:      "Outbound messages delivered, by action (send or edit).",
	}, []string{"action"})
	dispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_failures_total",
		Help:      "Outbound deliveries that failed after all retries, by action.",
	}, []string{"action"})
	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent in a single send or edit call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})
	activeSources = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sources_active",
		Help:      "Number of log sources that initialized successfully.",
	})

	collectorsOnce sync.Once
)

// Init registers default Go/process collectors. It is safe to call multiple times.
func Init() {
	collectorsOnce.Do(func() {
		registerCollector(collectors.NewGoCollector())
		registerCollector(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

func registerCollector(c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return
		}
		panic(err)
	}
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncSourceRecord(source string)  { sourceRecords.WithLabelValues(label(source)).Inc() }
func IncSourceError(source string)   { sourceErrors.WithLabelValues(label(source)).Inc() }
func IncSourceDropped(source string) { sourceDropped.WithLabelValues(label(source)).Inc() }

// ObserveDispatch records the outcome of one delivery attempt sequence.
func ObserveDispatch(action string, took time.Duration, err error) {
	dispatchLatency.WithLabelValues(action).Observe(took.Seconds())
	if err != nil {
		dispatchFailures.WithLabelValues(action).Inc()
		return
	}
	dispatched.WithLabelValues(action).Inc()
}

func SetActiveSources(n int) {
	if n < 0 {
		n = 0
	}
	activeSources.Set(float64(n))
}

func label(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
