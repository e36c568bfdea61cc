package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracekeeper"

var (
	// Registry is a dedicated Prometheus registry for all TraceKeeper metrics.
	Registry = prometheus.NewRegistry()

	// EventsTotal counts raw events by kind and outcome.
	EventsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total raw events seen, by kind and outcome",
		},
		[]string{"kind", "outcome"}, // recorded | filtered | symbolic | error
	)

	// RecordBytesTotal accumulates encoded record bytes handed to the sink.
	RecordBytesTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_bytes_total",
			Help:      "Cumulative encoded trace record bytes written to the sink",
		},
	)

	// TracerActive reports whether the activation gate has fired.
	TracerActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracer_active",
			Help:      "1 once the activation gate has transitioned to active",
		},
	)

	// LibraryLookupsTotal counts module cache lookups by outcome.
	LibraryLookupsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "library_lookups_total",
			Help:      "Module cache lookups",
		},
		[]string{"outcome"}, // hit | negative_hit | parsed | parse_failed | not_found
	)

	// LibrariesCached gauges the number of parsed images held by the cache.
	LibrariesCached = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "libraries_cached_total",
			Help:      "Number of successfully parsed images currently cached",
		},
	)

	// ResolveDuration measures address resolution latency.
	ResolveDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_ms",
			Help:      "Duration of address-to-location resolution in milliseconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		},
	)

	// ExportTotal counts export operations by codec and outcome.
	ExportTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_total",
			Help:      "Total trace export operations",
		},
		[]string{"codec", "outcome"},
	)

	// AgentInfo exposes static information about the running agent.
	AgentInfo = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_info",
			Help:      "Static information about the agent",
		},
		[]string{"os", "arch", "version"},
	)

	// Up is a liveness gauge for the agent.
	Up = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "1 if the agent is running and healthy",
		},
	)
)

func init() {
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	Registry.MustRegister(prometheus.NewGoCollector())
	Up.Set(1)
}

// SetAgentInfo publishes a single info metric for the running agent.
func SetAgentInfo(osName, arch, version string) {
	if osName == "" {
		osName = runtime.GOOS
	}
	if arch == "" {
		arch = runtime.GOARCH
	}
	if version == "" {
		version = "dev"
	}
	AgentInfo.WithLabelValues(osName, arch, version).Set(1)
}

// ObserveEvent records one raw event outcome.
func ObserveEvent(kind, outcome string) {
	EventsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRecordBytes accumulates sink payload volume.
func ObserveRecordBytes(n int) {
	if n <= 0 {
		return
	}
	RecordBytesTotal.Add(float64(n))
}

// SetTracerActive toggles the activation gauge.
func SetTracerActive(active bool) {
	if active {
		TracerActive.Set(1)
		return
	}
	TracerActive.Set(0)
}

// ObserveLibraryLookup records one module cache lookup outcome.
func ObserveLibraryLookup(outcome string) {
	LibraryLookupsTotal.WithLabelValues(outcome).Inc()
}

// SetLibrariesCached reports the positive cache size.
func SetLibrariesCached(count int) {
	if count < 0 {
		count = 0
	}
	LibrariesCached.Set(float64(count))
}

// ObserveResolve tracks the latency of one resolution attempt.
func ObserveResolve(start time.Time) {
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	ResolveDuration.Observe(elapsed)
}

// ObserveExport records an export outcome for a codec.
func ObserveExport(codec, outcome string) {
	ExportTotal.WithLabelValues(codec, outcome).Inc()
}

// SetUp toggles the liveness gauge.
func SetUp(healthy bool) {
	if healthy {
		Up.Set(1)
		return
	}
	Up.Set(0)
}

// Serve starts the /metrics HTTP endpoint on the provided address.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = log.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Addr: addr, Handler: mux}

	idleClosed := make(chan struct{})
	go func() {
		defer close(idleClosed)
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Printf("[Metrics] Prometheus endpoint listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-idleClosed
		return nil
	}

	return err
}
