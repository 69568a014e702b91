// Package metrics exposes Prometheus metrics for module discovery and the
// access gate.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkden-lab/modhost/internal/gate"
	"github.com/darkden-lab/modhost/internal/loader"
)

const namespace = "modhost"

type Metrics struct {
	registry   *prometheus.Registry
	modules    *prometheus.GaugeVec
	registered prometheus.Gauge
	syncs      prometheus.Counter
	decisions  *prometheus.CounterVec
	listed     prometheus.Histogram
}

// New creates the metric set on its own registry, with the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		modules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "modules",
			Help:      "Modules in the discovery catalogue by status.",
		}, []string{"status"}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_modules",
			Help:      "Contributions currently registered by discovery.",
		}),
		syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_syncs_total",
			Help:      "Registry syncs after discovery.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Module execution decisions by outcome.",
		}, []string{"decision"}),
		listed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_available_modules",
			Help:      "Modules returned per available-modules query.",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
	}
	reg.MustRegister(
		m.modules, m.registered, m.syncs, m.decisions, m.listed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCatalog records catalogue counts after a discovery and sync.
func (m *Metrics) ObserveCatalog(stats loader.Stats, registered int) {
	m.syncs.Inc()
	m.modules.WithLabelValues(loader.StatusLoaded).Set(float64(stats.Enabled))
	m.modules.WithLabelValues(loader.StatusDisabled).Set(float64(stats.Valid - stats.Enabled))
	m.modules.WithLabelValues(loader.StatusFailed).Set(float64(stats.Failed))
	m.registered.Set(float64(registered))
}

// Gate is the access authority being instrumented.
type Gate interface {
	CanExecuteModule(ctx context.Context, slug, tenantID string) bool
	AvailableModules(ctx context.Context, tenantID, role string) []gate.AvailableModule
	CanManageModules(ctx context.Context, userID string) bool
	LogModuleExecution(ctx context.Context, slug, action, userID, tenantID string)
}

type instrumentedGate struct {
	Gate
	m *Metrics
}

// InstrumentGate wraps g so that its decisions are counted.
func (m *Metrics) InstrumentGate(g Gate) Gate {
	return &instrumentedGate{Gate: g, m: m}
}

func (g *instrumentedGate) CanExecuteModule(ctx context.Context, slug, tenantID string) bool {
	allowed := g.Gate.CanExecuteModule(ctx, slug, tenantID)
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	g.m.decisions.WithLabelValues(decision).Inc()
	return allowed
}

func (g *instrumentedGate) AvailableModules(ctx context.Context, tenantID, role string) []gate.AvailableModule {
	modules := g.Gate.AvailableModules(ctx, tenantID, role)
	g.m.listed.Observe(float64(len(modules)))
	return modules
}
