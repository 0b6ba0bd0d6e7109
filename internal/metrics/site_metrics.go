package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "campsite"
	subsystem = "sim"
)

// SiteCollector records tick-loop metrics for one site.
type SiteCollector struct {
	tickDuration  prometheus.Histogram
	edits         *prometheus.CounterVec
	pathQueries   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	utilityFlips  *prometheus.CounterVec
	regions       *prometheus.GaugeVec
	pendingTasks  prometheus.Gauge
	unsupplied    prometheus.Gauge
	meshRecovered *prometheus.GaugeVec
}

func NewSiteCollector() *SiteCollector {
	return &SiteCollector{
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tick_duration_seconds",
				Help:      "Wall time spent in one simulation tick",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.2},
			},
		),
		edits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "edits_total",
				Help:      "Edits applied in the write phase by kind and outcome",
			},
			[]string{"kind", "result"},
		),
		pathQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "path_queries_total",
				Help:      "Route queries by navigation category and outcome",
			},
			[]string{"category", "result"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "task_transitions_total",
				Help:      "Task status transitions by target status",
			},
			[]string{"to"},
		),
		utilityFlips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "utility_flips_total",
				Help:      "Per-node utility connectivity changes by type and direction",
			},
			[]string{"type", "connected"},
		),
		regions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "navmesh_regions",
				Help:      "Current navmesh region count by category",
			},
			[]string{"category"},
		),
		pendingTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pending_tasks",
				Help:      "Tasks waiting for an eligible employee",
			},
		),
		unsupplied: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "unsupplied_buildings",
				Help:      "Buildings missing at least one required utility",
			},
		),
		meshRecovered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "navmesh_recoveries",
				Help:      "Full navmesh rebuilds triggered by invariant violations",
			},
			[]string{"category"},
		),
	}
}

// Register adds every collector to reg.
func (c *SiteCollector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.tickDuration,
		c.edits,
		c.pathQueries,
		c.transitions,
		c.utilityFlips,
		c.regions,
		c.pendingTasks,
		c.unsupplied,
		c.meshRecovered,
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *SiteCollector) ObserveTick(d time.Duration) { c.tickDuration.Observe(d.Seconds()) }

func (c *SiteCollector) RecordEdit(kind string, ok bool) {
	c.edits.WithLabelValues(kind, result(ok)).Inc()
}

func (c *SiteCollector) RecordPathQuery(category string, ok bool) {
	c.pathQueries.WithLabelValues(category, result(ok)).Inc()
}

func (c *SiteCollector) RecordTransition(to string) { c.transitions.WithLabelValues(to).Inc() }

func (c *SiteCollector) RecordUtilityFlip(utilityType string, connected bool) {
	v := "false"
	if connected {
		v = "true"
	}
	c.utilityFlips.WithLabelValues(utilityType, v).Inc()
}

func (c *SiteCollector) SetRegions(category string, n int) {
	c.regions.WithLabelValues(category).Set(float64(n))
}

func (c *SiteCollector) SetMeshRecoveries(category string, n uint64) {
	c.meshRecovered.WithLabelValues(category).Set(float64(n))
}

func (c *SiteCollector) SetPendingTasks(n int) { c.pendingTasks.Set(float64(n)) }
func (c *SiteCollector) SetUnsupplied(n int)   { c.unsupplied.Set(float64(n)) }

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "rejected"
}
