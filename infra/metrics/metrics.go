// Package metrics exports engine outcomes and arena usage to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"kestrel/service"
)

const namespace = "kestrel"

// Observer counts engine operations by outcome.
type Observer struct {
	ops       *prometheus.CounterVec
	matches   prometheus.Counter
	rollbacks *prometheus.CounterVec
}

func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Committed matches.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rolled back transactions by the state they reached.",
		}, []string{"state"}),
	}
	reg.MustRegister(o.ops, o.matches, o.rollbacks)
	return o
}

func (o *Observer) Committed(op service.Op, matches int) {
	o.ops.WithLabelValues(op.String(), "committed").Inc()
	o.matches.Add(float64(matches))
}

func (o *Observer) RolledBack(op service.Op, at service.State) {
	o.ops.WithLabelValues(op.String(), "rolled_back").Inc()
	o.rollbacks.WithLabelValues(at.String()).Inc()
}

func (o *Observer) Rejected(op service.Op) {
	o.ops.WithLabelValues(op.String(), "rejected").Inc()
}

// arenaCollector reads arena usage at scrape time.
type arenaCollector struct {
	stats  func() service.ArenaStats
	live   *prometheus.Desc
	blocks *prometheus.Desc
}

// RegisterArena exports outstanding records per kind and reserved blocks
// per size class.
func RegisterArena(reg prometheus.Registerer, stats func() service.ArenaStats) {
	reg.MustRegister(&arenaCollector{
		stats: stats,
		live: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "arena", "outstanding"),
			"Records currently allocated.", []string{"kind"}, nil),
		blocks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "arena", "blocks"),
			"Blocks reserved from the pool.", []string{"class"}, nil),
	})
}

func (c *arenaCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.live
	ch <- c.blocks
}

func (c *arenaCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	for kind, n := range map[string]int{
		"order":    s.Orders,
		"trade":    s.Trades,
		"level":    s.Levels,
		"match":    s.Matches,
		"position": s.Positions,
	} {
		ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(n), kind)
	}
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(s.SmallBlocks), "small")
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(s.LargeBlocks), "large")
}
