package metrics

import (
	"github.com/layer-3/clearway/core"
	"github.com/layer-3/clearway/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "clearway"

// ClearanceSource exposes the clearance stats snapshot
type ClearanceSource interface {
	Stats() core.ClearanceStats
}

// TokenSource exposes per-tier token counts
type TokenSource interface {
	Counts() service.TierCounts
}

// NewRegistry builds a registry with the clearance counters, token gauges and
// the standard process and Go collectors.
func NewRegistry(clearance ClearanceSource, tokens TokenSource, coordinator *service.FailureCoordinator) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	counter := func(name, help string, read func(core.ClearanceCounters) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clearance",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(clearance.Stats().Counters)) })
	}

	reg.MustRegister(
		counter("checks_total", "Clearance validity checks.", func(c core.ClearanceCounters) int64 { return c.TotalChecks }),
		counter("cache_hits_total", "Checks answered by the cached credential.", func(c core.ClearanceCounters) int64 { return c.CacheHits }),
		counter("cache_misses_total", "Checks that needed a refresh.", func(c core.ClearanceCounters) int64 { return c.CacheMisses }),
		counter("solver_success_total", "Successful refreshes.", func(c core.ClearanceCounters) int64 { return c.SolverSuccess }),
		counter("solver_failures_total", "Failed refreshes.", func(c core.ClearanceCounters) int64 { return c.SolverFailures }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "clearance",
			Name:      "valid",
			Help:      "1 when the cached clearance is inside its validity window.",
		}, func() float64 {
			if clearance.Stats().CacheValid {
				return 1
			}
			return 0
		}),
		newTokenCollector(tokens),
	)

	if coordinator != nil {
		reg.MustRegister(
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "forced_refreshes_total",
				Help:      "Forced refreshes started after challenge-block denials.",
			}, func() float64 { return float64(coordinator.Flights()) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "coordinator",
				Name:      "coalesced_total",
				Help:      "Challenge-block reports answered by a refresh already in flight.",
			}, func() float64 { return float64(coordinator.Coalesced()) }),
		)
	}

	return reg
}

type tokenCollector struct {
	source TokenSource
	desc   *prometheus.Desc
}

func newTokenCollector(source TokenSource) *tokenCollector {
	return &tokenCollector{
		source: source,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "tokens", "count"),
			"Tokens in the pool by tier and status.",
			[]string{"tier", "status"}, nil,
		),
	}
}

func (c *tokenCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *tokenCollector) Collect(ch chan<- prometheus.Metric) {
	for tier, byStatus := range c.source.Counts() {
		for status, n := range byStatus {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(tier), string(status))
		}
	}
}
