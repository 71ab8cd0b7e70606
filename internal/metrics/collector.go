// Package metrics exports Prometheus counters/gauges/histograms for the
// rule engine's own concerns — evaluation throughput, cache hit rate,
// conflicts found, compiles triggered.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	EventsProcessed   prometheus.Counter
	RulesMatched      *prometheus.CounterVec
	EvaluationSeconds prometheus.Histogram
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	ConflictsFound    *prometheus.CounterVec
	CompilesTotal     prometheus.Counter
	NetworkAlphaNodes prometheus.Gauge
	NetworkBetaNodes  prometheus.Gauge
	ActionsDispatched *prometheus.CounterVec
	ActionErrors      *prometheus.CounterVec
}

func NewCollector() *Collector {
	return &Collector{
		EventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ruleengine_events_processed_total",
			Help: "Total events submitted for rule evaluation.",
		}),
		RulesMatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruleengine_rules_matched_total",
			Help: "Total rule matches, labeled by rule group.",
		}, []string{"group"}),
		EvaluationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ruleengine_evaluation_duration_seconds",
			Help:    "Time spent evaluating one event against the compiled network.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruleengine_rule_cache_hits_total",
			Help: "Rule cache hits, labeled by tier (local/remote).",
		}, []string{"tier"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruleengine_rule_cache_misses_total",
			Help: "Rule cache misses, labeled by tier (local/remote).",
		}, []string{"tier"}),
		ConflictsFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruleengine_conflicts_found_total",
			Help: "Conflicts detected, labeled by kind (duplicate_condition/priority_collision).",
		}, []string{"kind"}),
		CompilesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ruleengine_network_compiles_total",
			Help: "Total RETE network recompiles triggered by a rule-set hash change.",
		}),
		NetworkAlphaNodes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ruleengine_network_alpha_nodes",
			Help: "Alpha node count in the currently compiled network.",
		}),
		NetworkBetaNodes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ruleengine_network_beta_nodes",
			Help: "Beta node count in the currently compiled network.",
		}),
		ActionsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruleengine_actions_dispatched_total",
			Help: "Actions dispatched, labeled by channel.",
		}, []string{"channel"}),
		ActionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruleengine_action_errors_total",
			Help: "Action dispatch failures, labeled by channel.",
		}, []string{"channel"}),
	}
}
