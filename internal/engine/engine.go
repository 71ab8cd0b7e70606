// Package engine is the top-level orchestrator: it loads the active rule
// set from the two-tier cache, hands it to the RETE engine, and broadcasts
// the resulting match report to any connected stream clients. Callers that
// also need to fire action side effects for matched rules do so from the
// match report plus their own rule lookup — Engine
// itself stays limited to "what matched, in what order", per the
// evaluator's single responsibility.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fluxrules/ruleengine/internal/condition"
	"github.com/fluxrules/ruleengine/internal/metrics"
	"github.com/fluxrules/ruleengine/internal/rete"
	"github.com/fluxrules/ruleengine/internal/rulecache"
)

// Broadcaster is satisfied by *stream.Hub; kept as an interface so this
// package doesn't need to import gorilla/websocket transitively.
type Broadcaster interface {
	Broadcast(v any)
}

type Engine struct {
	cache       *rulecache.Cache
	rete        *rete.Engine
	broadcaster Broadcaster
	metrics     *metrics.Collector
	logger      *slog.Logger
}

func New(cache *rulecache.Cache, reteEngine *rete.Engine, broadcaster Broadcaster, m *metrics.Collector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cache: cache, rete: reteEngine, broadcaster: broadcaster, metrics: m, logger: logger}
}

// Evaluate loads the current rule set and runs event through the
// compiled network, returning the full match report.
func (e *Engine) Evaluate(ctx context.Context, event condition.Event) (*rete.MatchReport, error) {
	cached, err := e.cache.GetRules(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("engine: loading rules: %w", err)
	}

	rules := make([]rete.RuleInput, 0, len(cached))
	for _, c := range cached {
		rules = append(rules, rete.RuleInput{ID: c.ID, Name: c.Name, Group: c.Group, Priority: c.Priority, Condition: c.Condition})
	}

	report, err := e.rete.Evaluate(rules, event)
	if err != nil {
		return nil, fmt.Errorf("engine: evaluating: %w", err)
	}

	if e.metrics != nil {
		e.metrics.EventsProcessed.Inc()
		e.metrics.EvaluationSeconds.Observe(report.Stats.EvaluationTimeMS / 1000.0)
		if report.CompiledFromNew {
			e.metrics.CompilesTotal.Inc()
		}
		e.metrics.NetworkAlphaNodes.Set(float64(report.Stats.AlphaNodes))
		e.metrics.NetworkBetaNodes.Set(float64(report.Stats.BetaNodes))
		for _, m := range report.Matches {
			e.metrics.RulesMatched.WithLabelValues(m.Group).Inc()
		}
	}

	if e.broadcaster != nil {
		e.broadcaster.Broadcast(report)
	}

	e.logger.Debug("engine: evaluation complete",
		"rules_matched", report.Stats.RulesMatched, "total_rules", report.Stats.TotalRules,
		"duration_ms", report.Stats.EvaluationTimeMS)

	return report, nil
}

// EvaluateEvent implements ingest.Evaluator, discarding the report for
// callers (the Kafka consumer) that only care that evaluation happened and
// was logged/streamed/metered — anyone who needs the report itself should
// call Evaluate directly.
func (e *Engine) EvaluateEvent(ctx context.Context, event condition.Event) error {
	_, err := e.Evaluate(ctx, event)
	return err
}
