// Package scheduler runs the periodic maintenance jobs that keep the rule
// cache warm, sweep for conflicts proactively, and log network shape
// snapshots — independent of whatever traffic is currently hitting
// /evaluate.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/fluxrules/ruleengine/internal/conflict"
	"github.com/fluxrules/ruleengine/internal/rete"
	"github.com/fluxrules/ruleengine/internal/rulecache"
)

// Config carries the three cron expressions the scheduler runs on.
type Config struct {
	RuleCacheRefreshCron string
	ConflictSweepCron    string
	StatsSnapshotCron    string
}

// Scheduler owns a cron runner and the dependencies its jobs need.
type Scheduler struct {
	cfg      Config
	logger   *slog.Logger
	cron     *cron.Cron
	cache    *rulecache.Cache
	detector *conflict.Detector
	rete     *rete.Engine

	mu    sync.Mutex
	stats map[string]jobStats
}

type jobStats struct {
	RunCount   int64
	ErrorCount int64
}

func New(cfg Config, cache *rulecache.Cache, detector *conflict.Detector, reteEngine *rete.Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   logger,
		cron:     cron.New(),
		cache:    cache,
		detector: detector,
		rete:     reteEngine,
		stats:    make(map[string]jobStats),
	}
}

// Start registers and launches every job; returns an error if any cron
// expression fails to parse.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{"rule_cache_refresh", s.cfg.RuleCacheRefreshCron, s.refreshRuleCache},
		{"conflict_sweep", s.cfg.ConflictSweepCron, s.sweepConflicts},
		{"stats_snapshot", s.cfg.StatsSnapshotCron, s.logStatsSnapshot},
	}

	for _, j := range jobs {
		j := j
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(ctx, j.name, j.fn) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler: started", "jobs", len(jobs))
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduler: job panicked", "job", name, "panic", p)
			s.recordError(name)
		}
	}()
	fn(ctx)
}

func (s *Scheduler) recordRun(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	st.RunCount++
	s.stats[name] = st
}

func (s *Scheduler) recordError(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	st.ErrorCount++
	s.stats[name] = st
}

// refreshRuleCache forces a fresh load of the "all" group, pre-warming the
// local tier ahead of the next evaluation request.
func (s *Scheduler) refreshRuleCache(ctx context.Context) {
	s.recordRun("rule_cache_refresh")
	s.cache.Invalidate(ctx, "")
	if _, err := s.cache.GetRules(ctx, ""); err != nil {
		s.logger.Warn("scheduler: rule cache refresh failed", "err", err)
		s.recordError("rule_cache_refresh")
	}
}

// sweepConflicts runs the whole-corpus conflict scan and logs a warning
// per finding, surfacing authoring mistakes even if nobody hits /conflicts.
func (s *Scheduler) sweepConflicts(ctx context.Context) {
	s.recordRun("conflict_sweep")
	conflicts, err := s.detector.DetectAll(ctx)
	if err != nil {
		s.logger.Warn("scheduler: conflict sweep failed", "err", err)
		s.recordError("conflict_sweep")
		return
	}
	if len(conflicts) > 0 {
		s.logger.Warn("scheduler: conflicts detected", "count", len(conflicts))
	}
}

// logStatsSnapshot logs the current compiled network's shape, giving an
// operator a cheap way to watch alpha-sharing ratios drift over time.
func (s *Scheduler) logStatsSnapshot(ctx context.Context) {
	s.recordRun("stats_snapshot")
	net := s.rete.Current()
	if net == nil {
		return
	}
	stats := net.Stats()
	s.logger.Info("scheduler: network snapshot",
		"alpha_nodes", stats.AlphaNodes, "beta_nodes", stats.BetaNodes,
		"terminal_nodes", stats.TerminalNodes, "shared_alpha_hits", stats.SharedAlphaHits,
		"avg_eval_ms", s.rete.AverageEvaluationTimeMS())
}
