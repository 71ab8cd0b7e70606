// Package rulecache implements the two-tier cache fronting the rule store:
// a short-TTL process-local tier and a longer-TTL remote tier, both
// best-effort in front of the authoritative source. A remote-tier failure
// never surfaces to callers — it just means the next read falls through to
// the source.
package rulecache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxrules/ruleengine/internal/condition"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix       = "rule_engine:rules:"
	defaultLocalTTL = 60 * time.Second
	defaultRemoteTTL = 300 * time.Second
	allGroup        = "all"
)

// CachedRule is the cache's wire/storage shape for a rule: everything the
// RETE compiler and linear evaluator need, serializable for the remote
// tier.
type CachedRule struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Group     string          `json:"group"`
	Priority  int             `json:"priority"`
	Condition *condition.Node `json:"condition"`
}

// Source loads the authoritative rule set on a cache miss.
type Source interface {
	LoadEnabledRules(ctx context.Context, group string) ([]CachedRule, error)
}

// Cache is the two-tier rule cache. The zero value is not usable; use New.
type Cache struct {
	source    Source
	remote    RemoteCache // nil disables the remote tier entirely
	local     *gocache.Cache
	localTTL  time.Duration
	remoteTTL time.Duration
	sf        singleflight.Group
	logger    *slog.Logger
}

type Option func(*Cache)

func WithLocalTTL(d time.Duration) Option  { return func(c *Cache) { c.localTTL = d } }
func WithRemoteTTL(d time.Duration) Option { return func(c *Cache) { c.remoteTTL = d } }
func WithRemote(r RemoteCache) Option      { return func(c *Cache) { c.remote = r } }
func WithLogger(l *slog.Logger) Option     { return func(c *Cache) { c.logger = l } }

func New(source Source, opts ...Option) *Cache {
	c := &Cache{
		source:    source,
		localTTL:  defaultLocalTTL,
		remoteTTL: defaultRemoteTTL,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.local = gocache.New(c.localTTL, c.localTTL*2)
	return c
}

func groupKey(group string) string {
	if group == "" {
		group = allGroup
	}
	return keyPrefix + group
}

// GetRules returns enabled rules for group ("" means every group), hitting
// local, then remote, then the source, populating each faster tier behind
// it as it goes.
func (c *Cache) GetRules(ctx context.Context, group string) ([]CachedRule, error) {
	key := groupKey(group)

	if v, ok := c.local.Get(key); ok {
		return v.([]CachedRule), nil
	}

	if c.remote != nil {
		if raw, err := c.remote.Get(ctx, key); err == nil {
			var rules []CachedRule
			if jerr := json.Unmarshal([]byte(raw), &rules); jerr == nil {
				c.local.Set(key, rules, c.localTTL)
				return rules, nil
			}
			c.logger.Warn("rulecache: corrupt remote entry, reloading from source", "key", key)
		} else if err != ErrMiss {
			c.logger.Warn("rulecache: remote read failed, degrading to source", "key", key, "err", err)
		}
	}

	// Coalesce concurrent misses for the same key onto a single source load.
	v, err, _ := c.sf.Do(key, func() (any, error) {
		rules, err := c.source.LoadEnabledRules(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("rulecache: loading rules for group %q: %w", group, err)
		}
		c.local.Set(key, rules, c.localTTL)
		c.setRemote(ctx, key, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]CachedRule), nil
}

func (c *Cache) setRemote(ctx context.Context, key string, rules []CachedRule) {
	if c.remote == nil {
		return
	}
	b, err := json.Marshal(rules)
	if err != nil {
		c.logger.Warn("rulecache: failed to marshal rules for remote tier", "key", key, "err", err)
		return
	}
	if err := c.remote.Set(ctx, key, string(b), c.remoteTTL); err != nil {
		c.logger.Warn("rulecache: remote write failed, local tier still populated", "key", key, "err", err)
	}
}

// Invalidate clears the local tier entirely (it has no per-group index
// cheap enough to target) and deletes the remote entries for group and
// "all" — any query that spans groups must be recomputed too.
func (c *Cache) Invalidate(ctx context.Context, group string) {
	c.local.Flush()
	if c.remote == nil {
		return
	}
	keys := []string{groupKey(allGroup)}
	if group != "" {
		keys = append(keys, groupKey(group))
	}
	if err := c.remote.Del(ctx, keys...); err != nil {
		c.logger.Warn("rulecache: remote invalidate failed", "keys", keys, "err", err)
	}
}
