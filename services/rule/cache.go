package rule

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_rule_cache_hits_total"})
	cacheMiss = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_rule_cache_miss_total"})
)

// Collectors exposes the cache metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{cacheHits, cacheMiss}
}

// RuleCache holds compiled rule sets per collector. Concurrent misses for the
// same collector share one load.
type RuleCache struct {
	items *gocache.Cache
	group singleflight.Group
}

func NewRuleCache(ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RuleCache{items: gocache.New(ttl, 2*ttl)}
}

func (c *RuleCache) GetOrLoad(collectorID string, load func() ([]*CompiledRule, error)) ([]*CompiledRule, error) {
	if v, ok := c.items.Get(collectorID); ok {
		cacheHits.Inc()
		return v.([]*CompiledRule), nil
	}
	cacheMiss.Inc()

	v, err, _ := c.group.Do(collectorID, func() (any, error) {
		rules, err := load()
		if err != nil {
			return nil, err
		}
		c.items.SetDefault(collectorID, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*CompiledRule), nil
}

func (c *RuleCache) Invalidate(collectorID string) {
	c.items.Delete(collectorID)
}
