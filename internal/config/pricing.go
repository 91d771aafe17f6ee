package config

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok      float64 `json:"input_per_mtok"`
	OutputPerMTok     float64 `json:"output_per_mtok"`
	CacheWritePerMTok float64 `json:"cache_write_per_mtok"`
	CacheReadPerMTok  float64 `json:"cache_read_per_mtok"`
}

// DefaultPricing maps model base names to their pricing. Cache writes are
// priced at the 5-minute TTL rate.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-6":   {InputPerMTok: 5.00, OutputPerMTok: 25.00, CacheWritePerMTok: 6.25, CacheReadPerMTok: 0.50},
	"claude-opus-4-5":   {InputPerMTok: 5.00, OutputPerMTok: 25.00, CacheWritePerMTok: 6.25, CacheReadPerMTok: 0.50},
	"claude-opus-4-1":   {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50},
	"claude-opus-4":     {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50},
	"claude-sonnet-4-6": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-sonnet-4-5": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-sonnet-4":   {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-3-7-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-3-5-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30},
	"claude-haiku-4-5":  {InputPerMTok: 1.00, OutputPerMTok: 5.00, CacheWritePerMTok: 1.25, CacheReadPerMTok: 0.10},
	"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00, CacheWritePerMTok: 1.00, CacheReadPerMTok: 0.08},
	"claude-3-opus":     {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25, CacheWritePerMTok: 0.30, CacheReadPerMTok: 0.03},
}

// NormalizeModelName strips a date suffix from a model identifier.
// e.g., "claude-opus-4-5-20251101" -> "claude-opus-4-5"
func NormalizeModelName(raw string) string {
	parts := strings.Split(raw, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			return strings.Join(parts[:len(parts)-1], "-")
		}
	}
	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Calculator resolves model names to prices. The table is layered:
// built-in defaults, then feed entries, then user overrides.
// It is safe for concurrent use.
type Calculator struct {
	mu        sync.RWMutex
	feed      map[string]ModelPricing
	overrides map[string]ModelPricingOverride
	table     map[string]ModelPricing
	keys      []string // longest first, then lexicographic
}

// NewCalculator builds a calculator from the defaults plus overrides.
func NewCalculator(overrides map[string]ModelPricingOverride) *Calculator {
	c := &Calculator{overrides: maps.Clone(overrides)}
	c.rebuild()
	return c
}

// MergeFeed layers fetched prices over the defaults. User overrides still win.
func (c *Calculator) MergeFeed(entries map[string]ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feed == nil {
		c.feed = make(map[string]ModelPricing, len(entries))
	}
	maps.Copy(c.feed, entries)
	c.rebuildLocked()
}

func (c *Calculator) rebuild() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebuildLocked()
}

func (c *Calculator) rebuildLocked() {
	table := maps.Clone(DefaultPricing)
	maps.Copy(table, c.feed)
	for name, o := range c.overrides {
		p := table[name]
		if o.InputPerMTok != nil {
			p.InputPerMTok = *o.InputPerMTok
		}
		if o.OutputPerMTok != nil {
			p.OutputPerMTok = *o.OutputPerMTok
		}
		if o.CacheWritePerMTok != nil {
			p.CacheWritePerMTok = *o.CacheWritePerMTok
		}
		if o.CacheReadPerMTok != nil {
			p.CacheReadPerMTok = *o.CacheReadPerMTok
		}
		table[name] = p
	}
	delete(table, "")

	keys := slices.Collect(maps.Keys(table))
	slices.SortFunc(keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	c.table = table
	c.keys = keys
}

// Lookup returns the pricing for a model and the table key it resolved to.
// Resolution tries the exact name, then the name without a date suffix,
// then the longest table key contained in the name, ties broken
// lexicographically.
func (c *Calculator) Lookup(model string) (ModelPricing, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model == "" {
		return ModelPricing{}, "", false
	}
	if p, ok := c.table[model]; ok {
		return p, model, true
	}
	normalized := NormalizeModelName(model)
	if p, ok := c.table[normalized]; ok {
		return p, normalized, true
	}
	for _, key := range c.keys {
		if containsFamily(normalized, key) {
			return c.table[key], key, true
		}
	}
	return ModelPricing{}, "", false
}

// containsFamily reports whether key appears in name without running into
// a longer version number ("claude-opus-4-1" is not in "claude-opus-4-10").
func containsFamily(name, key string) bool {
	for i := 0; ; {
		j := strings.Index(name[i:], key)
		if j < 0 {
			return false
		}
		end := i + j + len(key)
		if end == len(name) || name[end] < '0' || name[end] > '9' {
			return true
		}
		i += j + 1
	}
}

// Cost computes the estimated cost in USD for a single API call.
// Unknown models cost zero.
func (c *Calculator) Cost(model string, input, output, cacheWrite, cacheRead int64) float64 {
	pricing, _, ok := c.Lookup(model)
	if !ok {
		return 0
	}
	cost := float64(input) * pricing.InputPerMTok / 1_000_000
	cost += float64(output) * pricing.OutputPerMTok / 1_000_000
	cost += float64(cacheWrite) * pricing.CacheWritePerMTok / 1_000_000
	cost += float64(cacheRead) * pricing.CacheReadPerMTok / 1_000_000
	return cost
}

// CacheSavings computes how much cache reads saved vs full input pricing.
func (c *Calculator) CacheSavings(model string, cacheReadTokens int64) float64 {
	pricing, _, ok := c.Lookup(model)
	if !ok {
		return 0
	}
	fullCost := float64(cacheReadTokens) * pricing.InputPerMTok / 1_000_000
	actualCost := float64(cacheReadTokens) * pricing.CacheReadPerMTok / 1_000_000
	return fullCost - actualCost
}

// Table returns a copy of the resolved pricing table.
func (c *Calculator) Table() map[string]ModelPricing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.table)
}
