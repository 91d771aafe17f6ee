package config

import (
	"math"
	"testing"
)

func ptr(f float64) *float64 { return &f }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLookup_Resolution(t *testing.T) {
	c := NewCalculator(nil)

	tests := []struct {
		model   string
		wantKey string
		wantOK  bool
	}{
		{"claude-opus-4-6", "claude-opus-4-6", true},
		{"claude-opus-4-5-20251101", "claude-opus-4-5", true},
		{"claude-sonnet-4-20250514", "claude-sonnet-4", true},
		{"us.anthropic.claude-sonnet-4-5-20250929-v1:0", "claude-sonnet-4-5", true},
		{"claude-opus-4-10", "claude-opus-4", true},
		{"claude-3-5-haiku-latest", "claude-3-5-haiku", true},
		{"gpt-4o", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		_, key, ok := c.Lookup(tt.model)
		if ok != tt.wantOK || key != tt.wantKey {
			t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.model, key, ok, tt.wantKey, tt.wantOK)
		}
	}
}

func TestLookup_FamilyTieBreakIsLexicographic(t *testing.T) {
	c := NewCalculator(map[string]ModelPricingOverride{
		"vendor-bbb": {InputPerMTok: ptr(2)},
		"vendor-aaa": {InputPerMTok: ptr(1)},
	})

	for range 20 {
		p, key, ok := c.Lookup("x-vendor-bbb-vendor-aaa-y")
		if !ok || key != "vendor-aaa" || p.InputPerMTok != 1 {
			t.Fatalf("Lookup = %q %+v %v, want vendor-aaa", key, p, ok)
		}
	}
}

func TestCost(t *testing.T) {
	c := NewCalculator(nil)

	// 1M of each token kind on sonnet: 3 + 15 + 3.75 + 0.30
	got := c.Cost("claude-sonnet-4-5-20250929", 1_000_000, 1_000_000, 1_000_000, 1_000_000)
	if !approx(got, 22.05) {
		t.Errorf("Cost = %f, want 22.05", got)
	}

	if got := c.Cost("not-a-model", 1_000_000, 1_000_000, 0, 0); got != 0 {
		t.Errorf("unknown model cost = %f, want 0", got)
	}
}

func TestOverridesBeatFeedBeatDefaults(t *testing.T) {
	c := NewCalculator(map[string]ModelPricingOverride{
		"claude-opus-4-6": {OutputPerMTok: ptr(99)},
		"my-finetune":     {InputPerMTok: ptr(7), OutputPerMTok: ptr(8)},
	})
	c.MergeFeed(map[string]ModelPricing{
		"claude-opus-4-6": {InputPerMTok: 4, OutputPerMTok: 20, CacheWritePerMTok: 5, CacheReadPerMTok: 0.4},
		"claude-new-7":    {InputPerMTok: 1, OutputPerMTok: 2},
	})

	p, _, _ := c.Lookup("claude-opus-4-6")
	if p.InputPerMTok != 4 || p.OutputPerMTok != 99 || p.CacheReadPerMTok != 0.4 {
		t.Errorf("opus pricing = %+v", p)
	}
	if p, _, ok := c.Lookup("claude-new-7"); !ok || p.OutputPerMTok != 2 {
		t.Errorf("feed-only model = %+v, %v", p, ok)
	}
	if p, _, ok := c.Lookup("my-finetune"); !ok || p.InputPerMTok != 7 {
		t.Errorf("override-only model = %+v, %v", p, ok)
	}
	if p, _, _ := c.Lookup("claude-haiku-4-5"); p != DefaultPricing["claude-haiku-4-5"] {
		t.Errorf("untouched default changed: %+v", p)
	}
}

func TestMergeFeedDoesNotMutateDefaults(t *testing.T) {
	before := DefaultPricing["claude-sonnet-4"]
	c := NewCalculator(nil)
	c.MergeFeed(map[string]ModelPricing{"claude-sonnet-4": {InputPerMTok: 123}})
	if DefaultPricing["claude-sonnet-4"] != before {
		t.Fatal("DefaultPricing was mutated")
	}
}

func TestCacheSavings(t *testing.T) {
	c := NewCalculator(nil)
	got := c.CacheSavings("claude-opus-4-6", 1_000_000)
	if !approx(got, 4.50) {
		t.Errorf("CacheSavings = %f, want 4.50", got)
	}
}

func TestNormalizeModelName(t *testing.T) {
	tests := map[string]string{
		"claude-opus-4-5-20251101": "claude-opus-4-5",
		"claude-opus-4-5":          "claude-opus-4-5",
		"claude-3-5-haiku-latest":  "claude-3-5-haiku-latest",
		"model-123":                "model-123",
		"solo":                     "solo",
	}
	for in, want := range tests {
		if got := NormalizeModelName(in); got != want {
			t.Errorf("NormalizeModelName(%q) = %q, want %q", in, got, want)
		}
	}
}
