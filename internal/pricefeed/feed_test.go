package pricefeed

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const sampleDoc = `{
  "sample_spec": {"litellm_provider": "one of https://docs.litellm.ai/docs/providers", "input_cost_per_token": 0.0},
  "claude-sonnet-4-5-20250929": {
    "litellm_provider": "anthropic", "mode": "chat",
    "input_cost_per_token": 3e-06, "output_cost_per_token": 1.5e-05,
    "cache_creation_input_token_cost": 3.75e-06, "cache_read_input_token_cost": 3e-07
  },
  "anthropic/claude-haiku-4-5": {
    "litellm_provider": "anthropic", "mode": "chat",
    "input_cost_per_token": 1e-06, "output_cost_per_token": 5e-06
  },
  "gpt-4o": {"litellm_provider": "openai", "input_cost_per_token": 2.5e-06, "output_cost_per_token": 1e-05},
  "claude-embed": {"litellm_provider": "anthropic", "mode": "embedding", "input_cost_per_token": 1e-07, "output_cost_per_token": 0},
  "broken": "not an object"
}`

func TestParse(t *testing.T) {
	prices, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prices) != 2 {
		t.Fatalf("got %d models, want 2: %v", len(prices), prices)
	}

	s := prices["claude-sonnet-4-5-20250929"]
	if s.InputPerMTok != 3 || s.OutputPerMTok != 15 || s.CacheWritePerMTok != 3.75 || s.CacheReadPerMTok != 0.3 {
		t.Errorf("sonnet = %+v", s)
	}
	h, ok := prices["claude-haiku-4-5"]
	if !ok || h.InputPerMTok != 1 || h.CacheReadPerMTok != 0 {
		t.Errorf("haiku = %+v, %v", h, ok)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("[1,2")); err == nil {
		t.Error("Parse accepted malformed JSON")
	}
}

func newFeedServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleDoc))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFeedLoadCachesAndRevalidates(t *testing.T) {
	srv, hits := newFeedServer(t)
	dir := t.TempDir()
	f := New(NewClient(srv.URL, nil), dir, time.Hour, nil)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return clock }

	res, err := f.Load(context.Background(), false)
	if err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if res.FromCache || len(res.Prices) != 2 || hits.Load() != 1 {
		t.Fatalf("first load = %+v, hits %d", res, hits.Load())
	}

	// Fresh cache: no request.
	res, err = f.Load(context.Background(), false)
	if err != nil || !res.FromCache || hits.Load() != 1 {
		t.Fatalf("cached load = %+v, %v, hits %d", res, err, hits.Load())
	}

	// Expired: conditional request, server says not modified.
	clock = clock.Add(2 * time.Hour)
	res, err = f.Load(context.Background(), false)
	if err != nil || !res.FromCache || hits.Load() != 2 {
		t.Fatalf("revalidated load = %+v, %v, hits %d", res, err, hits.Load())
	}
	if !res.FetchedAt.Equal(clock) {
		t.Errorf("FetchedAt = %v, want %v", res.FetchedAt, clock)
	}

	cached, err := f.Cached()
	if err != nil || len(cached.Prices) != 2 {
		t.Errorf("Cached = %+v, %v", cached, err)
	}
}

func TestFeedLoadFallsBackToStaleCache(t *testing.T) {
	srv, _ := newFeedServer(t)
	dir := t.TempDir()
	f := New(NewClient(srv.URL, nil), dir, time.Hour, nil)
	if _, err := f.Load(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	// Same URL recorded in the cache, different server behavior.
	f.Client = &Client{url: srv.URL, http: &http.Client{Transport: redirectTo(down.URL)}}
	res, err := f.Load(context.Background(), true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !res.Stale || len(res.Prices) != 2 {
		t.Errorf("stale load = %+v", res)
	}
}

func TestFeedLoadNoCacheError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := New(NewClient(srv.URL, nil), t.TempDir(), time.Hour, nil)
	_, err := f.Load(context.Background(), false)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestPerMillionRounding(t *testing.T) {
	v := 3e-07
	if got := perMillion(&v); math.Abs(got-0.3) > 0 {
		t.Errorf("perMillion = %v, want exactly 0.3", got)
	}
}

// redirectTo sends every request to target, keeping the path.
type redirectTo string

func (r redirectTo) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	u := *req.URL
	tu, err := http.NewRequest(http.MethodGet, string(r), nil)
	if err != nil {
		return nil, err
	}
	u.Scheme, u.Host = tu.URL.Scheme, tu.URL.Host
	out.URL = &u
	out.Host = ""
	return http.DefaultTransport.RoundTrip(out)
}
