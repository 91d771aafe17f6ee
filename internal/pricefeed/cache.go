package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/theirongolddev/ccmeter/internal/config"
)

const (
	bodyFile = "prices.json"
	metaFile = "prices.meta.json"
)

type meta struct {
	URL       string    `json:"url"`
	ETag      string    `json:"etag,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Result is a resolved price table and where it came from.
type Result struct {
	Prices    map[string]config.ModelPricing
	FetchedAt time.Time
	FromCache bool
	// Stale is set when a refresh failed and the cached copy was used.
	Stale bool
}

// Feed combines a Client with an on-disk cache directory.
type Feed struct {
	Client *Client
	Dir    string
	MaxAge time.Duration
	Logger *slog.Logger

	now func() time.Time
}

// New returns a Feed caching into dir.
func New(client *Client, dir string, maxAge time.Duration, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Feed{Client: client, Dir: dir, MaxAge: maxAge, Logger: logger, now: time.Now}
}

// Cached returns the cached table without touching the network.
func (f *Feed) Cached() (Result, error) {
	m, body, err := f.read()
	if err != nil {
		return Result{}, err
	}
	prices, err := Parse(body)
	if err != nil {
		return Result{}, err
	}
	return Result{Prices: prices, FetchedAt: m.FetchedAt, FromCache: true}, nil
}

// Load returns the cached table when it is fresh, otherwise refreshes it.
// With force the cache age is ignored. If the refresh fails and a cached
// copy exists, that copy is returned with Stale set.
func (f *Feed) Load(ctx context.Context, force bool) (Result, error) {
	m, body, cacheErr := f.read()
	haveCache := cacheErr == nil && m.URL == f.Client.URL()

	if haveCache && !force && f.now().Sub(m.FetchedAt) < f.MaxAge {
		prices, err := Parse(body)
		if err == nil {
			return Result{Prices: prices, FetchedAt: m.FetchedAt, FromCache: true}, nil
		}
		f.Logger.Warn("cached price feed unreadable", "err", err)
		haveCache = false
	}

	etag := ""
	if haveCache {
		etag = m.ETag
	}
	fresh, newETag, err := f.Client.Fetch(ctx, etag)
	switch {
	case errors.Is(err, ErrNotModified):
		m.FetchedAt = f.now()
		if werr := f.writeMeta(m); werr != nil {
			f.Logger.Warn("updating price feed metadata", "err", werr)
		}
		prices, perr := Parse(body)
		if perr != nil {
			return Result{}, perr
		}
		return Result{Prices: prices, FetchedAt: m.FetchedAt, FromCache: true}, nil

	case err != nil:
		if !haveCache {
			return Result{}, err
		}
		f.Logger.Warn("price feed refresh failed, using cache", "err", err)
		prices, perr := Parse(body)
		if perr != nil {
			return Result{}, errors.Join(err, perr)
		}
		return Result{Prices: prices, FetchedAt: m.FetchedAt, FromCache: true, Stale: true}, nil
	}

	prices, err := Parse(fresh)
	if err != nil {
		return Result{}, err
	}
	m = meta{URL: f.Client.URL(), ETag: newETag, FetchedAt: f.now()}
	if err := f.write(m, fresh); err != nil {
		f.Logger.Warn("caching price feed", "err", err)
	}
	f.Logger.Info("price feed refreshed", "models", len(prices))
	return Result{Prices: prices, FetchedAt: m.FetchedAt}, nil
}

func (f *Feed) read() (meta, []byte, error) {
	var m meta
	raw, err := os.ReadFile(filepath.Join(f.Dir, metaFile))
	if err != nil {
		return m, nil, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, nil, fmt.Errorf("pricefeed: parsing cache metadata: %w", err)
	}
	body, err := os.ReadFile(filepath.Join(f.Dir, bodyFile))
	if err != nil {
		return m, nil, err
	}
	return m, body, nil
}

func (f *Feed) write(m meta, body []byte) error {
	if err := os.MkdirAll(f.Dir, 0o750); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(f.Dir, bodyFile), body); err != nil {
		return err
	}
	return f.writeMeta(m)
}

func (f *Feed) writeMeta(m meta) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(f.Dir, metaFile), raw)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
