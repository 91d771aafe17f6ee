package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CCMETER_UPSTREAM", "")
	t.Setenv("CCMETER_DATA_DIR", "")
	t.Setenv("CCMETER_LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.Upstream != "https://api.anthropic.com" || cfg.Proxy.Path != "/v1/messages" {
		t.Errorf("proxy defaults = %+v", cfg.Proxy)
	}
	if !cfg.Storage.Journal || cfg.Logging.Level != "info" {
		t.Errorf("storage/logging defaults = %+v %+v", cfg.Storage, cfg.Logging)
	}
	if Exists() {
		t.Error("Exists() = true with no file")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("CCMETER_UPSTREAM", "")
	t.Setenv("CCMETER_DATA_DIR", "")
	t.Setenv("CCMETER_LOG_LEVEL", "")

	cfg := DefaultConfig()
	cfg.Status.Listen = "127.0.0.1:9999"
	cfg.Pricing.Overrides = map[string]ModelPricingOverride{
		"claude-opus-4-6": {OutputPerMTok: ptr(30)},
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists() {
		t.Fatal("Exists() = false after Save")
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status.Listen != "127.0.0.1:9999" {
		t.Errorf("status listen = %q", got.Status.Listen)
	}
	o := got.Pricing.Overrides["claude-opus-4-6"]
	if o.OutputPerMTok == nil || *o.OutputPerMTok != 30 || o.InputPerMTok != nil {
		t.Errorf("override = %+v", o)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("CCMETER_UPSTREAM", "")
	t.Setenv("CCMETER_DATA_DIR", "")
	t.Setenv("CCMETER_LOG_LEVEL", "")

	path := filepath.Join(dir, "ccmeter", "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Status.EventsBuffer != 200 {
		t.Errorf("events buffer = %d, want default 200", cfg.Status.EventsBuffer)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "ccmeter", "config.toml")
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_ = os.WriteFile(path, []byte("[proxy\n"), 0o600)

	if _, err := Load(); err == nil {
		t.Error("Load succeeded on malformed TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	data := t.TempDir()
	t.Setenv("CCMETER_UPSTREAM", "http://127.0.0.1:1234")
	t.Setenv("CCMETER_DATA_DIR", data)
	t.Setenv("CCMETER_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.Upstream != "http://127.0.0.1:1234" || cfg.Logging.Level != "warn" {
		t.Errorf("env not applied: %+v %+v", cfg.Proxy, cfg.Logging)
	}
	if DataDir(cfg) != data {
		t.Errorf("DataDir = %q, want %q", DataDir(cfg), data)
	}
	if DBPath(cfg) != filepath.Join(data, "ccmeter.db") {
		t.Errorf("DBPath = %q", DBPath(cfg))
	}
	if LogPath(cfg) != filepath.Join(data, "ccmeter.log") {
		t.Errorf("LogPath = %q", LogPath(cfg))
	}
}

func TestDataDir_XDGFallback(t *testing.T) {
	t.Setenv("CCMETER_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/xdg/data")
	if got := DataDir(Config{}); got != filepath.Join("/xdg/data", "ccmeter") {
		t.Errorf("DataDir = %q", got)
	}
}

func TestRefreshInterval(t *testing.T) {
	if got := (PricingConfig{}).RefreshInterval(); got != 24*time.Hour {
		t.Errorf("zero refresh = %v", got)
	}
	if got := (PricingConfig{RefreshHours: 6}).RefreshInterval(); got != 6*time.Hour {
		t.Errorf("refresh = %v", got)
	}
}
