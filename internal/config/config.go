package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all ccmeter configuration.
type Config struct {
	Proxy      ProxyConfig      `toml:"proxy"`
	Status     StatusConfig     `toml:"status"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
	Pricing    PricingConfig    `toml:"pricing"`
	Appearance AppearanceConfig `toml:"appearance"`
}

// ProxyConfig controls the local interception proxy.
type ProxyConfig struct {
	Listen      string `toml:"listen"`
	Upstream    string `toml:"upstream"`
	Path        string `toml:"path"`
	ExcludePath string `toml:"exclude_path"`
}

// StatusConfig controls the live status endpoint.
type StatusConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	EventsBuffer int    `toml:"events_buffer"`
}

// StorageConfig controls where records are kept.
type StorageConfig struct {
	DataDir string `toml:"data_dir,omitempty"`
	Journal bool   `toml:"journal"`
}

// LoggingConfig controls the diagnostic log.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file,omitempty"`
}

// PricingConfig controls price resolution.
type PricingConfig struct {
	FeedURL      string                          `toml:"feed_url,omitempty"`
	RefreshHours int                             `toml:"refresh_hours"`
	Overrides    map[string]ModelPricingOverride `toml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides.
type ModelPricingOverride struct {
	InputPerMTok      *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok     *float64 `toml:"output_per_mtok,omitempty"`
	CacheWritePerMTok *float64 `toml:"cache_write_per_mtok,omitempty"`
	CacheReadPerMTok  *float64 `toml:"cache_read_per_mtok,omitempty"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// DefaultFeedURL is the LiteLLM community price list.
const DefaultFeedURL = "https://raw.githubusercontent.com/BerriAI/litellm/main/model_prices_and_context_window.json"

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Proxy: ProxyConfig{
			Listen:      "127.0.0.1:0",
			Upstream:    "https://api.anthropic.com",
			Path:        "/v1/messages",
			ExcludePath: "/v1/messages/batches",
		},
		Status: StatusConfig{
			Enabled:      true,
			Listen:       "127.0.0.1:7878",
			EventsBuffer: 200,
		},
		Storage: StorageConfig{
			Journal: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Pricing: PricingConfig{
			FeedURL:      DefaultFeedURL,
			RefreshHours: 24,
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ccmeter")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ccmeter")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DataDir returns the directory for the database, journals and logs.
// CCMETER_DATA_DIR wins over the config file, which wins over XDG_DATA_HOME.
func DataDir(cfg Config) string {
	if dir := os.Getenv("CCMETER_DATA_DIR"); dir != "" {
		return dir
	}
	if cfg.Storage.DataDir != "" {
		return cfg.Storage.DataDir
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "ccmeter")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "ccmeter")
}

// DBPath returns the SQLite database location.
func DBPath(cfg Config) string {
	return filepath.Join(DataDir(cfg), "ccmeter.db")
}

// JournalDir returns the directory holding per-session JSONL journals.
func JournalDir(cfg Config) string {
	return filepath.Join(DataDir(cfg), "journal")
}

// LogPath returns the diagnostic log file location.
func LogPath(cfg Config) string {
	if cfg.Logging.File != "" {
		return cfg.Logging.File
	}
	return filepath.Join(DataDir(cfg), "ccmeter.log")
}

// RefreshInterval returns how old a cached price feed may get.
func (p PricingConfig) RefreshInterval() time.Duration {
	if p.RefreshHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(p.RefreshHours) * time.Hour
}

// Load reads the config file, returning defaults if it doesn't exist.
// Environment overrides are applied last.
func Load() (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CCMETER_UPSTREAM"); v != "" {
		cfg.Proxy.Upstream = v
	}
	if v := os.Getenv("CCMETER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CCMETER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Save writes the config to disk.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
