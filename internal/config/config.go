// Package config loads kanbridge settings.
//
// Settings are resolved in layers: built-in defaults, then an optional TOML
// file (~/.kanbridge/config.toml or an explicit --config path) read through
// viper, then KANBRIDGE_* environment variables applied with envconfig.
// The merged result is validated before anything else sees it. The
// environment also overrides flags bound into the viper instance, so
// commands that bind flags re-apply the explicit ones after loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment overrides (KANBRIDGE_API_URL, ...).
	EnvPrefix = "KANBRIDGE"

	configName = "config"
	configType = "toml"
	dataDir    = ".kanbridge"
)

// Transport strategies understood by the gateway client.
const (
	TransportHTTP = "http"
	TransportCurl = "curl"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	APIURL       string `mapstructure:"api_url" envconfig:"API_URL"`
	ProjectID    string `mapstructure:"project_id" envconfig:"PROJECT_ID"`
	RepoID       string `mapstructure:"repo_id" envconfig:"REPO_ID"`
	WorkspaceRef string `mapstructure:"workspace_ref" envconfig:"WORKSPACE_REF"`
	DataDir      string `mapstructure:"data_dir" envconfig:"DATA_DIR"`

	Gateway       GatewayConfig      `mapstructure:"gateway" envconfig:"GATEWAY"`
	Subscriptions SubscriptionConfig `mapstructure:"subscriptions" envconfig:"SUBSCRIPTIONS"`
	Tracker       TrackerConfig      `mapstructure:"tracker" envconfig:"TRACKER"`
	History       HistoryConfig      `mapstructure:"history" envconfig:"HISTORY"`
	Log           LogConfig          `mapstructure:"log" envconfig:"LOG"`
	HTTP          HTTPConfig         `mapstructure:"http" envconfig:"HTTP"`
	Metrics       MetricsConfig      `mapstructure:"metrics" envconfig:"METRICS"`
}

// GatewayConfig selects and tunes the transport used to reach the Gateway.
type GatewayConfig struct {
	Transport string        `mapstructure:"transport" envconfig:"TRANSPORT"`
	Timeout   time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT"`
	CurlPath  string        `mapstructure:"curl_path" envconfig:"CURL_PATH"`
}

// SubscriptionConfig tunes the resource poll loop.
type SubscriptionConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" envconfig:"POLL_INTERVAL"`
	Concurrency  int           `mapstructure:"concurrency" envconfig:"CONCURRENCY"`
}

// TrackerConfig tunes execution tracking for task-augmented sends.
type TrackerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" envconfig:"POLL_INTERVAL"`
	MaxDuration  time.Duration `mapstructure:"max_duration" envconfig:"MAX_DURATION"`
}

// HistoryConfig toggles the on-disk tracking history.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled" envconfig:"ENABLED"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" envconfig:"LEVEL"`
	Format string `mapstructure:"format" envconfig:"FORMAT"`
}

// HTTPConfig holds the streamable HTTP listener address. Empty means stdio.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" envconfig:"ADDR"`
}

// MetricsConfig holds a dedicated /metrics listener for stdio mode.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" envconfig:"ADDR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		APIURL:  "http://localhost:3000",
		DataDir: DefaultDataDir(),
		Gateway: GatewayConfig{
			Transport: TransportHTTP,
			Timeout:   30 * time.Second,
			CurlPath:  "curl",
		},
		Subscriptions: SubscriptionConfig{
			PollInterval: 10 * time.Second,
			Concurrency:  4,
		},
		Tracker: TrackerConfig{
			PollInterval: 5 * time.Second,
			MaxDuration:  10 * time.Minute,
		},
		History: HistoryConfig{Enabled: true},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// DefaultDataDir returns ~/.kanbridge, or a relative .kanbridge when the
// home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dataDir
	}
	return filepath.Join(home, dataDir)
}

// Load resolves the configuration. An empty path searches the default data
// directory and tolerates a missing file; an explicit path must exist.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load with a caller-provided viper instance, so flags bound by
// the CLI take part in resolution.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("gateway.transport", d.Gateway.Transport)
	v.SetDefault("gateway.timeout", d.Gateway.Timeout)
	v.SetDefault("gateway.curl_path", d.Gateway.CurlPath)
	v.SetDefault("subscriptions.poll_interval", d.Subscriptions.PollInterval)
	v.SetDefault("subscriptions.concurrency", d.Subscriptions.Concurrency)
	v.SetDefault("tracker.poll_interval", d.Tracker.PollInterval)
	v.SetDefault("tracker.max_duration", d.Tracker.MaxDuration)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_url %q is not an absolute URL", c.APIURL)
	}

	switch c.Gateway.Transport {
	case TransportHTTP, TransportCurl:
	default:
		return fmt.Errorf("gateway.transport must be %q or %q, got %q", TransportHTTP, TransportCurl, c.Gateway.Transport)
	}
	if c.Gateway.Timeout <= 0 {
		return errors.New("gateway.timeout must be positive")
	}

	if c.Subscriptions.PollInterval <= 0 {
		return errors.New("subscriptions.poll_interval must be positive")
	}
	if c.Subscriptions.Concurrency < 1 {
		return errors.New("subscriptions.concurrency must be at least 1")
	}

	if c.Tracker.PollInterval <= 0 {
		return errors.New("tracker.poll_interval must be positive")
	}
	if c.Tracker.MaxDuration < c.Tracker.PollInterval {
		return errors.New("tracker.max_duration must be at least tracker.poll_interval")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// TrackerIterations is the number of polls a tracked message gets before
// it is declared timed out.
func (c *Config) TrackerIterations() int {
	return int(c.Tracker.MaxDuration / c.Tracker.PollInterval)
}

// HistoryPath is the SQLite file backing the tracking history.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

type fileView struct {
	APIURL        string `toml:"api_url"`
	ProjectID     string `toml:"project_id,omitempty"`
	RepoID        string `toml:"repo_id,omitempty"`
	WorkspaceRef  string `toml:"workspace_ref,omitempty"`
	DataDir       string `toml:"data_dir"`
	Gateway       struct {
		Transport string `toml:"transport"`
		Timeout   string `toml:"timeout"`
		CurlPath  string `toml:"curl_path"`
	} `toml:"gateway"`
	Subscriptions struct {
		PollInterval string `toml:"poll_interval"`
		Concurrency  int    `toml:"concurrency"`
	} `toml:"subscriptions"`
	Tracker struct {
		PollInterval string `toml:"poll_interval"`
		MaxDuration  string `toml:"max_duration"`
	} `toml:"tracker"`
	History struct {
		Enabled bool `toml:"enabled"`
	} `toml:"history"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	HTTP struct {
		Addr string `toml:"addr"`
	} `toml:"http"`
	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`
}

// TOML renders the configuration in the same shape the config file uses,
// with durations written as strings ("10s") so the output can be saved back.
func (c *Config) TOML() ([]byte, error) {
	var f fileView
	f.APIURL = c.APIURL
	f.ProjectID = c.ProjectID
	f.RepoID = c.RepoID
	f.WorkspaceRef = c.WorkspaceRef
	f.DataDir = c.DataDir
	f.Gateway.Transport = c.Gateway.Transport
	f.Gateway.Timeout = c.Gateway.Timeout.String()
	f.Gateway.CurlPath = c.Gateway.CurlPath
	f.Subscriptions.PollInterval = c.Subscriptions.PollInterval.String()
	f.Subscriptions.Concurrency = c.Subscriptions.Concurrency
	f.Tracker.PollInterval = c.Tracker.PollInterval.String()
	f.Tracker.MaxDuration = c.Tracker.MaxDuration.String()
	f.History.Enabled = c.History.Enabled
	f.Log.Level = c.Log.Level
	f.Log.Format = c.Log.Format
	f.HTTP.Addr = c.HTTP.Addr
	f.Metrics.Addr = c.Metrics.Addr

	data, err := toml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
