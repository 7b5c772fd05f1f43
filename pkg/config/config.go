package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts a single
// comma-separated string, so countries can be "us,ca" or ["us","ca"].
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = splitList(s)
	return nil
}

func splitList(s string) []string {
	result := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

type Config struct {
	Host      HostConfig      `json:"host"`
	Bridge    BridgeConfig    `json:"bridge"`
	Provider  ProviderConfig  `json:"provider,omitzero"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Log       LogConfig       `json:"log"`
}

// HostConfig selects how the content view reaches its host.
type HostConfig struct {
	Mode string `env:"FORMBRIDGE_HOST_MODE" json:"mode"`
	URL  string `env:"FORMBRIDGE_HOST_URL"  json:"url,omitempty"`
	// Token is sent as a bearer token when dialing a WebSocket host.
	Token string `env:"FORMBRIDGE_HOST_TOKEN" json:"token,omitempty"`
}

type BridgeConfig struct {
	RequestTimeoutMS int    `env:"FORMBRIDGE_BRIDGE_REQUEST_TIMEOUT_MS" json:"request_timeout_ms"`
	InitTimeoutMS    int    `env:"FORMBRIDGE_BRIDGE_INIT_TIMEOUT_MS"    json:"init_timeout_ms"`
	AllowReinit      bool   `env:"FORMBRIDGE_BRIDGE_ALLOW_REINIT"       json:"allow_reinit"`
	Brand            string `env:"FORMBRIDGE_BRIDGE_BRAND"              json:"brand,omitempty"`
	// CacheMode evaluates host presence once instead of on every lookup.
	CacheMode bool `env:"FORMBRIDGE_BRIDGE_CACHE_MODE" json:"cache_mode,omitempty"`
}

// ProviderConfig configures the direct places client used when no host
// is attached.
type ProviderConfig struct {
	BaseURL   string              `env:"FORMBRIDGE_PROVIDER_BASE_URL"   json:"base_url,omitempty"`
	APIKey    string              `env:"FORMBRIDGE_PROVIDER_API_KEY"    json:"api_key,omitempty"`
	Language  string              `env:"FORMBRIDGE_PROVIDER_LANGUAGE"   json:"language,omitempty"`
	Countries FlexibleStringSlice `env:"FORMBRIDGE_PROVIDER_COUNTRIES"  json:"countries,omitempty"`
	TimeoutMS int                 `env:"FORMBRIDGE_PROVIDER_TIMEOUT_MS" json:"timeout_ms,omitempty"`
}

// Enabled reports whether a direct provider should be built.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

type TelemetryConfig struct {
	QueueSize        int    `env:"FORMBRIDGE_TELEMETRY_QUEUE_SIZE"        json:"queue_size"`
	AutosaveSchedule string `env:"FORMBRIDGE_TELEMETRY_AUTOSAVE_SCHEDULE" json:"autosave_schedule,omitempty"`
}

type LogConfig struct {
	Level string `env:"FORMBRIDGE_LOG_LEVEL" json:"level"`
	JSON  bool   `env:"FORMBRIDGE_LOG_JSON"  json:"json,omitempty"`
	File  string `env:"FORMBRIDGE_LOG_FILE"  json:"file,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Host: HostConfig{
			Mode: "none",
		},
		Bridge: BridgeConfig{
			RequestTimeoutMS: 10000,
			InitTimeoutMS:    30000,
		},
		Telemetry: TelemetryConfig{
			QueueSize: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks value ranges and the autosave cron expression.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Host.Mode) {
	case "", "none", "stdio":
	case "websocket":
		if c.Host.URL == "" {
			return fmt.Errorf("host.url is required for websocket mode")
		}
	default:
		return fmt.Errorf("host.mode %q is not one of none, stdio, websocket", c.Host.Mode)
	}
	if c.Bridge.RequestTimeoutMS < 0 {
		return fmt.Errorf("bridge.request_timeout_ms must not be negative")
	}
	if c.Bridge.InitTimeoutMS < 0 {
		return fmt.Errorf("bridge.init_timeout_ms must not be negative")
	}
	if c.Provider.TimeoutMS < 0 {
		return fmt.Errorf("provider.timeout_ms must not be negative")
	}
	if c.Telemetry.QueueSize < 0 {
		return fmt.Errorf("telemetry.queue_size must not be negative")
	}
	if s := c.Telemetry.AutosaveSchedule; s != "" && !gronx.New().IsValid(s) {
		return fmt.Errorf("telemetry.autosave_schedule %q is not a valid cron expression", s)
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Bridge.RequestTimeoutMS) * time.Millisecond
}

func (c *Config) InitTimeout() time.Duration {
	return time.Duration(c.Bridge.InitTimeoutMS) * time.Millisecond
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutMS) * time.Millisecond
}

// LogFilePath returns the configured log file with ~ expanded.
func (c *Config) LogFilePath() string {
	return expandHome(c.Log.File)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
