package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/tinyland-inc/formbridge/pkg/auth"
	"github.com/tinyland-inc/formbridge/pkg/config"
	"github.com/tinyland-inc/formbridge/pkg/contentview"
	"github.com/tinyland-inc/formbridge/pkg/lifecycle"
	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/places"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

const Logo = "📨"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// GetConfigPath returns $FORMBRIDGE_CONFIG or ~/.formbridge/config.json.
func GetConfigPath() string {
	if p := os.Getenv("FORMBRIDGE_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".formbridge", "config.json")
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// SetupLogging applies the configured level and format. debug forces
// DEBUG regardless of config. The returned func closes the log file, if
// one was opened.
func SetupLogging(cfg *config.Config, debug bool) (func(), error) {
	level := logger.ParseLevel(cfg.Log.Level)
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
	logger.EnableJSON(cfg.Log.JSON)

	path := cfg.LogFilePath()
	if path == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	logger.SetOutput(f)
	return func() {
		logger.SetOutput(os.Stderr)
		f.Close()
	}, nil
}

// NewProvider builds the direct places client, or nil when no API key is
// configured.
func NewProvider(cfg *config.Config) places.Provider {
	if !cfg.Provider.Enabled() {
		return nil
	}
	return places.NewHTTPProvider(places.ProviderConfig{
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Language:  cfg.Provider.Language,
		Countries: cfg.Provider.Countries,
		Timeout:   cfg.ProviderTimeout(),
	})
}

// OpenTransport connects to the host described by cfg.
func OpenTransport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	return transport.Open(ctx, transport.Options{
		Mode:   cfg.Host.Mode,
		URL:    cfg.Host.URL,
		Header: auth.BearerHeader(cfg.Host.Token),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	}, protocol.InboundNamespace())
}

// NewView builds a content view on t from cfg.
func NewView(cfg *config.Config, t transport.Transport, init lifecycle.Initializer) (*contentview.View, error) {
	return contentview.New(t, contentview.Options{
		RequestTimeout:   cfg.RequestTimeout(),
		InitTimeout:      cfg.InitTimeout(),
		AllowReinit:      cfg.Bridge.AllowReinit,
		Brand:            cfg.Bridge.Brand,
		CacheMode:        cfg.Bridge.CacheMode,
		Provider:         NewProvider(cfg),
		Initializer:      init,
		TelemetryQueue:   cfg.Telemetry.QueueSize,
		AutosaveSchedule: cfg.Telemetry.AutosaveSchedule,
	})
}

// StaticForm is an Initializer for a form of a fixed page count.
func StaticForm(pages int) lifecycle.Initializer {
	if pages < 1 {
		pages = 1
	}
	return lifecycle.InitializerFunc(func(_ context.Context, rc protocol.RuntimeConfig) (lifecycle.InitResult, error) {
		return lifecycle.InitResult{PageCount: pages, CurrentPage: rc.CurrentPage}, nil
	})
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
