package internal

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/formbridge/pkg/config"
	"github.com/tinyland-inc/formbridge/pkg/logger"
	"github.com/tinyland-inc/formbridge/pkg/places"
	"github.com/tinyland-inc/formbridge/pkg/protocol"
	"github.com/tinyland-inc/formbridge/pkg/transport"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("FORMBRIDGE_CONFIG", "")
	assert.Equal(t, filepath.Join(".formbridge", "config.json"), lastTwo(GetConfigPath()))

	t.Setenv("FORMBRIDGE_CONFIG", "/etc/formbridge.json")
	assert.Equal(t, "/etc/formbridge.json", GetConfigPath())
}

func lastTwo(p string) string {
	return filepath.Join(filepath.Base(filepath.Dir(p)), filepath.Base(p))
}

func TestFormatBuildInfo(t *testing.T) {
	_, goVer := FormatBuildInfo()
	assert.Equal(t, runtime.Version(), goVer)
	assert.Equal(t, "dev", GetVersion())
	assert.Equal(t, "dev", FormatVersion())
}

func TestSetupLogging(t *testing.T) {
	prev := logger.GetLevel()
	t.Cleanup(func() { logger.SetLevel(prev) })

	cfg := config.DefaultConfig()
	cfg.Log.Level = "warn"
	closeLog, err := SetupLogging(cfg, false)
	require.NoError(t, err)
	closeLog()
	assert.Equal(t, logger.WARN, logger.GetLevel())

	cfg.Log.File = filepath.Join(t.TempDir(), "logs", "fb.log")
	closeLog, err = SetupLogging(cfg, true)
	require.NoError(t, err)
	assert.FileExists(t, cfg.Log.File)
	assert.Equal(t, logger.DEBUG, logger.GetLevel())
	closeLog()
}

func TestNewProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Nil(t, NewProvider(cfg))

	cfg.Provider.APIKey = "k"
	assert.IsType(t, &places.HTTPProvider{}, NewProvider(cfg))
}

func TestStaticForm(t *testing.T) {
	res, err := StaticForm(0).Initialize(context.Background(), protocol.RuntimeConfig{CurrentPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, 2, res.CurrentPage)
}

func TestNewView_Detached(t *testing.T) {
	v, err := NewView(config.DefaultConfig(), transport.NewDetached(), StaticForm(3))
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, places.ModeFallback, v.Resolver().Mode())
}
