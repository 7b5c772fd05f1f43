package onboard

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/formbridge/pkg/config"
)

func TestNewOnboardCommand(t *testing.T) {
	cmd := NewOnboardCommand()

	require.NotNil(t, cmd)

	assert.Equal(t, "onboard", cmd.Use)
	assert.True(t, cmd.HasExample())
	assert.False(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("force"))
	assert.NotNil(t, cmd.Flags().Lookup("config"))
}

func TestOnboard_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fb", "config.json")

	run := func(args ...string) error {
		cmd := NewOnboardCommand()
		cmd.SetOut(io.Discard)
		cmd.SetArgs(append([]string{"--config", path}, args...))
		return cmd.Execute()
	}

	require.NoError(t, run())
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)

	assert.ErrorContains(t, run(), "already exists")
	assert.NoError(t, run("--force"))
}
