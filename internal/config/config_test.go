package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.Render.Validation)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orrery.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[window]
width = 800
height = 600

[simulation]
bodies = 4096
seed = 7

[render]
fence_timeout = "2s"

[log]
level = "debug"
`), 0o644))

	env := func(k string) string {
		if k == "VK_VALIDATION" {
			return "1"
		}
		return ""
	}
	cfg, err := Load([]string{"--config", path, "-n", "2048", "--metrics-addr", ":9090"}, env)
	require.NoError(t, err)

	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Equal(t, uint32(600), cfg.Window.Height)
	assert.Equal(t, 2048, cfg.Simulation.Bodies, "flag wins over file")
	assert.Equal(t, uint64(7), cfg.Simulation.Seed)
	assert.Equal(t, 2*time.Second, cfg.Render.FenceTimeout.Duration)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.True(t, cfg.Render.Validation)
	assert.Equal(t, "Orrery", cfg.Window.Title, "untouched defaults survive")
}

func TestValidationFlagOverridesEnv(t *testing.T) {
	env := func(string) string { return "1" }
	cfg, err := Load([]string{"--validation=false"}, env)
	require.NoError(t, err)
	assert.False(t, cfg.Render.Validation)
}

func TestDecodeErrors(t *testing.T) {
	cfg := Default()
	err := cfg.Decode([]byte("[window]\nwidht = 3\n"))
	assert.Error(t, err)

	err = cfg.Decode([]byte("[render]\nfence_timeout = \"soon\"\n"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load([]string{"--bodies", "0", "--width", "0"}, noEnv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bodies 0")
	assert.Contains(t, err.Error(), "window size 0x720")

	_, err = Load([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}, noEnv)
	assert.Error(t, err)

	_, err = Load([]string{"--no-such-flag"}, noEnv)
	assert.Error(t, err)
}

func TestLoadRejectsCentralMass(t *testing.T) {
	for _, mass := range []string{"0.0", "-5.0"} {
		path := filepath.Join(t.TempDir(), "orrery.toml")
		require.NoError(t, os.WriteFile(path, []byte("[simulation]\ncentral_mass = "+mass+"\n"), 0o644))

		_, err := Load([]string{"--config", path}, noEnv)
		require.Error(t, err, mass)
		assert.Contains(t, err.Error(), "central mass", mass)
	}
}
