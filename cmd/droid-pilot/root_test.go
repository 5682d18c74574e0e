package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"droid-pilot/internal/config"
	"droid-pilot/internal/observability"
)

func TestInitialize_ConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
agent:
  max_steps: 12
device:
  backend: desktop
llm:
  models: [gpt-4o, gpt-4o-mini]
`), 0o644))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("DROID_PILOT_LLM_API_KEY=sk-from-dotenv\n"), 0o644))
	t.Setenv("DROID_PILOT_SERVER_PORT", "9999")
	t.Cleanup(func() { os.Unsetenv("DROID_PILOT_LLM_API_KEY") })

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	_, a := newRoot()
	a.cfgFile = cfgPath
	a.envFile = envPath
	require.NoError(t, a.initialize())

	assert.Equal(t, 12, a.cfg.Agent.MaxSteps)
	assert.Equal(t, "desktop", a.cfg.Device.Backend)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, a.cfg.LLM.Models)
	assert.Equal(t, "sk-from-dotenv", a.cfg.LLM.APIKey)
	assert.Equal(t, 9999, a.cfg.Server.Port)
	assert.NotNil(t, a.logger)
}

func TestInitialize_MissingEnvFileIsFine(t *testing.T) {
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, a := newRoot()
	a.envFile = "does-not-exist.env"
	require.NoError(t, a.initialize())
	assert.Equal(t, config.NewDefaultConfig().Agent, a.cfg.Agent)
}

func TestInitialize_InvalidConfig(t *testing.T) {
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("device:\n  backend: ios\n"), 0o644))

	_, a := newRoot()
	a.cfgFile = cfgPath
	a.envFile = "does-not-exist.env"
	assert.ErrorContains(t, a.initialize(), "device.backend")
}

func TestOpenDevice_UnknownBackend(t *testing.T) {
	_, err := openDevice(config.DeviceConfig{Backend: "ios"}, zap.NewNop())
	assert.ErrorContains(t, err, `unknown device backend "ios"`)

	dev, err := openDevice(config.DeviceConfig{Backend: "adb"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, dev.Close())
}
