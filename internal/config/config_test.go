package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := initConfig(nil)
	require.NoError(t, err)

	require.Equal(t, "devnet", cfg.Registry.Backend)
	require.Equal(t, 10*time.Second, cfg.Registry.Timeout)
	require.Equal(t, 120*time.Second, cfg.Release.Delay)
	require.Equal(t, 5*time.Second, cfg.Release.Margin)
	require.Equal(t, time.Second, cfg.Release.Tick)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "logfmt", cfg.Log.Format)
	require.Equal(t, "127.0.0.1:8547", cfg.Devnet.Listen)
	require.Empty(t, cfg.Metrics.PullEndpoint)
}

func TestYAMLOverridesDefaults(t *testing.T) {
	yaml := `
registry:
  backend: http
  url: http://localhost:8547
  timeout: 3s
release:
  delay: 30s
  margin: 2s
log:
  level: debug
  format: json
devnet:
  secret: "0x4242424242424242424242424242424242424242424242424242424242424242"
metrics:
  pull_endpoint: localhost:9090
storage:
  dir: /tmp/timelock
`
	cfg, err := initConfig(rawbytes.Provider([]byte(yaml)))
	require.NoError(t, err)

	require.Equal(t, "http", cfg.Registry.Backend)
	require.Equal(t, "http://localhost:8547", cfg.Registry.URL)
	require.Equal(t, 3*time.Second, cfg.Registry.Timeout)
	require.Equal(t, 30*time.Second, cfg.Release.Delay)
	require.Equal(t, 2*time.Second, cfg.Release.Margin)
	require.Equal(t, time.Second, cfg.Release.Tick, "unset keys keep their default")
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "localhost:9090", cfg.Metrics.PullEndpoint)
	require.Equal(t, "/tmp/timelock", cfg.Storage.Dir)

	secret, err := cfg.Devnet.SecretBytes()
	require.NoError(t, err)
	require.Len(t, secret, 32)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("TIMELOCK_RELEASE__MARGIN", "9s")
	t.Setenv("TIMELOCK_LOG__LEVEL", "warn")

	cfg, err := initConfig(rawbytes.Provider([]byte("release:\n  margin: 2s\n")))
	require.NoError(t, err)
	require.Equal(t, 9*time.Second, cfg.Release.Margin)
	require.Equal(t, "warn", cfg.Log.Level)
}

func TestInitConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timelock.yml")
	require.NoError(t, os.WriteFile(path, []byte("release:\n  delay: 45s\n"), 0o600))

	cfg, err := InitConfig(path)
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.Release.Delay)

	_, err = InitConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)

	cfg, err = InitConfig("")
	require.NoError(t, err)
	require.Equal(t, 120*time.Second, cfg.Release.Delay)
}

func TestValidate(t *testing.T) {
	testCases := map[string]string{
		"unknown backend":  "registry:\n  backend: pigeon\n",
		"http without url": "registry:\n  backend: http\n",
		"zero timeout":     "registry:\n  timeout: 0s\n",
		"zero delay":       "release:\n  delay: 0s\n",
		"negative margin":  "release:\n  margin: -1s\n",
		"zero tick":        "release:\n  tick: 0s\n",
		"bad log level":    "log:\n  level: loud\n",
		"bad log format":   "log:\n  format: xml\n",
		"short secret":     "devnet:\n  secret: \"0x42\"\n",
		"non-hex secret":   "devnet:\n  secret: zz\n",
		"empty listen":     "devnet:\n  listen: \"\"\n",
		"bad metrics":      "metrics:\n  pull_endpoint: nowhere\n",
	}

	for name, yaml := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := initConfig(rawbytes.Provider([]byte(yaml)))
			require.Error(t, err)
		})
	}
}
