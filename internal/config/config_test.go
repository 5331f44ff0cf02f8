package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oarkflow/smpp34/pkg/smpp"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cm := NewConfigManager(filepath.Join(t.TempDir(), "missing.json"), writeFile(t, "empty.env", ""))
	cfg, err := cm.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2775, cfg.Server.Port)
	assert.Equal(t, "SMSC", cfg.Server.SystemID)
	assert.Equal(t, 40*time.Second, cfg.Server.ResponseTimeout)
	assert.Equal(t, 50*time.Second, cfg.Server.KeepAliveInterval)
	assert.Equal(t, "transceiver", cfg.Client.BindType)
	assert.True(t, cfg.Client.Messages.EnablePayload)
	assert.Same(t, cfg, cm.GetConfig())
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "smpp.json", `{
		"server": {"port": 2776, "system_id": "GW", "keep_alive_interval": "15s", "submit_rate_limit": 5},
		"client": {"system_id": "esme", "password": "secret", "bind_type": "transmitter",
			"response_timeout": "3s", "messages": {"max_message_length": 160, "enable_payload": false}},
		"logging": {"level": "debug", "format": "console", "output": "stderr"}
	}`)

	cfg, err := NewConfigManager(path, writeFile(t, "empty.env", "")).LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2776, cfg.Server.Port)
	assert.Equal(t, "GW", cfg.Server.SystemID)
	assert.Equal(t, 15*time.Second, cfg.Server.KeepAliveInterval)
	assert.Equal(t, 40*time.Second, cfg.Server.ResponseTimeout, "unset durations keep defaults")
	assert.Equal(t, 5.0, cfg.Server.SubmitRateLimit)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "esme", cfg.Client.SystemID)
	assert.Equal(t, "transmitter", cfg.Client.BindType)
	assert.Equal(t, 3*time.Second, cfg.Client.ResponseTimeout)
	assert.Equal(t, 160, cfg.Client.Messages.MaxMessageLength)
	assert.False(t, cfg.Client.Messages.EnablePayload)
	assert.True(t, cfg.Client.Messages.EnableSubmitMulti)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfigErrors(t *testing.T) {
	noEnv := writeFile(t, "empty.env", "")

	t.Run("bad json", func(t *testing.T) {
		_, err := NewConfigManager(writeFile(t, "bad.json", "{"), noEnv).LoadConfig()
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := NewConfigManager(writeFile(t, "d.json", `{"server": {"response_timeout": "soon"}}`), noEnv).LoadConfig()
		assert.ErrorContains(t, err, "invalid response_timeout")
	})

	t.Run("bad bind type", func(t *testing.T) {
		_, err := NewConfigManager(writeFile(t, "b.json", `{"client": {"bind_type": "both"}}`), noEnv).LoadConfig()
		assert.ErrorContains(t, err, "invalid bind type")
	})

	t.Run("missing env file", func(t *testing.T) {
		_, err := NewConfigManager("", filepath.Join(t.TempDir(), "nope.env")).LoadConfig()
		assert.ErrorContains(t, err, "failed to load env file")
	})
}

func TestEnvOverrides(t *testing.T) {
	envFile := writeFile(t, "test.env", "SMPP_CLIENT_PASSWORD=fromfile\nSMPP_SERVER_SYSTEM_ID=FILE\n")
	t.Cleanup(func() { _ = os.Unsetenv("SMPP_CLIENT_PASSWORD") })
	t.Setenv("SMPP_SERVER_PORT", "3000")
	t.Setenv("SMPP_SERVER_SYSTEM_ID", "ENV")
	t.Setenv("SMPP_METRICS_ENABLED", "true")
	t.Setenv("SMPP_SERVER_KEEP_ALIVE_INTERVAL", "5s")
	t.Setenv("SMPP_LOG_LEVEL", "warn")

	cfg, err := NewConfigManager("", envFile).LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "ENV", cfg.Server.SystemID, "process environment wins over .env")
	assert.Equal(t, "fromfile", cfg.Client.Password)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Server.KeepAliveInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)

	t.Run("bad int", func(t *testing.T) {
		t.Setenv("SMPP_CLIENT_PORT", "many")
		_, err := NewConfigManager("", envFile).LoadConfig()
		assert.ErrorContains(t, err, "SMPP_CLIENT_PORT")
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*smpp.Config){
		"server port":      func(c *smpp.Config) { c.Server.Port = 70000 },
		"server timeout":   func(c *smpp.Config) { c.Server.ResponseTimeout = 0 },
		"keep alive":       func(c *smpp.Config) { c.Server.KeepAliveInterval = -time.Second },
		"system id":        func(c *smpp.Config) { c.Server.SystemID = "ABCDEFGHIJKLMNOP" },
		"client port":      func(c *smpp.Config) { c.Client.Port = 0 },
		"bind type":        func(c *smpp.Config) { c.Client.BindType = "" },
		"log level":        func(c *smpp.Config) { c.Logging.Level = "trace" },
		"log format":       func(c *smpp.Config) { c.Logging.Format = "xml" },
		"metrics port":     func(c *smpp.Config) { c.Metrics.Enabled = true; c.Metrics.Port = 0 },
		"metrics path":     func(c *smpp.Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" },
		"negative rate":    func(c *smpp.Config) { c.Server.SubmitRateLimit = -1 },
		"negative msg len": func(c *smpp.Config) { c.Client.Messages.MaxMessageLength = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	assert.NoError(t, Validate(DefaultConfig()))
	assert.Error(t, NewConfigManager("").Validate(), "nil configuration")
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "smpp.json")
	noEnv := writeFile(t, "empty.env", "")
	require.NoError(t, CreateDefaultConfigFile(path))

	cm := NewConfigManager(path, noEnv)
	cfg, err := cm.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg.Server.Port = 2800
	cfg.Client.ResponseTimeout = 7 * time.Second
	require.NoError(t, cm.SaveConfig())

	require.NoError(t, cm.Reload())
	assert.Equal(t, 2800, cm.GetConfig().Server.Port)
	assert.Equal(t, 7*time.Second, cm.GetConfig().Client.ResponseTimeout)

	assert.Error(t, NewConfigManager("").SaveConfig())
}
