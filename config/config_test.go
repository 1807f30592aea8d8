package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func valid() *Config {
	cfg := Default()
	cfg.Database.URL = "postgres://localhost/coinflip"
	cfg.HTTP.ServiceToken = "secret"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := valid()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Minute, cfg.Game.RevealTimeout.Duration)
	lo, err := cfg.Game.MinStakeUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000000), lo)
	hi, err := cfg.Game.MaxStakeUnits()
	require.NoError(t, err)
	assert.Zero(t, hi)
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coinflip.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[http]
addr = ":8080"
service_token = "from-file"

[database]
url = "postgres://db/coinflip"

[game]
min_stake = "1"
max_stake = "100"
reveal_timeout = "90s"
admins = ["ops"]
initialized_forfeit = true

[cleaner]
interval = "0s"
`), 0o600))

	t.Setenv(EnvConfigPath, "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GAME_SERVICE_TOKEN", "")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Second, cfg.Game.RevealTimeout.Duration)
	assert.Equal(t, []string{"ops"}, cfg.Game.Admins)
	assert.True(t, cfg.Game.InitializedForfeit)
	assert.Zero(t, cfg.Cleaner.Interval.Duration)
	hi, err := cfg.Game.MaxStakeUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(100_00000000), hi)
}

func TestEnvOverrides(t *testing.T) {
	cfg := valid()
	err := cfg.applyEnv(envMap(map[string]string{
		"HTTP_ADDR":        ":9000",
		"ALLOWED_ORIGINS":  "https://a.example, https://b.example",
		"ADMIN_USER_IDS":   "u1,,u2 ",
		"REVEAL_TIMEOUT":   "2m",
		"MIN_STAKE":        "0.5",
		"CLEANER_INTERVAL": "15m",
		"R2_BUCKET_NAME":   "archive",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, []string{"u1", "u2"}, cfg.Game.Admins)
	assert.Equal(t, 2*time.Minute, cfg.Game.RevealTimeout.Duration)
	assert.Equal(t, 15*time.Minute, cfg.Cleaner.Interval.Duration)
	assert.Equal(t, "archive", cfg.Archive.Bucket)
	lo, err := cfg.Game.MinStakeUnits()
	require.NoError(t, err)
	assert.Equal(t, uint64(50000000), lo)
}

func TestEnvOverridesRejectGarbage(t *testing.T) {
	cfg := valid()
	assert.Error(t, cfg.applyEnv(envMap(map[string]string{"REVEAL_TIMEOUT": "soon"})))
	assert.Error(t, cfg.applyEnv(envMap(map[string]string{"INITIALIZED_FORFEIT": "maybe"})))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"no database":      func(c *Config) { c.Database.URL = "" },
		"no token":         func(c *Config) { c.HTTP.ServiceToken = "" },
		"zero timeout":     func(c *Config) { c.Game.RevealTimeout.Duration = 0 },
		"min above max":    func(c *Config) { c.Game.MinStake, c.Game.MaxStake = "5", "1" },
		"bad min":          func(c *Config) { c.Game.MinStake = "-1" },
		"too many decimal": func(c *Config) { c.Game.MinStake = "0.000000001" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
