// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogbot/cogbot/internal/ratelimit"
	"github.com/cogbot/cogbot/pkg/errutil"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("transport", TransportConsole, "")
	fs.Int("port", 3000, "")
	fs.Bool("hot-reload", false, "")
	fs.String("log-level", "info", "")
	fs.StringSlice("autoload", nil, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{LookupEnv: env(nil)})
	require.NoError(t, err)

	assert.Equal(t, TransportConsole, cfg.Transport)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1000, cfg.MaxInputLength)
	assert.Equal(t, []string{"admin", "general", "example"}, cfg.Cogs.Autoload)
	assert.Equal(t, 30*time.Second, cfg.Cogs.LoadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Cogs.TeardownTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Cogs.Debounce)
	assert.Equal(t, 5, cfg.RateLimit.BurstCapacity)
	assert.InDelta(t, ratelimit.DefaultSustainedRate, cfg.RateLimit.SustainedRate, 1e-9)
	assert.False(t, cfg.Cogs.HotReload)
	assert.Equal(t, "localhost:3000", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "cogbot.yaml", `
transport: websocket
port: 8080
admins: [alice, bob]
cogs:
  dir: /srv/cogs
  load_timeout: 2s
ratelimit:
  burst: 10
`)
	cfg, err := Load(Options{File: path, LookupEnv: env(nil)})
	require.NoError(t, err)

	assert.Equal(t, TransportWebsocket, cfg.Transport)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Admins)
	assert.Equal(t, "/srv/cogs", cfg.Cogs.Dir)
	assert.Equal(t, 2*time.Second, cfg.Cogs.LoadTimeout)
	assert.Equal(t, 10, cfg.RateLimit.BurstCapacity)
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := Load(Options{File: missing, LookupEnv: env(nil)})
	require.NoError(t, err)

	_, err = Load(Options{File: missing, Required: true, LookupEnv: env(nil)})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeFile(t, "cogbot.yaml", "port: [unterminated\n")
	_, err := Load(Options{File: path, LookupEnv: env(nil)})
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "cogbot.yaml", "port: 8080\nlog:\n  level: warn\n")
	cfg, err := Load(Options{
		File: path,
		LookupEnv: env(map[string]string{
			"PORT":              "9090",
			"BOT_ADMINS":        " alice, bob ,,",
			"ENABLE_HOT_RELOAD": "true",
			"COGS_DIR":          "/tmp/cogs",
			"BOT_TOKEN":         "s3cret",
		}),
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Admins)
	assert.True(t, cfg.Cogs.HotReload)
	assert.Equal(t, "/tmp/cogs", cfg.Cogs.Dir)
	assert.Equal(t, "s3cret", cfg.Token)
}

func TestLoad_DotEnvBelowProcessEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "LOG_LEVEL=error\nPORT=4000\n")
	cfg, err := Load(Options{
		EnvFile:   envFile,
		LookupEnv: env(map[string]string{"PORT": "5000"}),
	})
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 5000, cfg.Port)
}

func TestLoad_DebugForcesDebugLevel(t *testing.T) {
	cfg, err := Load(Options{LookupEnv: env(map[string]string{"DEBUG_MODE": "1", "LOG_LEVEL": "ERROR"})})
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FlagsWinOnlyWhenSet(t *testing.T) {
	fs := testFlags(t, "--port", "7000", "--autoload", "general,example")
	cfg, err := Load(Options{
		Flags:     fs,
		LookupEnv: env(map[string]string{"PORT": "9090", "LOG_LEVEL": "warn"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "warn", cfg.Log.Level, "unset flag keeps the environment value")
	assert.Equal(t, []string{"general", "example"}, cfg.Cogs.Autoload)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"unknown transport", map[string]string{"BOT_TRANSPORT": "carrier-pigeon"}, "transport"},
		{"port out of range", map[string]string{"PORT": "70000"}, "port"},
		{"bad log level", map[string]string{"LOG_LEVEL": "chatty"}, "log.level"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "log.format"},
		{"hot reload without dir", map[string]string{"ENABLE_HOT_RELOAD": "true", "COGS_DIR": ""}, "cogs.dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(Options{LookupEnv: env(tt.env)})
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			errutil.AssertErrorContext(t, err, "key", tt.key)
		})
	}
}

func TestProvider(t *testing.T) {
	path := writeFile(t, "cogbot.yaml", `
example:
  greeting: howdy
  sides: 20
  loud: true
  cooldown: 3s
`)
	cfg, err := Load(Options{File: path, LookupEnv: env(nil)})
	require.NoError(t, err)
	p := cfg.Provider()

	assert.Equal(t, "howdy", p.String("example.greeting", "hello"))
	assert.Equal(t, "hello", p.String("example.missing", "hello"))
	assert.Equal(t, 20, p.Int("example.sides", 6))
	assert.True(t, p.Bool("example.loud", false))
	assert.Equal(t, 3*time.Second, p.Duration("example.cooldown", time.Second))
	assert.Equal(t, []string{"x"}, p.Strings("example.none", []string{"x"}))
}

func TestProvider_ZeroConfig(t *testing.T) {
	var cfg Config
	assert.Equal(t, 6, cfg.Provider().Int("sides", 6))
}
