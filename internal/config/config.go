// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CogBot Contributors

// Package config loads bot settings.
//
// Sources are layered, later ones winning: built-in defaults, the YAML config
// file, the .env file, the process environment, then command-line flags.
package config

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/cogbot/cogbot/internal/ratelimit"
)

// Transports.
const (
	TransportConsole   = "console"
	TransportWebsocket = "websocket"
	TransportTelnet    = "telnet"
)

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// CogsConfig configures cog loading.
type CogsConfig struct {
	Dir             string        `koanf:"dir"`
	Autoload        []string      `koanf:"autoload"`
	HotReload       bool          `koanf:"hot_reload"`
	Debounce        time.Duration `koanf:"debounce"`
	LoadTimeout     time.Duration `koanf:"load_timeout"`
	TeardownTimeout time.Duration `koanf:"teardown_timeout"`
}

// Config is the bot configuration.
type Config struct {
	Transport      string           `koanf:"transport"`
	Host           string           `koanf:"host"`
	Port           int              `koanf:"port"`
	Token          string           `koanf:"token"`
	Debug          bool             `koanf:"debug"`
	Admins         []string         `koanf:"admins"`
	MetricsAddr    string           `koanf:"metrics_addr"`
	Workers        int              `koanf:"workers"`
	MaxInputLength int              `koanf:"max_input_length"`
	Log            LogConfig        `koanf:"log"`
	Cogs           CogsConfig       `koanf:"cogs"`
	RateLimit      ratelimit.Config `koanf:"ratelimit"`

	provider *Provider
}

// Defaults returns the built-in defaults keyed by koanf path.
func Defaults() map[string]any {
	return map[string]any{
		"transport":                  TransportConsole,
		"host":                       "localhost",
		"port":                       3000,
		"token":                      "",
		"debug":                      false,
		"admins":                     []string{},
		"metrics_addr":               "",
		"workers":                    16,
		"max_input_length":           1000,
		"log.level":                  "info",
		"log.format":                 "text",
		"log.file":                   "",
		"cogs.dir":                   "cogs",
		"cogs.autoload":              []string{"admin", "general", "example"},
		"cogs.hot_reload":            false,
		"cogs.debounce":              "250ms",
		"cogs.load_timeout":          "30s",
		"cogs.teardown_timeout":      "5s",
		"ratelimit.burst":            5,
		"ratelimit.rate":             ratelimit.DefaultSustainedRate,
		"ratelimit.max_idle":         "1h",
		"ratelimit.cleanup_interval": "5m",
	}
}

// envKeys maps the environment variables the bot honours to config keys.
var envKeys = map[string]string{
	"BOT_TOKEN":         "token",
	"BOT_TRANSPORT":     "transport",
	"BOT_ADMINS":        "admins",
	"ENABLE_HOT_RELOAD": "cogs.hot_reload",
	"DEBUG_MODE":        "debug",
	"LOG_LEVEL":         "log.level",
	"LOG_FORMAT":        "log.format",
	"LOG_FILE":          "log.file",
	"HOST":              "host",
	"PORT":              "port",
	"COGS_DIR":          "cogs.dir",
	"METRICS_ADDR":      "metrics_addr",
}

// flagKeys maps command-line flag names to config keys. Flags not listed
// here are not configuration (e.g., --config itself).
var flagKeys = map[string]string{
	"transport":    "transport",
	"host":         "host",
	"port":         "port",
	"debug":        "debug",
	"admins":       "admins",
	"metrics-addr": "metrics_addr",
	"workers":      "workers",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
	"cogs-dir":     "cogs.dir",
	"autoload":     "cogs.autoload",
	"hot-reload":   "cogs.hot_reload",
	"load-timeout": "cogs.load_timeout",
}

// Options selects the sources Load reads.
type Options struct {
	File     string         // YAML config file; a missing file is not an error unless Required
	Required bool           // fail when File does not exist
	EnvFile  string         // .env file; missing is fine
	Flags    *pflag.FlagSet // parsed flags, may be nil
	// LookupEnv reads the process environment. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from opts and validates it.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, v := range Defaults() {
		if err := k.Set(key, v); err != nil {
			return nil, oops.In("config").With("key", key).Wrapf(err, "set default")
		}
	}

	if opts.File != "" {
		if err := loadFile(k, opts.File, opts.Required); err != nil {
			return nil, err
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		m, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			dotenv = m
		case !errors.Is(err, fs.ErrNotExist):
			return nil, oops.Code("CONFIG_INVALID").
				In("config").
				With("file", opts.EnvFile).
				Wrapf(err, "read env file")
		}
	}
	for env, key := range envKeys {
		v, ok := lookup(env)
		if !ok {
			v, ok = dotenv[env]
		}
		if !ok {
			continue
		}
		if err := k.Set(key, envValue(key, v)); err != nil {
			return nil, oops.In("config").With("env", env).Wrapf(err, "apply environment")
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").In("config").Wrapf(err, "decode config")
	}
	if cfg.Debug {
		cfg.Log.Level = "debug"
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.provider = &Provider{k: k}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return oops.Code("CONFIG_INVALID").In("config").With("file", path).Wrapf(err, "stat config file")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_INVALID").In("config").With("file", path).Wrapf(err, "load config file")
	}
	return nil
}

// envValue converts list-valued environment variables; everything else is
// left for the decoder's weak typing.
func envValue(key, v string) any {
	if key != "admins" {
		return v
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations the bot cannot run with.
func (c *Config) Validate() error {
	invalid := func(key string, value any, msg string) error {
		return oops.Code("CONFIG_INVALID").
			In("config").
			With("key", key).
			With("value", value).
			Errorf("%s: %s", key, msg)
	}

	switch c.Transport {
	case TransportConsole, TransportWebsocket, TransportTelnet:
	default:
		return invalid("transport", c.Transport, "must be console, websocket or telnet")
	}
	if c.Port < 1 || c.Port > 65535 {
		return invalid("port", c.Port, "must be between 1 and 65535")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return invalid("log.format", c.Log.Format, "must be json or text")
	}
	if c.Workers < 1 {
		return invalid("workers", c.Workers, "must be at least 1")
	}
	if c.MaxInputLength < 1 {
		return invalid("max_input_length", c.MaxInputLength, "must be at least 1")
	}
	if c.Cogs.LoadTimeout <= 0 {
		return invalid("cogs.load_timeout", c.Cogs.LoadTimeout, "must be positive")
	}
	if c.Cogs.TeardownTimeout <= 0 {
		return invalid("cogs.teardown_timeout", c.Cogs.TeardownTimeout, "must be positive")
	}
	if c.Cogs.HotReload && c.Cogs.Dir == "" {
		return invalid("cogs.dir", c.Cogs.Dir, "hot reload needs a cogs directory")
	}
	return nil
}

// Addr returns the listen address of the websocket transport.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Provider returns typed access to the raw settings, including keys the
// Config struct does not declare (e.g., per-cog settings).
func (c *Config) Provider() *Provider {
	if c.provider == nil {
		return &Provider{k: koanf.New(".")}
	}
	return c.provider
}

// Provider reads settings by key with defaults.
type Provider struct {
	k *koanf.Koanf
}

// String returns the setting at key, or def when unset.
func (p *Provider) String(key, def string) string {
	if !p.k.Exists(key) {
		return def
	}
	return p.k.String(key)
}

// Bool returns the setting at key, or def when unset.
func (p *Provider) Bool(key string, def bool) bool {
	if !p.k.Exists(key) {
		return def
	}
	return p.k.Bool(key)
}

// Int returns the setting at key, or def when unset.
func (p *Provider) Int(key string, def int) int {
	if !p.k.Exists(key) {
		return def
	}
	return p.k.Int(key)
}

// Duration returns the setting at key, or def when unset.
func (p *Provider) Duration(key string, def time.Duration) time.Duration {
	if !p.k.Exists(key) {
		return def
	}
	return p.k.Duration(key)
}

// Strings returns the list at key, or def when unset.
func (p *Provider) Strings(key string, def []string) []string {
	if !p.k.Exists(key) {
		return def
	}
	return p.k.Strings(key)
}
