// Package config loads the astyled server configuration from TOML.
package config

import (
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/Zereker/astyled"
)

// Formatter backends.
const (
	BackendBuiltin = "builtin"
	BackendCommand = "command"
)

// Config is the complete server configuration.
type Config struct {
	Listen          string
	MetricsListen   string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int
	MaxLineLength   int
	MaxOutputSize   int
	MaxReplySize    int
	MaxConns        int
	Log             LogConfig
	Formatter       FormatterConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// FormatterConfig selects the transform backend.
type FormatterConfig struct {
	Backend string
	Path    string
	Args    []string
	Timeout time.Duration
}

// fileConfig mirrors the TOML document. Durations are strings such as "30s".
type fileConfig struct {
	Listen          string `toml:"listen"`
	MetricsListen   string `toml:"metrics_listen"`
	ReadTimeout     string `toml:"read_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	MaxBodySize     int    `toml:"max_body_size"`
	MaxLineLength   int    `toml:"max_line_length"`
	MaxOutputSize   int    `toml:"max_output_size"`
	MaxReplySize    int    `toml:"max_reply_size"`
	MaxConns        int    `toml:"max_conns"`
	Log             struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Formatter struct {
		Backend string   `toml:"backend"`
		Path    string   `toml:"path"`
		Args    []string `toml:"args"`
		Timeout string   `toml:"timeout"`
	} `toml:"formatter"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:          astyled.DefaultAddr,
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxBodySize:     astyled.DefaultMaxBodySize,
		MaxLineLength:   astyled.DefaultMaxLineLength,
		MaxOutputSize:   astyled.DefaultMaxOutputSize,
		MaxReplySize:    astyled.DefaultMaxReplySize,
		MaxConns:        256,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Formatter: FormatterConfig{
			Backend: BackendBuiltin,
			Path:    "astyle",
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads path and applies every key it defines over Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	return apply(raw, meta)
}

// Decode is Load for an already opened document.
func Decode(r io.Reader) (Config, error) {
	var raw fileConfig
	meta, err := toml.NewDecoder(r).Decode(&raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return apply(raw, meta)
}

func apply(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("unknown config keys: %v", undecoded)
	}

	cfg := Default()

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}
	if meta.IsDefined("read_timeout") {
		d, err := parseDuration("read_timeout", raw.ReadTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.ReadTimeout = d
	}
	if meta.IsDefined("shutdown_timeout") {
		d, err := parseDuration("shutdown_timeout", raw.ShutdownTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.ShutdownTimeout = d
	}
	if meta.IsDefined("max_body_size") {
		cfg.MaxBodySize = raw.MaxBodySize
	}
	if meta.IsDefined("max_line_length") {
		cfg.MaxLineLength = raw.MaxLineLength
	}
	if meta.IsDefined("max_output_size") {
		cfg.MaxOutputSize = raw.MaxOutputSize
	}
	if meta.IsDefined("max_reply_size") {
		cfg.MaxReplySize = raw.MaxReplySize
	}
	if meta.IsDefined("max_conns") {
		cfg.MaxConns = raw.MaxConns
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(raw.Log.Format))
	}
	if meta.IsDefined("formatter", "backend") {
		cfg.Formatter.Backend = strings.ToLower(strings.TrimSpace(raw.Formatter.Backend))
	}
	if meta.IsDefined("formatter", "path") {
		cfg.Formatter.Path = strings.TrimSpace(raw.Formatter.Path)
	}
	if meta.IsDefined("formatter", "args") {
		cfg.Formatter.Args = raw.Formatter.Args
	}
	if meta.IsDefined("formatter", "timeout") {
		d, err := parseDuration("formatter.timeout", raw.Formatter.Timeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Formatter.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen must not be empty")
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read_timeout must be positive")
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown_timeout must not be negative")
	}
	if c.MaxBodySize <= 0 {
		return errors.New("max_body_size must be positive")
	}
	if c.MaxLineLength <= 0 {
		return errors.New("max_line_length must be positive")
	}
	if c.MaxOutputSize <= 0 {
		return errors.New("max_output_size must be positive")
	}
	if c.MaxReplySize <= 0 {
		return errors.New("max_reply_size must be positive")
	}
	if c.MaxConns <= 0 {
		return errors.New("max_conns must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	switch c.Formatter.Backend {
	case BackendBuiltin:
	case BackendCommand:
		if c.Formatter.Path == "" {
			return errors.New("formatter.path is required for the command backend")
		}
	default:
		return errors.Errorf("formatter.backend %q must be builtin or command", c.Formatter.Backend)
	}
	return nil
}

// Codec returns a wire codec carrying the configured limits.
func (c Config) Codec() *astyled.WireCodec {
	return &astyled.WireCodec{
		MaxBodySize:   c.MaxBodySize,
		MaxLineLength: c.MaxLineLength,
		MaxReplySize:  c.MaxReplySize,
	}
}

// Encode writes c as a TOML document that Load accepts.
func (c Config) Encode(w io.Writer) error {
	var raw fileConfig
	raw.Listen = c.Listen
	raw.MetricsListen = c.MetricsListen
	raw.ReadTimeout = c.ReadTimeout.String()
	raw.ShutdownTimeout = c.ShutdownTimeout.String()
	raw.MaxBodySize = c.MaxBodySize
	raw.MaxLineLength = c.MaxLineLength
	raw.MaxOutputSize = c.MaxOutputSize
	raw.MaxReplySize = c.MaxReplySize
	raw.MaxConns = c.MaxConns
	raw.Log.Level = c.Log.Level
	raw.Log.Format = c.Log.Format
	raw.Formatter.Backend = c.Formatter.Backend
	raw.Formatter.Path = c.Formatter.Path
	raw.Formatter.Args = c.Formatter.Args
	raw.Formatter.Timeout = c.Formatter.Timeout.String()

	return errors.Wrap(toml.NewEncoder(w).Encode(raw), "encode config")
}
