package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file.
const (
	EnvDiscordToken = "DISCORD_TOKEN"
	EnvKokoroURL    = "KOKORO_API_URL"
	EnvVoiceID      = "VOICE_ID"
	EnvModelID      = "MODEL_ID"
)

// LookupFunc retrieves an environment variable, like [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// LoadOption configures [Load] and [LoadFromReader].
type LoadOption func(*loadOptions)

type loadOptions struct {
	lookup LookupFunc
}

// WithLookup replaces the environment lookup. Tests use it to avoid touching
// the process environment.
func WithLookup(fn LookupFunc) LoadOption {
	return func(o *loadOptions) {
		if fn != nil {
			o.lookup = fn
		}
	}
}

// ConfigError describes one invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config]. An empty path
// loads from the environment only.
func Load(path string, opts ...LoadOption) (*Config, error) {
	if path == "" {
		return LoadFromReader(strings.NewReader(""), opts...)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
func LoadFromReader(r io.Reader, opts ...LoadOption) (*Config, error) {
	o := loadOptions{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyEnv(cfg, o.lookup)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides YAML values with non-empty environment variables.
func applyEnv(cfg *Config, lookup LookupFunc) {
	for key, dst := range map[string]*string{
		EnvDiscordToken: &cfg.Discord.Token,
		EnvKokoroURL:    &cfg.Synthesis.URL,
		EnvVoiceID:      &cfg.Synthesis.Voice,
		EnvModelID:      &cfg.Synthesis.Model,
	} {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns the joined [*ConfigError]s of every failure found.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		fail("server.log_level", fmt.Sprintf("%q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		fail("discord.token", "is required (or set "+EnvDiscordToken+")")
	}
	if strings.ContainsAny(cfg.Discord.CommandPrefix, " \t\n") {
		fail("discord.command_prefix", "must not contain whitespace")
	}

	if cfg.Synthesis.Provider != "" && !cfg.Synthesis.Provider.IsValid() {
		fail("synthesis.provider", fmt.Sprintf("%q is invalid; valid values: kokoro, coqui", cfg.Synthesis.Provider))
	}
	switch strings.ToLower(cfg.Synthesis.CoquiMode) {
	case "", "standard", "xtts":
	default:
		fail("synthesis.coqui_mode", fmt.Sprintf("%q is invalid; valid values: standard, xtts", cfg.Synthesis.CoquiMode))
	}
	if cfg.Synthesis.URL == "" {
		fail("synthesis.url", "is required (or set "+EnvKokoroURL+")")
	} else if err := checkHTTPURL(cfg.Synthesis.URL); err != nil {
		fail("synthesis.url", err.Error())
	}
	if cfg.Synthesis.VoicesURL != "" {
		if err := checkHTTPURL(cfg.Synthesis.VoicesURL); err != nil {
			fail("synthesis.voices_url", err.Error())
		}
	}
	if cfg.Synthesis.Voice == "" {
		fail("synthesis.voice", "is required (or set "+EnvVoiceID+")")
	}
	if cfg.Synthesis.Timeout < 0 {
		fail("synthesis.timeout", "must not be negative")
	}

	if cfg.Playback.FFmpegCommand != "" && !strings.Contains(cfg.Playback.FFmpegCommand, "{input}") {
		fail("playback.ffmpeg_command", "must contain the {input} placeholder")
	}

	if cfg.Events.NATSURL != "" {
		if _, err := url.Parse(cfg.Events.NATSURL); err != nil {
			fail("events.nats_url", "is not a valid URL")
		}
	}

	if cfg.Server.ListenAddr == "" {
		slog.Debug("server.listen_addr is empty; health and metrics endpoints are disabled")
	}

	return errors.Join(errs...)
}

// checkHTTPURL reports whether raw is an absolute http(s) URL.
func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
