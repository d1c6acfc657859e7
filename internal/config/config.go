// Package config provides the configuration schema and loader for the
// WeCantTalk bot.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to a [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Backend selects the speech service implementation.
type Backend string

const (
	// BackendKokoro targets a Kokoro-compatible /v1/audio/speech endpoint.
	BackendKokoro Backend = "kokoro"

	// BackendCoqui targets a Coqui TTS server.
	BackendCoqui Backend = "coqui"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	return b == BackendKokoro || b == BackendCoqui
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultCommandPrefix = "!"
	DefaultModel         = "kokoro"
	DefaultTimeout       = 10 * time.Second
	DefaultEventsSubject = "wecanttalk.speech"
)

// Config is the root configuration structure for WeCantTalk.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discord   DiscordConfig   `yaml:"discord"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Console   ConsoleConfig   `yaml:"console"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the observability HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds the bot credentials and chat command settings.
type DiscordConfig struct {
	// Token is the bot token. Overridden by DISCORD_TOKEN.
	Token string `yaml:"token"`

	// CommandPrefix precedes every chat command. Defaults to "!".
	CommandPrefix string `yaml:"command_prefix"`
}

// SynthesisConfig points at the speech service.
type SynthesisConfig struct {
	// Provider selects the backend. Defaults to "kokoro".
	Provider Backend `yaml:"provider"`

	// URL is the full speech endpoint for kokoro, e.g.
	// "http://localhost:8880/v1/audio/speech", or the server root for coqui.
	// Overridden by KOKORO_API_URL.
	URL string `yaml:"url"`

	// CoquiMode is "standard" (default) or "xtts". Ignored by kokoro.
	CoquiMode string `yaml:"coqui_mode"`

	// Language is the language sent when no guild language is set. Only
	// coqui uses it; empty means "en".
	Language string `yaml:"language"`

	// VoicesURL overrides the voice list endpoint. Empty derives it from URL.
	VoicesURL string `yaml:"voices_url"`

	// Model is the synthesis model. Overridden by MODEL_ID.
	Model string `yaml:"model"`

	// Voice is the default voice. Overridden by VOICE_ID.
	Voice string `yaml:"voice"`

	// Timeout bounds every request to the service.
	Timeout time.Duration `yaml:"timeout"`
}

// PlaybackConfig controls how synthesised audio reaches the voice channel.
type PlaybackConfig struct {
	// FFmpegCommand is the decoder command line. It must contain the
	// "{input}" placeholder and write 48 kHz stereo s16le PCM to stdout.
	FFmpegCommand string `yaml:"ffmpeg_command"`

	// SpoolDir holds the transient audio artifacts.
	SpoolDir string `yaml:"spool_dir"`
}

// ConsoleConfig controls the local stdin console.
type ConsoleConfig struct {
	// Enabled starts the console loop. Defaults to true.
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether the console should run.
func (c ConsoleConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EventsConfig configures speech event publication.
type EventsConfig struct {
	// NATSURL enables publication to a NATS server when non-empty.
	NATSURL string `yaml:"nats_url"`

	// Subject is the NATS subject. Defaults to "wecanttalk.speech".
	Subject string `yaml:"subject"`
}

// TelemetryConfig controls tracing output.
type TelemetryConfig struct {
	// TraceStdout pretty-prints finished spans to stdout.
	TraceStdout bool `yaml:"trace_stdout"`
}

// ApplyDefaults fills every unset optional field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Discord.CommandPrefix == "" {
		cfg.Discord.CommandPrefix = DefaultCommandPrefix
	}
	if cfg.Synthesis.Provider == "" {
		cfg.Synthesis.Provider = BackendKokoro
	}
	if cfg.Synthesis.Model == "" {
		cfg.Synthesis.Model = DefaultModel
	}
	if cfg.Synthesis.Timeout == 0 {
		cfg.Synthesis.Timeout = DefaultTimeout
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
	}
}
