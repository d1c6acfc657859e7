package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     string

	// RestartRequired lists fields that changed but only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Synthesis.Voice != new.Synthesis.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Synthesis.Voice
	}

	for _, f := range []struct {
		name    string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"discord.token", old.Discord.Token != new.Discord.Token},
		{"discord.command_prefix", old.Discord.CommandPrefix != new.Discord.CommandPrefix},
		{"synthesis.provider", old.Synthesis.Provider != new.Synthesis.Provider},
		{"synthesis.url", old.Synthesis.URL != new.Synthesis.URL},
		{"synthesis.voices_url", old.Synthesis.VoicesURL != new.Synthesis.VoicesURL},
		{"synthesis.coqui_mode", old.Synthesis.CoquiMode != new.Synthesis.CoquiMode},
		{"synthesis.language", old.Synthesis.Language != new.Synthesis.Language},
		{"synthesis.model", old.Synthesis.Model != new.Synthesis.Model},
		{"synthesis.timeout", old.Synthesis.Timeout != new.Synthesis.Timeout},
		{"playback", old.Playback != new.Playback},
		{"console.enabled", old.Console.IsEnabled() != new.Console.IsEnabled()},
		{"events", old.Events != new.Events},
		{"telemetry", old.Telemetry != new.Telemetry},
	} {
		if f.changed {
			d.RestartRequired = append(d.RestartRequired, f.name)
		}
	}

	return d
}
