package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true if the response toggle, the voice profile or
	// the fallback names changed.
	VoiceChanged bool

	// TranscriptChanged is true if any correction threshold changed.
	TranscriptChanged bool

	// RestartRequired lists sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.TranscriptChanged
}

// Empty reports whether the two configs were equivalent.
func (d ConfigDiff) Empty() bool {
	return !d.Changed() && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ov, nv := old.Voice, new.Voice
	if ov.SpeaksResponses() != nv.SpeaksResponses() ||
		ov.Voice != nv.Voice ||
		!slices.Equal(ov.FallbackUnrecognized, nv.FallbackUnrecognized) ||
		!slices.Equal(ov.FallbackDeviceNotFound, nv.FallbackDeviceNotFound) {
		d.VoiceChanged = true
	}

	if old.Transcript != new.Transcript {
		d.TranscriptChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Database != new.Database {
		d.RestartRequired = append(d.RestartRequired, "database")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if ov.CaptureTimeout != nv.CaptureTimeout || ov.MatchThreshold != nv.MatchThreshold || ov.Language != nv.Language {
		d.RestartRequired = append(d.RestartRequired, "voice.capture")
	}
	if old.Home.DefaultOwner != new.Home.DefaultOwner || !slices.Equal(old.Home.LayoutFiles, new.Home.LayoutFiles) {
		d.RestartRequired = append(d.RestartRequired, "home")
	}
	if !reflect.DeepEqual(old.Events, new.Events) {
		d.RestartRequired = append(d.RestartRequired, "events")
	}
	if old.MCP != new.MCP {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) && entryEqual(a.LLM, b.LLM)
}

// entryEqual compares the scalar fields of two entries. Option maps are
// compared by length only.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && len(a.Options) == len(b.Options)
}
