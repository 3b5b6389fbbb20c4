package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper", "whisper-native", "openai"},
	"tts": {"elevenlabs", "openai"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process
// environment without overriding variables that are already set. A
// missing file is not an error when optional is true.
func LoadEnvFile(path string, optional bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	slog.Debug("config: loaded env file", "path", path)
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${VAR} references, decodes a YAML config from r,
// applies defaults and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; only typed transcripts can trigger voice sessions")
	}
	if cfg.Providers.TTS.Name == "" && cfg.Voice.SpeaksResponses() {
		slog.Warn("no TTS provider configured; only pre-recorded responses will be spoken")
	}
	if cfg.Providers.STT.Name == "whisper-native" && cfg.Providers.STT.BaseURL == "" {
		errs = append(errs, errors.New("providers.stt.base_url must name the model file for whisper-native"))
	}

	// Voice
	v := cfg.Voice
	if v.CaptureTimeout < 0 {
		errs = append(errs, fmt.Errorf("voice.capture_timeout %s must not be negative", v.CaptureTimeout))
	}
	if v.MatchThreshold < 0 || v.MatchThreshold >= 1 {
		errs = append(errs, fmt.Errorf("voice.match_threshold %.2f is out of range [0, 1)", v.MatchThreshold))
	}
	if v.Voice.Volume < 0 || v.Voice.Volume > 1 {
		errs = append(errs, fmt.Errorf("voice.voice.volume %.2f is out of range [0, 1]", v.Voice.Volume))
	}
	if v.Voice.Rate != 0 && (v.Voice.Rate < 0.25 || v.Voice.Rate > 4) {
		errs = append(errs, fmt.Errorf("voice.voice.rate %.2f is out of range [0.25, 4]", v.Voice.Rate))
	}
	for i, name := range slices.Concat(v.FallbackUnrecognized, v.FallbackDeviceNotFound) {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("voice fallback name %d is empty", i))
		}
	}

	// Transcript
	t := cfg.Transcript
	if t.PhoneticThreshold < 0 || t.PhoneticThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcript.phonetic_threshold %.2f is out of range [0, 1]", t.PhoneticThreshold))
	}
	if t.LowConfidence < 0 || t.LowConfidence > 1 {
		errs = append(errs, fmt.Errorf("transcript.low_confidence %.2f is out of range [0, 1]", t.LowConfidence))
	}
	if t.LLMOnLowConfidence && cfg.Providers.LLM.Name == "" {
		slog.Warn("transcript.llm_on_low_confidence is set but providers.llm is not configured")
	}

	// Home
	if strings.TrimSpace(cfg.Home.DefaultOwner) == "" {
		errs = append(errs, errors.New("home.default_owner must not be blank"))
	}

	// Events
	if m := cfg.Events.MQTT; m != nil {
		if m.Broker == "" {
			errs = append(errs, errors.New("events.mqtt.broker is required when events.mqtt is set"))
		}
		if m.QoS > 2 {
			errs = append(errs, fmt.Errorf("events.mqtt.qos %d is invalid; valid values: 0, 1, 2", m.QoS))
		}
	}
	if r := cfg.Events.Redis; r != nil && r.Addr == "" {
		errs = append(errs, errors.New("events.redis.addr is required when events.redis is set"))
	}

	// Paths
	if !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}
	if !strings.HasPrefix(cfg.Telemetry.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", cfg.Telemetry.MetricsPath))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
