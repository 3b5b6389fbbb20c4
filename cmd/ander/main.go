// Command ander is the main entry point for the ander voice-command server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/MrWong99/ander/internal/app"
	"github.com/MrWong99/ander/internal/config"
	"github.com/MrWong99/ander/internal/observe"
	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/provider/llm/anyllm"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/ander/pkg/provider/stt/openai"
	"github.com/MrWong99/ander/pkg/provider/stt/whisper"
	"github.com/MrWong99/ander/pkg/provider/tts"
	"github.com/MrWong99/ander/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/ander/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.StringP("config", "c", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "optional file of KEY=VALUE pairs loaded before the config")
	logLevel := flag.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	logJSON := flag.Bool("log-json", false, "write logs as JSON instead of text")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve the MCP tools on stdin/stdout instead of HTTP")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := config.LoadEnvFile(*envFile, true); err != nil {
		fmt.Fprintf(os.Stderr, "ander: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr so --mcp-stdio keeps stdout for the protocol.
	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(level, *logJSON))

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher starts before the app exists; reloads before then only
	// adjust the log level.
	var current atomic.Pointer[app.App]
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged && *logLevel == "" {
			level.Set(slogLevel(d.NewLogLevel))
		}
		if a := current.Load(); a != nil {
			a.Reload(next)
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ander: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ander: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	levelName := cfg.Server.LogLevel
	if *logLevel != "" {
		levelName = config.LogLevel(*logLevel)
		if !levelName.IsValid() {
			fmt.Fprintf(os.Stderr, "ander: --log-level %q is invalid\n", *logLevel)
			return 1
		}
	}
	level.Set(slogLevel(levelName))

	slog.Info("ander starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", levelName,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg)

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Global:         true,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(ctx, cfg, providers, app.WithTelemetry(telemetry))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	current.Store(application)

	if *mcpStdio {
		slog.Info("serving mcp on stdio")
		err = application.MCP().RunStdio(ctx)
	} else {
		slog.Info("server ready; press Ctrl+C to shut down")
		err = application.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders maps every provider name accepted by the config
// validator to its constructor.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm backend takes the same entry fields; local backends
	// drop the key.
	for _, providerName := range config.ValidProviderNames["llm"] {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(anyllm.Config{
				Backend: providerName,
				Model:   entry.Model,
				APIKey:  entry.APIKey,
				BaseURL: entry.BaseURL,
			})
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if raw := entry.OptionString("endpointing"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("deepgram: endpointing %q: %w", raw, err)
			}
			opts = append(opts, deepgram.WithEndpointing(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptionString("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.Model != "" {
			opts = append(opts, oaitts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := entry.OptionString("voice"); voice != "" {
			opts = append(opts, oaitts.WithDefaultVoice(voice))
		}
		return oaitts.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"stt", "tts", "llm"} {
		slog.Debug("providers registered", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders creates the configured providers. Kinds without a name
// stay nil and the app runs without them.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	if err := create("stt", cfg.Providers.STT, reg.CreateSTT, &ps.STT); err != nil {
		return nil, err
	}
	if err := create("tts", cfg.Providers.TTS, reg.CreateTTS, &ps.TTS); err != nil {
		return nil, err
	}
	if err := create("llm", cfg.Providers.LLM, reg.CreateLLM, &ps.LLM); err != nil {
		return nil, err
	}
	return ps, nil
}

func create[P any](kind string, entry config.ProviderEntry, factory config.Factory[P], dst *P) error {
	if entry.Name == "" {
		return nil
	}
	p, err := factory(entry)
	if err != nil {
		return err
	}
	*dst = p
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║          ander · startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	store := "memory"
	if cfg.Database.PostgresDSN != "" {
		store = "postgres"
	}
	fmt.Fprintf(w, "║  Store           : %-19s ║\n", store)
	fmt.Fprintf(w, "║  Layout files    : %-19d ║\n", len(cfg.Home.LayoutFiles))
	fmt.Fprintf(w, "║  MQTT            : %-19s ║\n", enabled(cfg.Events.MQTT != nil))
	fmt.Fprintf(w, "║  Redis           : %-19s ║\n", enabled(cfg.Events.Redis != nil))
	fmt.Fprintf(w, "║  MCP over HTTP   : %-19s ║\n", enabled(cfg.MCP.Enabled))
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar, json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
