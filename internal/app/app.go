// Package app wires all ander subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject stores via functional options (WithCommandStore,
// WithHomeStores). When an option is not provided, New creates PostgreSQL
// stores when a DSN is configured and in-memory stores otherwise.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/ander/internal/api"
	"github.com/MrWong99/ander/internal/capture"
	"github.com/MrWong99/ander/internal/command"
	commandpg "github.com/MrWong99/ander/internal/command/postgres"
	"github.com/MrWong99/ander/internal/config"
	"github.com/MrWong99/ander/internal/dispatch"
	"github.com/MrWong99/ander/internal/event"
	"github.com/MrWong99/ander/internal/health"
	"github.com/MrWong99/ander/internal/home"
	homepg "github.com/MrWong99/ander/internal/home/postgres"
	"github.com/MrWong99/ander/internal/matcher"
	"github.com/MrWong99/ander/internal/mcpserver"
	"github.com/MrWong99/ander/internal/observe"
	"github.com/MrWong99/ander/internal/resilience"
	"github.com/MrWong99/ander/internal/session"
	"github.com/MrWong99/ander/internal/speech"
	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/provider/llm"
	"github.com/MrWong99/ander/pkg/provider/stt"
	"github.com/MrWong99/ander/pkg/provider/tts"
)

// readHeaderTimeout bounds how long a client may take to send headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT stt.Provider
	TTS tts.Provider
	LLM llm.Provider

	// Player plays spoken responses. Nil selects an [audio.ClockPlayer].
	Player audio.Player
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Stores.
	commands   command.Store
	audioStore command.AudioStore
	rooms      home.Rooms
	systems    home.SafetySystems

	// Events.
	bus      *event.Bus
	hub      *event.Hub
	security event.StatusReader

	// Voice.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	synth     tts.Provider
	corrector *correctorSwitch
	speaker   *speech.Speaker
	sessions  *session.Manager

	mcp      *mcpserver.Server
	checkers []health.Checker
	handler  http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCommandStore injects a command store instead of creating one from
// config. When s also implements [command.AudioStore] it stores response
// audio too.
func WithCommandStore(s command.Store) Option {
	return func(a *App) { a.commands = s }
}

// WithHomeStores injects the room and safety-system repositories.
func WithHomeStores(rooms home.Rooms, systems home.SafetySystems) Option {
	return func(a *App) { a.rooms, a.systems = rooms, systems }
}

// WithMetrics injects the metrics instruments instead of ones created on
// the app's telemetry.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry makes the app record to and serve metrics from t. The
// caller keeps ownership and shuts t down after the app. Without it the app
// creates a private registry that it closes itself.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles.
//
// New performs all initialisation synchronously: store connection and
// migration, layout import, command seeding, event sink connection and
// voice pipeline assembly. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", a.initTelemetry},
		{"stores", a.initStores},
		{"home", a.initHome},
		{"events", a.initEvents},
		{"voice", a.initVoice},
		{"http", a.initHTTP},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init %s: %w", step.name, err)
		}
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry creates the metrics instruments and the registry served at
// the metrics path.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		t, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: a.cfg.Telemetry.ServiceName,
			Registry:    prometheus.NewRegistry(),
		})
		if err != nil {
			return err
		}
		a.telemetry = t
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return t.Shutdown(ctx)
		})
	}
	if a.metrics == nil {
		m, err := observe.NewMetrics(a.telemetry.MeterProvider())
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		a.metrics = m
	}
	return nil
}

// initStores sets up PostgreSQL or in-memory stores unless injected.
func (a *App) initStores(ctx context.Context) error {
	if a.commands != nil && a.rooms != nil && a.systems != nil {
		a.audioStore, _ = a.commands.(command.AudioStore)
		return nil
	}

	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		slog.Info("no database configured, using in-memory stores")
		if a.commands == nil {
			a.commands = command.NewMemStore()
		}
		if a.rooms == nil || a.systems == nil {
			hs := home.NewMemStore()
			a.rooms, a.systems = hs, hs.Safety()
		}
		a.audioStore, _ = a.commands.(command.AudioStore)
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	if a.commands == nil {
		cs := commandpg.New(pool)
		if err := cs.Migrate(ctx); err != nil {
			return err
		}
		a.commands = cs
	}
	if a.rooms == nil || a.systems == nil {
		if err := homepg.Migrate(ctx, pool); err != nil {
			return err
		}
		a.rooms, a.systems = homepg.NewRooms(pool), homepg.NewSafetySystems(pool)
	}
	a.audioStore, _ = a.commands.(command.AudioStore)
	a.checkers = append(a.checkers, health.Ping("postgres", pool))
	slog.Info("connected to postgres")
	return nil
}

// initHome imports the configured layouts and seeds the default command
// table for every owner that has none.
func (a *App) initHome(ctx context.Context) error {
	owners := []string{a.cfg.Home.DefaultOwner}
	for _, path := range a.cfg.Home.LayoutFiles {
		layout, err := home.LoadLayoutFile(path)
		if err != nil {
			return err
		}
		owner := layout.Owner
		if owner == "" {
			owner = a.cfg.Home.DefaultOwner
		}
		res, err := home.ImportLayout(ctx, a.rooms, a.systems, owner, layout)
		if err != nil {
			return fmt.Errorf("import layout %q: %w", path, err)
		}
		slog.Info("imported home layout", "path", path, "owner", owner,
			"rooms", res.Rooms, "safety_systems", res.SafetySystems, "skipped", res.Skipped)
		owners = append(owners, owner)
	}

	seen := make(map[string]bool, len(owners))
	for _, owner := range owners {
		if seen[owner] {
			continue
		}
		seen[owner] = true
		n, err := command.Seed(ctx, a.commands, owner)
		if err != nil {
			return fmt.Errorf("seed commands for %q: %w", owner, err)
		}
		if n > 0 {
			slog.Info("seeded default commands", "owner", owner, "count", n)
		}
	}
	return nil
}

// initEvents creates the bus and subscribes the configured sinks.
func (a *App) initEvents(ctx context.Context) error {
	a.bus = event.NewBus()

	mirror := event.NewMirror()
	a.bus.Subscribe(mirror.Handle)
	a.security = mirror

	def := a.cfg.Home.DefaultOwner
	a.hub = event.NewHub(func(r *http.Request) string { return api.Owner(r, def) })
	a.bus.Subscribe(a.hub.Handle)

	if m := a.cfg.Events.MQTT; m != nil {
		sink, err := event.DialMQTT(event.MQTTConfig{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			QoS:         m.QoS,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sink.Close)
		a.bus.Subscribe(sink.Handle)
		a.checkers = append(a.checkers, health.Connected("mqtt", sink.Connected))
		slog.Info("mqtt sink connected", "broker", m.Broker, "prefix", m.TopicPrefix)
	}

	if r := a.cfg.Events.Redis; r != nil {
		sink, err := event.DialRedis(ctx, event.RedisConfig{
			Addr:      r.Addr,
			Password:  r.Password,
			DB:        r.DB,
			Stream:    r.Stream,
			KeyPrefix: r.KeyPrefix,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sink.Close)
		a.bus.Subscribe(sink.Handle)
		a.security = sink
		a.checkers = append(a.checkers, health.Ping("redis", sink))
	}
	return nil
}

// initVoice guards the providers and assembles the session manager.
func (a *App) initVoice(context.Context) error {
	p := a.providers

	var captureSvc *capture.Service
	if p.STT != nil {
		guarded := resilience.GuardSTT(p.STT, a.breaker("stt", a.cfg.Providers.STT.Name))
		captureSvc = capture.New(guarded,
			capture.WithTimeout(a.cfg.Voice.CaptureTimeout),
			capture.WithLanguage(a.cfg.Voice.Language),
		)
	}

	if p.TTS != nil {
		a.synth = resilience.GuardTTS(p.TTS, a.breaker("tts", a.cfg.Providers.TTS.Name))
	}
	var model llm.Provider
	if p.LLM != nil {
		model = resilience.GuardLLM(p.LLM, a.breaker("llm", a.cfg.Providers.LLM.Name))
	}
	a.corrector = newCorrectorSwitch(model, a.cfg.Transcript)

	player := p.Player
	if player == nil {
		player = audio.ClockPlayer{Format: audio.Speaker}
	}
	speakerOpts := []speech.Option{speech.WithVoice(a.cfg.Voice.Voice.Profile(a.cfg.Providers.TTS.Name))}
	if a.synth != nil {
		speakerOpts = append(speakerOpts, speech.WithTTS(a.synth))
	}
	a.speaker = speech.New(player, speakerOpts...)

	a.sessions = session.NewManager(session.Config{
		Commands:   a.commands,
		Audio:      a.audioStore,
		Rooms:      a.rooms,
		Matcher:    matcher.New(matcher.WithThreshold(a.cfg.Voice.MatchThreshold)),
		Dispatcher: dispatch.New(a.rooms, a.systems, a.bus),
		Capture:    captureSvc,
		Corrector:  a.corrector,
		Speaker:    a.speaker,
		Metrics:    a.metrics,
		Settings:   sessionSettings(a.cfg),
	})
	a.closers = append(a.closers, func() error {
		a.sessions.StopAll()
		return nil
	})

	a.mcp = mcpserver.New(mcpserver.Deps{
		Commands:     a.commands,
		Rooms:        a.rooms,
		Systems:      a.systems,
		Sessions:     a.sessions,
		Events:       a.bus,
		DefaultOwner: a.cfg.Home.DefaultOwner,
	})
	return nil
}

// breaker returns a circuit breaker for one provider slot that counts its
// transitions to open as provider errors. An open breaker degrades
// readiness under the slot's kind.
func (a *App) breaker(kind, name string) *resilience.CircuitBreaker {
	m := a.metrics
	cb := resilience.New(resilience.Config{
		Name: kind + ":" + name,
		OnStateChange: func(n string, from, to resilience.State) {
			slog.Warn("provider circuit breaker changed state", "breaker", n, "from", from, "to", to)
			if to == resilience.StateOpen {
				m.RecordProviderError(context.Background(), name, kind)
			}
		},
	})
	a.checkers = append(a.checkers, health.Breaker(kind, func() bool {
		return cb.State() == resilience.StateOpen
	}))
	return cb
}

// initHTTP mounts every route on one mux behind the observability
// middleware.
func (a *App) initHTTP(context.Context) error {
	mux := http.NewServeMux()

	health.New(a.checkers...).Register(mux)

	api.New(api.Deps{
		Commands:     a.commands,
		Audio:        a.audioStore,
		Rooms:        a.rooms,
		Systems:      a.systems,
		Sessions:     a.sessions,
		Events:       a.bus,
		Security:     a.security,
		Voices:       a.synth,
		EventStream:  a.hub,
		DefaultOwner: a.cfg.Home.DefaultOwner,
	}).Register(mux)

	if a.cfg.MCP.Enabled {
		mux.Handle(a.cfg.MCP.Path, a.mcp.Handler())
		slog.Info("mcp server mounted", "path", a.cfg.MCP.Path)
	}
	mux.Handle("GET "+a.cfg.Telemetry.MetricsPath, a.telemetry.Handler())

	a.handler = observe.Middleware(a.metrics,
		observe.WithQuietPaths("/healthz", "/readyz", a.cfg.Telemetry.MetricsPath),
	)(mux)
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the voice session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Bus returns the event bus.
func (a *App) Bus() *event.Bus { return a.bus }

// MCP returns the MCP tool server.
func (a *App) MCP() *mcpserver.Server { return a.mcp }

// Addr returns the address Run is listening on, or nil before Run.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the server fails. When ctx is done, Run returns ctx.Err().
// Call Shutdown afterwards to drain connections.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.mu.Lock()
	a.server, a.listener = srv, ln
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("ander listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of next: response settings,
// fallback names, the voice profile and transcript correction. The log
// level is owned by the caller. Sections that need a restart are logged.
func (a *App) Reload(next *config.Config) config.ConfigDiff {
	d := config.Diff(a.cfg, next)
	if d.VoiceChanged {
		a.sessions.SetSettings(sessionSettings(next))
		a.speaker.SetVoice(next.Voice.Voice.Profile(next.Providers.TTS.Name))
		slog.Info("voice settings reloaded", "response_enabled", next.Voice.SpeaksResponses())
	}
	if d.TranscriptChanged {
		a.corrector.Configure(next.Transcript)
		slog.Info("transcript correction reloaded", "enabled", a.corrector.Enabled())
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	a.cfg = next
	return d
}

func sessionSettings(cfg *config.Config) session.Settings {
	return session.Settings{
		ResponseEnabled: cfg.Voice.SpeaksResponses(),
		Fallbacks:       cfg.Voice.Fallbacks(),
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server and tears down all subsystems in init
// order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers after a failed New.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
