// Package session runs voice interactions end to end.
//
// A [Controller] owns one owner's state machine:
//
//	Idle → Listening → Resolving → Speaking → Idle
//
// Listening captures a transcript, Resolving corrects and matches it and
// runs the dispatcher, Speaking renders the response. Every path returns to
// Idle, and every internal failure becomes a user-facing response string in
// the returned [Outcome]. At most one session runs per controller; a second
// trigger while one is in flight fails with [ErrBusy].
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/ander/internal/capture"
	"github.com/MrWong99/ander/internal/command"
	"github.com/MrWong99/ander/internal/dispatch"
	"github.com/MrWong99/ander/internal/home"
	"github.com/MrWong99/ander/internal/matcher"
	"github.com/MrWong99/ander/internal/observe"
	"github.com/MrWong99/ander/internal/speech"
	"github.com/MrWong99/ander/internal/transcript"
	"github.com/MrWong99/ander/pkg/audio"
	"github.com/MrWong99/ander/pkg/types"
)

// ErrBusy is returned by [Controller.Run] while another session is in flight.
var ErrBusy = errors.New("session: a voice session is already in progress")

// Built-in response texts.
const (
	// NoCommandHeard is the response when capture ends without a transcript.
	NoCommandHeard = "No command heard."

	// DefaultUnrecognized is used when no unrecognized fallback command exists.
	DefaultUnrecognized = "I didn't understand that command. Please try again."
)

// State is the controller's position in the session state machine.
type State int32

const (
	Idle State = iota
	Listening
	Resolving
	Speaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Resolving:
		return "resolving"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements [encoding.TextUnmarshaler]. Only the four state
// names are accepted.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "listening":
		*s = Listening
	case "resolving":
		*s = Resolving
	case "speaking":
		*s = Speaking
	default:
		return fmt.Errorf("session: unknown state %q", b)
	}
	return nil
}

// Trigger starts a session. Either Audio or Transcript is set; a typed
// Transcript skips capture.
type Trigger struct {
	Audio  io.Reader
	Format audio.Format

	Transcript string
}

// OutcomeKind classifies how a session ended.
type OutcomeKind string

const (
	OutcomeExecuted       OutcomeKind = "executed"
	OutcomeNoAction       OutcomeKind = "no_action"
	OutcomeNoMatch        OutcomeKind = "no_match"
	OutcomeDeviceNotFound OutcomeKind = "device_not_found"
	OutcomeTimeout        OutcomeKind = "timeout"
	OutcomeSilent         OutcomeKind = "silent"
	OutcomeStopped        OutcomeKind = "stopped"
	OutcomeFailed         OutcomeKind = "failed"
)

// Outcome describes one finished session.
type Outcome struct {
	ID    string      `json:"id"`
	Owner string      `json:"owner"`
	Kind  OutcomeKind `json:"kind"`

	// Transcript is what capture heard; Corrected is the text matched
	// against the commands after vocabulary correction.
	Transcript string                  `json:"transcript,omitempty"`
	Corrected  string                  `json:"corrected,omitempty"`
	Changes    []transcript.Correction `json:"corrections,omitempty"`

	CommandID   string           `json:"command_id,omitempty"`
	CommandName string           `json:"command_name,omitempty"`
	Score       float64          `json:"score,omitempty"`
	Dispatch    *dispatch.Result `json:"dispatch,omitempty"`

	Response string `json:"response"`
	AudioURL string `json:"audio_url,omitempty"`

	Spoken      bool   `json:"spoken"`
	SpeechError string `json:"speech_error,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// speakable reports whether the outcome has a response to play. A capture
// that heard nothing only shows its text.
func (o *Outcome) speakable() bool {
	switch o.Kind {
	case OutcomeTimeout, OutcomeSilent:
		return false
	}
	return o.Response != "" || o.AudioURL != ""
}

// Settings are the hot-reloadable parts of a controller.
type Settings struct {
	// ResponseEnabled turns spoken responses on.
	ResponseEnabled bool

	// Fallbacks names the reserved fallback commands.
	Fallbacks command.Fallbacks
}

// DefaultSettings speaks responses and uses the default fallback names.
func DefaultSettings() Settings {
	return Settings{ResponseEnabled: true, Fallbacks: command.DefaultFallbacks()}
}

// Config holds the dependencies of a [Controller].
type Config struct {
	Owner string

	Commands   command.Store
	Rooms      home.Rooms
	Matcher    *matcher.Matcher
	Dispatcher *dispatch.Dispatcher

	// Audio supplies pre-recorded responses. Optional.
	Audio command.AudioStore

	// Capture turns trigger audio into a transcript. Without it only typed
	// transcripts work.
	Capture *capture.Service

	// Corrector fixes the transcript against the home vocabulary. Optional.
	Corrector transcript.Corrector

	// Speaker renders responses. Optional.
	Speaker *speech.Speaker

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	Settings Settings
}

// Controller runs the sessions of one owner. It is safe for concurrent use.
type Controller struct {
	cfg      Config
	settings atomic.Pointer[Settings]
	state    atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	last   *Outcome
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	if cfg.Matcher == nil {
		cfg.Matcher = matcher.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Settings.Fallbacks.Unrecognized == nil && cfg.Settings.Fallbacks.DeviceNotFound == nil {
		cfg.Settings.Fallbacks = command.DefaultFallbacks()
	}
	c := &Controller{cfg: cfg}
	s := cfg.Settings
	c.settings.Store(&s)
	return c
}

// Owner returns the owner this controller serves.
func (c *Controller) Owner() string { return c.cfg.Owner }

// State returns the current state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Settings returns the active settings.
func (c *Controller) Settings() Settings { return *c.settings.Load() }

// SetSettings replaces the settings. A session in flight keeps the settings
// it started with.
func (c *Controller) SetSettings(s Settings) { c.settings.Store(&s) }

// Last returns the most recent outcome, or nil before the first session.
func (c *Controller) Last() *Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Stop cancels an in-flight capture and interrupts speech. It is a no-op
// when the controller is idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	if c.cfg.Speaker != nil && c.State() == Speaking {
		c.cfg.Speaker.Stop()
	}
}

// Run executes one session. It returns [ErrBusy] without side effects when
// a session is already running; otherwise the returned error is always nil
// and failures are reported through the Outcome.
func (c *Controller) Run(ctx context.Context, trig Trigger) (Outcome, error) {
	if !c.state.CompareAndSwap(int32(Idle), int32(Listening)) {
		return Outcome{}, ErrBusy
	}
	defer c.state.Store(int32(Idle))

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	m := c.cfg.Metrics
	m.ActiveSessions.Add(ctx, 1)
	defer m.ActiveSessions.Add(ctx, -1)

	out := Outcome{ID: uuid.NewString(), Owner: c.cfg.Owner, StartedAt: time.Now().UTC()}
	scope := observe.Scope{Owner: c.cfg.Owner, SessionID: out.ID}
	ctx = observe.WithScope(ctx, scope)
	runCtx = observe.WithScope(runCtx, scope)
	ctx, span := observe.StartSpan(ctx, "session.run")
	defer span.End()
	log := observe.Logger(ctx)

	settings := c.Settings()

	c.resolve(ctx, runCtx, log, trig, settings, &out)

	if settings.ResponseEnabled && c.cfg.Speaker != nil && out.speakable() {
		c.state.Store(int32(Speaking))
		start := time.Now()
		if err := c.cfg.Speaker.Speak(runCtx, out.Response, out.AudioURL); err != nil {
			log.Warn("session: speak response", "err", err)
			out.SpeechError = err.Error()
		} else {
			out.Spoken = true
		}
		m.SpeechDuration.Record(ctx, time.Since(start).Seconds())
	}

	out.Duration = time.Since(out.StartedAt)
	m.RecordSession(ctx, string(out.Kind))
	log.Info("session: finished", "kind", out.Kind, "command", out.CommandName,
		"score", out.Score, "spoken", out.Spoken, "duration", out.Duration)

	c.mu.Lock()
	last := out
	c.last = &last
	c.mu.Unlock()
	return out, nil
}

// resolve runs the Listening and Resolving states and fills out with the
// response to speak.
func (c *Controller) resolve(ctx, runCtx context.Context, log *slog.Logger, trig Trigger, settings Settings, out *Outcome) {
	m := c.cfg.Metrics

	cmds, err := c.cfg.Commands.List(ctx, c.cfg.Owner)
	if err != nil {
		log.Error("session: list commands", "err", err)
		out.Kind = OutcomeFailed
		out.Response = DefaultUnrecognized
		return
	}
	fb := settings.Fallbacks.Resolve(cmds)
	unrecognized := fb.Unrecognized
	if unrecognized == "" {
		unrecognized = DefaultUnrecognized
	}

	var vocab transcript.Vocabulary
	if c.cfg.Corrector != nil || c.cfg.Capture != nil {
		vocab = c.vocabulary(ctx, log, cmds)
	}

	// Listening.
	var heard types.Transcript
	if trig.Transcript != "" {
		heard = types.Transcript{Text: trig.Transcript, IsFinal: true}
	} else {
		start := time.Now()
		res, err := c.capture(runCtx, trig, vocab)
		m.CaptureDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			log.Error("session: capture", "err", err)
			out.Kind = OutcomeFailed
			out.Response = unrecognized
			return
		}
		switch res.Status {
		case capture.Heard:
			heard = res.Transcript
		case capture.Stopped:
			out.Kind = OutcomeStopped
			return
		case capture.Silent:
			out.Kind = OutcomeSilent
			out.Response = NoCommandHeard
			return
		default:
			out.Kind = OutcomeTimeout
			out.Response = NoCommandHeard
			return
		}
	}
	out.Transcript = heard.Text

	// Resolving.
	c.state.Store(int32(Resolving))
	start := time.Now()
	text := heard.Text
	if c.cfg.Corrector != nil {
		res, err := c.cfg.Corrector.Correct(ctx, heard, vocab)
		if err != nil {
			log.Warn("session: correct transcript", "err", err)
		}
		if res.Text != "" {
			text = res.Text
			out.Changes = res.Corrections
		}
	}
	out.Corrected = text

	match, ok := c.cfg.Matcher.Resolve(text, cmds)
	m.MatchDuration.Record(ctx, time.Since(start).Seconds())
	if !ok {
		out.Kind = OutcomeNoMatch
		out.Response = unrecognized
		return
	}
	cmd := match.Command
	out.CommandID, out.CommandName, out.Score = cmd.ID, cmd.Name, match.Score

	start = time.Now()
	res, err := c.cfg.Dispatcher.Execute(ctx, c.cfg.Owner, cmd, text)
	m.DispatchDuration.Record(ctx, time.Since(start).Seconds())
	m.RecordDispatch(ctx, string(res.Reason))
	out.Dispatch = &res
	if err != nil {
		log.Error("session: dispatch", "command", cmd.Name, "err", err)
		out.Kind = OutcomeFailed
		out.Response = unrecognized
		return
	}

	out.Response = cmd.Response
	switch {
	case res.Reason == dispatch.ReasonDeviceNotFound:
		out.Kind = OutcomeDeviceNotFound
		if fb.DeviceNotFound != "" {
			out.Response = fb.DeviceNotFound
			return
		}
	case res.Reason == dispatch.ReasonNoAction:
		out.Kind = OutcomeNoAction
	default:
		out.Kind = OutcomeExecuted
	}
	out.AudioURL = c.audioURL(ctx, log, cmd.ID)
}

func (c *Controller) capture(ctx context.Context, trig Trigger, vocab transcript.Vocabulary) (capture.Result, error) {
	if c.cfg.Capture == nil {
		return capture.Result{}, capture.ErrUnsupported
	}
	var hints []types.KeywordBoost
	if vocab.Len() > 0 {
		hints = vocab.Keywords()
	}
	return c.cfg.Capture.Capture(ctx, capture.Request{Audio: trig.Audio, Format: trig.Format, Keywords: hints})
}

func (c *Controller) vocabulary(ctx context.Context, log *slog.Logger, cmds []command.Command) transcript.Vocabulary {
	var rooms []home.Room
	if c.cfg.Rooms != nil {
		var err error
		if rooms, err = c.cfg.Rooms.Filter(ctx, c.cfg.Owner); err != nil {
			log.Warn("session: list rooms for vocabulary", "err", err)
		}
	}
	return Vocabulary(cmds, rooms)
}

func (c *Controller) audioURL(ctx context.Context, log *slog.Logger, commandID string) string {
	if c.cfg.Audio == nil || commandID == "" {
		return ""
	}
	a, err := c.cfg.Audio.FindByCommandID(ctx, commandID)
	if err != nil {
		if !errors.Is(err, command.ErrNotFound) {
			log.Warn("session: look up response audio", "command_id", commandID, "err", err)
		}
		return ""
	}
	return a.StoragePath
}
