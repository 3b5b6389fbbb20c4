// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 while the process serves HTTP. GET /readyz runs
// every [Checker] concurrently and reports one of three states:
//
//	ok        every check passed                        200
//	degraded  only optional checks failed               200
//	fail      at least one required check failed        503
//
// A voice engine without its LLM corrector still executes commands, so
// provider breakers are registered as optional checks while stores and
// event sinks are required.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Readiness states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

const checkTimeout = 5 * time.Second

// Checker probes one dependency.
type Checker struct {
	// Name keys the check in the response, e.g. "postgres" or "stt".
	Name string

	// Optional checks degrade readiness instead of failing it.
	Optional bool

	// Check returns nil when the dependency is usable. It must respect
	// context cancellation.
	Check func(ctx context.Context) error
}

// Report is the JSON body of both probes.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on every readiness probe.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz runs the checks, each bounded by its own timeout derived from the
// request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Evaluate(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// Evaluate runs every check concurrently and folds the results.
func (h *Handler) Evaluate(ctx context.Context) Report {
	var (
		mu       sync.Mutex
		checks   = make(map[string]string, len(h.checkers))
		failed   bool
		degraded bool
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checks[c.Name] = StatusOK
			case c.Optional:
				checks[c.Name] = StatusDegraded + ": " + err.Error()
				degraded = true
			default:
				checks[c.Name] = StatusFail + ": " + err.Error()
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: checks}
	switch {
	case failed:
		rep.Status = StatusFail
	case degraded:
		rep.Status = StatusDegraded
	}
	return rep
}

// ── Checker constructors ──

// Pinger is a dependency with a connectivity probe, such as a pgx pool or
// a Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a required Checker that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ErrDisconnected is reported by [Connected] checkers.
var ErrDisconnected = errors.New("health: not connected")

// Connected returns a required Checker that fails while connected reports
// false, e.g. for an MQTT client that reconnects in the background.
func Connected(name string, connected func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !connected() {
			return ErrDisconnected
		}
		return nil
	}}
}

// ErrCircuitOpen is reported by [Breaker] checkers.
var ErrCircuitOpen = errors.New("health: circuit open")

// Breaker returns an optional Checker that degrades readiness while open
// reports true.
func Breaker(name string, open func() bool) Checker {
	return Checker{Name: name, Optional: true, Check: func(context.Context) error {
		if open() {
			return ErrCircuitOpen
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
