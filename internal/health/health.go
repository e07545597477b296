// Package health provides the liveness and readiness endpoints of the
// operational HTTP surface.
//
//   - /healthz — liveness probe; a process that can serve HTTP answers 200.
//   - /readyz  — readiness probe; answers 200 only while every registered
//     [Checker] passes.
//
// Readiness checks probe independent network backends (the conversation
// store, the synthesis provider), so they run concurrently: the verdict is
// delayed by the slowest check, not the sum of all of them. Responses are
// JSON with a top-level "status" field ("ok" or "fail") and a "checks" map
// carrying each checker's verdict and observed latency.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// its context is cancelled.
const checkTimeout = 5 * time.Second

const (
	statusOK   = "ok"
	statusFail = "fail"
)

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and an error describing the failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "database", "tts"). It
	// appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation;
	// checks run concurrently and each gets its own timeout.
	Check func(ctx context.Context) error
}

// verdict is one checker's entry in the readiness response.
type verdict struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	// DurationMS is how long the check took, failed or not. A creeping
	// value here flags a degrading backend before it starts failing.
	DurationMS int64 `json:"duration_ms"`
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string             `json:"status"`
	Checks map[string]verdict `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. It is safe for
// concurrent use; the checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. A running process that can serve HTTP is
// alive, so it always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: statusOK})
}

// Readyz runs every registered checker concurrently, each under its own
// [checkTimeout] derived from the request context, and answers 503 when any
// fails. A failing check never short-circuits its siblings; the response
// always carries every verdict.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	verdicts := make([]verdict, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(ctx)
			v := verdict{Status: statusOK, DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				v.Status = statusFail
				v.Error = err.Error()
			}
			verdicts[i] = v
		}()
	}
	wg.Wait()

	res := result{Status: statusOK, Checks: make(map[string]verdict, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		res.Checks[c.Name] = verdicts[i]
		if verdicts[i].Status != statusOK {
			res.Status = statusFail
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
