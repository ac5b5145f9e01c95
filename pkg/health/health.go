// Package health serves liveness and readiness probes.
//
// Checks run in the background and a probe only flips state after a streak
// of results: FailureThreshold consecutive failures mark a check down,
// SuccessThreshold consecutive successes bring it back. Probe endpoints read
// the last known state and never run checks inline.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check belongs to.
type Kind int

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Kind = iota
	// Readiness checks decide whether the process receives traffic.
	Readiness
)

// Check describes one registered check.
type Check struct {
	Name    string
	Timeout time.Duration
	Func    CheckFunc
	// Zero thresholds default to 3 failures and 1 success.
	FailureThreshold int
	SuccessThreshold int
}

type state struct {
	Check

	mu      sync.Mutex
	up      bool
	lastErr error
	fails   int
	oks     int
}

func newState(c Check) *state {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	return &state{Check: c, up: true}
}

func (s *state) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	err := s.Func(ctx)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err != nil {
		s.oks = 0
		s.fails++
		if s.fails >= s.FailureThreshold {
			s.up = false
		}
		return
	}
	s.fails = 0
	s.oks++
	if s.oks >= s.SuccessThreshold {
		s.up = true
	}
}

// failure returns the reason the check is down, or "" when it is up.
func (s *state) failure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.up {
		return ""
	}
	if s.lastErr != nil {
		return s.lastErr.Error()
	}
	return "check is unhealthy"
}

// Registry holds the checks of one process.
type Registry struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks map[Kind][]*state
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Registry. It reports not ready until SetReady(true).
func New() *Registry {
	return &Registry{checks: map[Kind][]*state{}}
}

// Add registers c. Checks added after Start are not scheduled.
func (r *Registry) Add(kind Kind, c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[kind] = append(r.checks[kind], newState(c))
}

func (r *Registry) snapshot(kind Kind) []*state {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*state(nil), r.checks[kind]...)
}

// Start runs every check now and then every interval until Stop or ctx
// is done.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	var all []*state
	for _, kind := range []Kind{Liveness, Readiness} {
		all = append(all, r.checks[kind]...)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				s.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop cancels the checks and waits for them to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// SetReady marks the process ready or draining.
func (r *Registry) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Failures returns failing checks of kind by name. A process that is not
// marked ready reports "_readiness" among its readiness failures.
func (r *Registry) Failures(kind Kind) map[string]string {
	failures := map[string]string{}
	for _, s := range r.snapshot(kind) {
		if reason := s.failure(); reason != "" {
			failures[s.Name] = reason
		}
	}
	if kind == Readiness && !r.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	return failures
}

// Handler serves the probe for kind: 200 {"status":"ok"} or
// 503 {"status":"unhealthy","checks":{...}}.
func (r *Registry) Handler(kind Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		failures := r.Failures(kind)

		e := jx.GetEncoder()
		defer jx.PutEncoder(e)
		e.ObjStart()
		status := http.StatusOK
		if len(failures) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
		} else {
			status = http.StatusServiceUnavailable
			e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
			e.Field("checks", func(e *jx.Encoder) {
				names := make([]string, 0, len(failures))
				for name := range failures {
					names = append(names, name)
				}
				sort.Strings(names)
				e.ObjStart()
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failures[name]) })
				}
				e.ObjEnd()
			})
		}
		e.ObjEnd()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		// The status line is out; a failed write means the prober went away.
		_, _ = w.Write(e.Bytes())
	})
}
