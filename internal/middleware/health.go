package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// DatabaseHealthChecker pings the subject database
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

// CheckFunc adapts a ping function, e.g. the artifact store ping
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// PassReporter exposes the outcome of the latest folder watcher pass.
type PassReporter interface {
	LastPass() (at time.Time, err error)
}

// WatcherHealthChecker fails when the watcher has not completed a clean pass
// within MaxAge, so a wedged poll loop takes the instance out of rotation.
type WatcherHealthChecker struct {
	Watcher PassReporter
	MaxAge  time.Duration
	Now     func() time.Time // nil means time.Now
}

func (c *WatcherHealthChecker) Check(context.Context) error {
	at, err := c.Watcher.LastPass()
	if at.IsZero() {
		return errors.New("no watcher pass completed yet")
	}
	if err != nil {
		return fmt.Errorf("last watcher pass failed: %w", err)
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if age := now().Sub(at); c.MaxAge > 0 && age > c.MaxAge {
		return fmt.Errorf("last watcher pass was %s ago", age.Round(time.Second))
	}
	return nil
}

// HealthStatus represents the health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus represents individual check status
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// runChecks evaluates every checker in name order.
func runChecks(ctx context.Context, checkers map[string]HealthChecker, ok, bad string) (HealthStatus, bool) {
	names := make([]string, 0, len(checkers))
	for name := range checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	st := HealthStatus{Status: ok, Timestamp: time.Now(), Checks: make(map[string]CheckStatus, len(names))}
	for _, name := range names {
		if err := checkers[name].Check(ctx); err != nil {
			st.Status = bad
			st.Checks[name] = CheckStatus{Status: bad, Message: err.Error()}
			continue
		}
		st.Checks[name] = CheckStatus{Status: ok}
	}
	return st, st.Status == ok
}

func writeStatus(w http.ResponseWriter, st HealthStatus, passed bool) {
	code := http.StatusOK
	if !passed {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(st)
}

// HealthHandler reports every dependency; any failure answers 503
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		st, passed := runChecks(ctx, checkers, "healthy", "unhealthy")
		writeStatus(w, st, passed)
	}
}

// ReadinessHandler answers 503 until every checker needed to serve traffic passes
func ReadinessHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		st, passed := runChecks(ctx, checkers, "ready", "not_ready")
		writeStatus(w, st, passed)
	}
}

// LivenessHandler creates a liveness check handler (simplest check)
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
