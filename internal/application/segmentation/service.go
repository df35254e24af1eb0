// Package segmentation dispatches the external segmentation tool per subject.
package segmentation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/brainvol/internal/application"
	"github.com/bryanwahyu/brainvol/internal/domain/leases"
	domain "github.com/bryanwahyu/brainvol/internal/domain/segmentation"
	"github.com/bryanwahyu/brainvol/internal/domain/subjects"
)

// JobKind is reported to the JobObserver.
const JobKind = "segmentation"

// DiagnosticInterrupted is recorded on subjects a dead process left in processing.
const DiagnosticInterrupted = "interrupted: runner restarted"

var (
	recordAttempts = 3
	recordBackoff  = 200 * time.Millisecond
)

// Registry is the part of the subject registry the service drives.
type Registry interface {
	Get(ctx context.Context, id string) (*subjects.Subject, error)
	List(ctx context.Context, f subjects.Filter) ([]*subjects.Subject, error)
	Transition(ctx context.Context, id string, to subjects.Status) (*subjects.Subject, error)
	Fail(ctx context.Context, id, diagnostic string) (*subjects.Subject, error)
}

// Aggregator folds a processed subject's tables into the measurement table.
type Aggregator interface {
	UpdateFromSubject(ctx context.Context, id string) (int, error)
}

// Service implements the segmentation use-cases.
// Service is safe for concurrent use; the zero value of the unexported fields is ready.
type Service struct {
	Registry      Registry
	Runner        domain.Runner
	Aggregator    Aggregator // used when AutoAggregate
	Observer      application.JobObserver
	Leases        *application.Leaser // nil: jobs are tracked in this process only
	SubjectsDir   string
	Concurrency   int           // max simultaneous tool processes, default 1
	Timeout       time.Duration // per invocation, 0 = none
	AutoAggregate bool
	Logger        *log.Logger

	once     sync.Once
	sem      chan struct{}
	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// DispatchResult is the synchronous outcome of dispatching one subject.
type DispatchResult struct {
	SubjectID string          `json:"subject_id"`
	Status    subjects.Status `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
	Err       error           `json:"-"`
}

func (s *Service) init() {
	s.once.Do(func() {
		n := s.Concurrency
		if n <= 0 {
			n = 1
		}
		s.sem = make(chan struct{}, n)
		s.inflight = make(map[string]struct{})
	})
}

func (s *Service) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Dispatch moves each subject to processing and starts a detached job for it.
// A subject with a job in flight fails fast with ErrAlreadyProcessing.
func (s *Service) Dispatch(ctx context.Context, ids ...string) []DispatchResult {
	s.init()
	out := make([]DispatchResult, 0, len(ids))
	for _, id := range ids {
		sub, err := s.dispatch(ctx, id)
		res := DispatchResult{SubjectID: id, Err: err}
		if err != nil {
			res.Error = err.Error()
			s.logf("segmentation: dispatch subject=%s err=%v", id, err)
		} else {
			res.Status = sub.Status
		}
		out = append(out, res)
	}
	return out
}

func (s *Service) dispatch(ctx context.Context, id string) (*subjects.Subject, error) {
	if !s.claim(id) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyProcessing, id)
	}
	sub, err := s.Registry.Get(ctx, id)
	if err != nil {
		s.release(id)
		return nil, err
	}
	if sub.Status == subjects.StatusProcessing {
		s.release(id)
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyProcessing, id)
	}
	if err := s.Leases.Acquire(ctx, JobKind, id); err != nil {
		s.release(id)
		if errors.Is(err, leases.ErrHeld) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyProcessing, id)
		}
		return nil, err
	}
	sub, err = s.Registry.Transition(ctx, id, subjects.StatusProcessing)
	if err != nil {
		s.Leases.Release(JobKind, id)
		s.release(id)
		if errors.Is(err, subjects.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyProcessing, id)
		}
		return nil, err
	}

	s.wg.Add(1)
	go s.run(sub.ID, sub.RawPath)
	return sub, nil
}

func (s *Service) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// run executes one job. The in-flight claim and the lease are dropped only
// after the final status is recorded, so a re-dispatch never races the
// previous job.
func (s *Service) run(id, rawPath string) {
	defer s.wg.Done()
	defer s.release(id)
	defer s.Leases.Release(JobKind, id)
	defer s.Leases.Keep(JobKind, id)()

	obs := application.ObserverOrNop(s.Observer)
	obs.JobStarted(JobKind)
	failed := true
	defer func() {
		if r := recover(); r != nil {
			s.logf("segmentation: panic subject=%s: %v", id, r)
			s.fail(id, fmt.Sprintf("internal error: %v", r))
		}
		obs.JobFinished(JobKind, failed)
	}()

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	s.logf("segmentation: start subject=%s raw=%s", id, rawPath)
	res, err := s.Runner.Run(ctx, domain.RunRequest{SubjectID: id, RawPath: rawPath, SubjectsDir: s.SubjectsDir})
	if err == nil && res.ExitCode != 0 {
		err = &domain.SubprocessError{SubjectID: id, ExitCode: res.ExitCode, Output: res.Output}
	}
	if err != nil {
		diag := err.Error()
		var se *domain.SubprocessError
		if errors.As(err, &se) {
			diag = se.Diagnostic()
		}
		s.logf("segmentation: failed subject=%s err=%v", id, err)
		s.fail(id, diag)
		return
	}

	if err := s.recordProcessed(id); err != nil {
		s.logf("segmentation: record processed subject=%s err=%v", id, err)
		s.fail(id, fmt.Sprintf("segmentation finished but its status was not recorded: %v", err))
		return
	}
	failed = false
	s.logf("segmentation: done subject=%s duration_ms=%d", id, res.DurationMS)

	if s.AutoAggregate && s.Aggregator != nil {
		n, err := s.Aggregator.UpdateFromSubject(context.Background(), id)
		if err != nil {
			s.logf("segmentation: aggregate subject=%s err=%v", id, err)
			return
		}
		s.logf("segmentation: aggregated subject=%s rows=%d", id, n)
	}
}

// recordProcessed retries transient store errors. A status conflict means
// someone else already closed the job and is not retried.
func (s *Service) recordProcessed(id string) error {
	var err error
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		_, err = s.Registry.Transition(context.Background(), id, subjects.StatusProcessed)
		if err == nil || errors.Is(err, subjects.ErrStatusConflict) || errors.Is(err, subjects.ErrInvalidTransition) {
			return err
		}
		if attempt < recordAttempts {
			time.Sleep(time.Duration(attempt) * recordBackoff)
		}
	}
	return err
}

func (s *Service) fail(id, diagnostic string) {
	if _, err := s.Registry.Fail(context.Background(), id, diagnostic); err != nil {
		s.logf("segmentation: record failure subject=%s err=%v", id, err)
	}
}

// Wait blocks until every dispatched job has finished.
func (s *Service) Wait() { s.wg.Wait() }

// InFlight lists subjects with a job running or queued, sorted.
func (s *Service) InFlight() []string {
	s.init()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.inflight))
	for id := range s.inflight {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// RecoverStale fails subjects left in processing by a process that is gone.
// Subjects whose lease another process still renews are left alone.
func (s *Service) RecoverStale(ctx context.Context) (int, error) {
	s.init()
	stale, err := s.Registry.List(ctx, subjects.Filter{Status: subjects.StatusProcessing, IncludeOrphaned: true})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sub := range stale {
		s.mu.Lock()
		_, busy := s.inflight[sub.ID]
		s.mu.Unlock()
		if busy {
			continue
		}
		abandoned, err := s.Leases.Abandoned(ctx, JobKind, sub.ID)
		if err != nil {
			s.logf("segmentation: recover subject=%s err=%v", sub.ID, err)
			continue
		}
		if !abandoned {
			continue
		}
		if _, err := s.Registry.Fail(ctx, sub.ID, DiagnosticInterrupted); err != nil {
			s.logf("segmentation: recover subject=%s err=%v", sub.ID, err)
			continue
		}
		n++
	}
	if n > 0 {
		s.logf("segmentation: recovered %d interrupted subjects", n)
	}
	return n, nil
}
