package subjects

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bryanwahyu/brainvol/internal/application"
	domain "github.com/bryanwahyu/brainvol/internal/domain/subjects"
)

// Registry is the single writer of subject lifecycle state.
// Writes are serialised per subject id; different subjects never block each other.
type Registry struct {
	Repo     domain.Repository
	Features domain.FeatureSource // optional
	Clock    application.Clock
	Logger   *log.Logger

	locks application.KeyedMutex
}

func (r *Registry) now() time.Time { return application.ClockOrSystem(r.Clock).Now() }

func (r *Registry) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Upsert registers a raw file. A new id starts as preprocessed (created=true).
// An existing id keeps its status; a moved or reappeared file updates the
// location and clears the orphan flag.
func (r *Registry) Upsert(ctx context.Context, id, fileName, rawPath string) (*domain.Subject, bool, error) {
	if err := domain.ValidateID(id); err != nil {
		return nil, false, fmt.Errorf("register %q: %w", rawPath, err)
	}
	unlock := r.locks.Lock(id)
	defer unlock()

	now := r.now()
	s, err := r.Repo.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s = domain.New(id, fileName, rawPath, now)
		created, err := r.Repo.Create(ctx, s)
		if err != nil {
			return nil, false, fmt.Errorf("create subject %s: %w", id, err)
		}
		if created {
			return s, true, nil
		}
		// another process inserted it first
		s, err = r.Repo.Get(ctx, id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("get subject %s: %w", id, err)
	}

	if s.RawPath == rawPath && s.FileName == fileName && !s.Orphaned {
		return s, false, nil
	}
	if err := r.Repo.UpdateLocation(ctx, id, fileName, rawPath, now); err != nil {
		return nil, false, fmt.Errorf("update location of %s: %w", id, err)
	}
	s.FileName = fileName
	s.RawPath = rawPath
	s.Orphaned = false
	s.OrphanedAt = nil
	s.UpdatedAt = now
	return s, false, nil
}

// Transition moves a subject along the lifecycle graph.
func (r *Registry) Transition(ctx context.Context, id string, to domain.Status) (*domain.Subject, error) {
	return r.transition(ctx, id, to, "")
}

// Fail moves a processing subject to failed, keeping diagnostic.
func (r *Registry) Fail(ctx context.Context, id, diagnostic string) (*domain.Subject, error) {
	return r.transition(ctx, id, domain.StatusFailed, diagnostic)
}

func (r *Registry) transition(ctx context.Context, id string, to domain.Status, diagnostic string) (*domain.Subject, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	s, err := r.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := s.Status
	now := r.now()
	if err := s.Transition(to, diagnostic, now); err != nil {
		return nil, err
	}
	if err := r.Repo.UpdateStatus(ctx, id, from, to, s.Diagnostic, now); err != nil {
		return nil, fmt.Errorf("persist %s → %s for %s: %w", from, to, id, err)
	}
	r.logf("subject=%s status=%s→%s", id, from, to)
	return s, nil
}

// MarkOrphaned flags a subject whose raw file vanished. History is kept.
func (r *Registry) MarkOrphaned(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.Repo.MarkOrphaned(ctx, id, r.now())
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Subject, error) {
	return r.Repo.Get(ctx, id)
}

// List is a snapshot read ordered by id.
func (r *Registry) List(ctx context.Context, f domain.Filter) ([]*domain.Subject, error) {
	return r.Repo.List(ctx, f)
}

// LoadFeatures reads the features table; without a source it is empty.
func (r *Registry) LoadFeatures(ctx context.Context) (*domain.FeatureTable, error) {
	if r.Features == nil {
		return &domain.FeatureTable{}, nil
	}
	t, err := r.Features.Load(ctx)
	if err != nil {
		return nil, err
	}
	if n := len(t.Quarantined); n > 0 {
		r.logf("features quarantined=%d first_line=%d reason=%q", n, t.Quarantined[0].Line, t.Quarantined[0].Reason)
	}
	return t, nil
}

// WithFeatures attaches each subject's feature row, matched by raw file name.
func WithFeatures(subjects []*domain.Subject, table *domain.FeatureTable) []*domain.Subject {
	for _, s := range subjects {
		if attrs, ok := table.Lookup(s.FileName); ok {
			s.Features = attrs
		}
	}
	return subjects
}
