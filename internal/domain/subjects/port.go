package subjects

import (
	"context"
	"time"
)

// Filter narrows List results. Zero value lists every non-orphaned subject.
type Filter struct {
	Status          Status
	IncludeOrphaned bool
}

// Repository port (persistence for subjects)
type Repository interface {
	// Create inserts s unless a subject with the same id exists; created reports which.
	Create(ctx context.Context, s *Subject) (created bool, err error)
	Get(ctx context.Context, id string) (*Subject, error)
	List(ctx context.Context, f Filter) ([]*Subject, error)
	// UpdateLocation records a (re)appearance of the raw file and clears the orphan flag.
	UpdateLocation(ctx context.Context, id, fileName, rawPath string, at time.Time) error
	// UpdateStatus is a compare-and-set on the previous status; ErrStatusConflict when it no longer matches.
	UpdateStatus(ctx context.Context, id string, from, to Status, diagnostic string, at time.Time) error
	MarkOrphaned(ctx context.Context, id string, at time.Time) error
}

// FeatureSource loads the externally maintained features table.
type FeatureSource interface {
	Load(ctx context.Context) (*FeatureTable, error)
}
