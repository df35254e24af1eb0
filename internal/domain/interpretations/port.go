package interpretations

import "context"

// Repository port for persisting and querying interpretations
type Repository interface {
	Save(ctx context.Context, i *Interpretation) error
	ListByRun(ctx context.Context, runID string, limit int) ([]*Interpretation, error)
}
