package analyses

import (
	"context"
	"io"
)

// ListFilter narrows history queries.
type ListFilter struct {
	SubjectID string // runs whose cohort contains this subject
	Status    Status
	Limit     int
}

// Repository port (interface untuk persistence)
type Repository interface {
	Create(ctx context.Context, r *AnalysisRun) error
	Get(ctx context.Context, id RunID) (*AnalysisRun, error)
	// List returns runs most-recent-first.
	List(ctx context.Context, f ListFilter) ([]*AnalysisRun, error)
	// Finish persists a terminal run; ErrAlreadyFinished unless it is still running.
	Finish(ctx context.Context, r *AnalysisRun) error
}

// ArtifactStore port (interface untuk penyimpanan artefak)
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ChartRenderer draws a significance chart of an artifact to a local file.
type ChartRenderer interface {
	Render(a *Artifact, path string) error
}
