package sqlstore

import (
	"context"
	"database/sql"
	"strings"

	domain "github.com/bryanwahyu/brainvol/internal/domain/interpretations"
)

type InterpretationRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewInterpretationRepository(db *sql.DB, d Dialect) *InterpretationRepository {
	return &InterpretationRepository{db: db, dialect: d}
}

// Save inserts an interpretation record
func (r *InterpretationRepository) Save(ctx context.Context, i *domain.Interpretation) error {
	const q = `
INSERT INTO analysis_interpretations (id, run_id, artifact_url, model, result, created_at)
VALUES (?,?,?,?,?,?)`
	result := i.Result
	if strings.TrimSpace(result) == "" {
		// result column holds a JSON document; use empty object
		result = "{}"
	}
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), string(i.ID), i.RunID, i.ArtifactURL, i.Model, result, nanos(i.CreatedAt))
	return err
}

// ListByRun returns interpretations of a run, newest first
func (r *InterpretationRepository) ListByRun(ctx context.Context, runID string, limit int) ([]*domain.Interpretation, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, run_id, artifact_url, model, result, created_at
FROM analysis_interpretations
WHERE run_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Interpretation
	for rows.Next() {
		var i domain.Interpretation
		var created int64
		if err := rows.Scan(&i.ID, &i.RunID, &i.ArtifactURL, &i.Model, &i.Result, &created); err != nil {
			return nil, err
		}
		i.CreatedAt = fromNanos(created)
		out = append(out, &i)
	}
	return out, rows.Err()
}
