package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/brainvol/internal/domain/analyses"
	"github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/stats"
)

type AnalysisRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewAnalysisRepository(db *sql.DB, d Dialect) *AnalysisRepository {
	return &AnalysisRepository{db: db, dialect: d}
}

const runColumns = `id, name, created_at, finished_at, dependent_variable, grouping_variable, covariate,
       test_kind, correction, alpha, status, artifact_key, artifact_url, chart_url, diagnostic`

// Create inserts the run and its cohort.
func (r *AnalysisRepository) Create(ctx context.Context, run *domain.AnalysisRun) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const q = `
INSERT INTO analysis_runs
(id, name, created_at, finished_at, dependent_variable, grouping_variable, covariate,
 test_kind, correction, alpha, status, artifact_key, artifact_url, chart_url, diagnostic)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	if _, err := tx.ExecContext(ctx, r.dialect.Rebind(q),
		string(run.ID), run.Name, nanos(run.CreatedAt), nullNanos(run.FinishedAt),
		string(run.DependentVariable), run.GroupingVariable, run.Covariate,
		string(run.TestKind), string(run.Correction), run.Alpha, string(run.Status),
		run.ArtifactKey, run.ArtifactURL, run.ChartURL, nullString(run.Diagnostic),
	); err != nil {
		return fmt.Errorf("insert analysis run %s: %w", run.ID, err)
	}

	ins := r.dialect.InsertIgnore("analysis_run_subjects", []string{"run_id", "subject_id"}, "run_id", "subject_id")
	stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(ins))
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range run.Cohort {
		if _, err := stmt.ExecContext(ctx, string(run.ID), id); err != nil {
			return fmt.Errorf("insert cohort member %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Get by id, with the cohort ordered by subject id
func (r *AnalysisRepository) Get(ctx context.Context, id domain.RunID) (*domain.AnalysisRun, error) {
	q := `SELECT ` + runColumns + ` FROM analysis_runs WHERE id = ?`
	run, err := scanRun(r.db.QueryRowContext(ctx, r.dialect.Rebind(q), string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadCohorts(ctx, []*domain.AnalysisRun{run}); err != nil {
		return nil, err
	}
	return run, nil
}

// List most-recent-first
func (r *AnalysisRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.AnalysisRun, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var where []string
	var args []any
	if f.SubjectID != "" {
		where = append(where, `EXISTS (SELECT 1 FROM analysis_run_subjects s WHERE s.run_id = analysis_runs.id AND s.subject_id = ?)`)
		args = append(args, f.SubjectID)
	}
	if f.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(f.Status))
	}
	q := `SELECT ` + runColumns + ` FROM analysis_runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.loadCohorts(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Finish closes a running run; compare-and-set on status.
func (r *AnalysisRepository) Finish(ctx context.Context, run *domain.AnalysisRun) error {
	const q = `
UPDATE analysis_runs
SET status = ?, finished_at = ?, artifact_key = ?, artifact_url = ?, chart_url = ?, diagnostic = ?
WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(q),
		string(run.Status), nullNanos(run.FinishedAt), run.ArtifactKey, run.ArtifactURL, run.ChartURL,
		nullString(run.Diagnostic), string(run.ID), string(domain.StatusRunning),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, run.ID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", domain.ErrAlreadyFinished, run.ID)
}

func (r *AnalysisRepository) loadCohorts(ctx context.Context, runs []*domain.AnalysisRun) error {
	if len(runs) == 0 {
		return nil
	}
	byID := make(map[string]*domain.AnalysisRun, len(runs))
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		byID[string(run.ID)] = run
		run.Cohort = []string{}
		ids = append(ids, string(run.ID))
	}
	for _, part := range chunk(ids, inChunk) {
		q := `SELECT run_id, subject_id FROM analysis_run_subjects WHERE run_id IN (` + placeholders(len(part)) + `) ORDER BY run_id, subject_id`
		rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), anySlice(part)...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var runID, subjectID string
			if err := rows.Scan(&runID, &subjectID); err != nil {
				rows.Close()
				return err
			}
			if run, ok := byID[runID]; ok {
				run.Cohort = append(run.Cohort, subjectID)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanRun(row rowScanner) (*domain.AnalysisRun, error) {
	var (
		run                     domain.AnalysisRun
		created                 int64
		finished                sql.NullInt64
		dep, kind, corr, status string
		diag                    sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Name, &created, &finished, &dep, &run.GroupingVariable, &run.Covariate,
		&kind, &corr, &run.Alpha, &status, &run.ArtifactKey, &run.ArtifactURL, &run.ChartURL, &diag); err != nil {
		return nil, err
	}
	run.CreatedAt = fromNanos(created)
	run.FinishedAt = timePtr(finished)
	run.DependentVariable = volumes.Measure(dep)
	run.TestKind = domain.TestKind(kind)
	run.Correction = stats.Correction(corr)
	run.Status = domain.Status(status)
	run.Diagnostic = diag.String
	return &run, nil
}
