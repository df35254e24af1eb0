package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	domain "github.com/bryanwahyu/brainvol/internal/domain/volumes"
)

const inChunk = 500

type MeasurementRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewMeasurementRepository(db *sql.DB, d Dialect) *MeasurementRepository {
	return &MeasurementRepository{db: db, dialect: d}
}

// ReplaceSubject swaps the subject's rows in one transaction.
func (r *MeasurementRepository) ReplaceSubject(ctx context.Context, subjectID string, rows []domain.RegionMeasurement) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM region_measurements WHERE subject_id = ?`), subjectID); err != nil {
		return fmt.Errorf("clear measurements of %s: %w", subjectID, err)
	}

	stmt, err := tx.PrepareContext(ctx, r.dialect.Rebind(`
INSERT INTO region_measurements (subject_id, region, hemisphere, measure, measure_value, source)
VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if m.SubjectID != subjectID {
			return fmt.Errorf("row for %s in batch of %s", m.SubjectID, subjectID)
		}
		if _, err := stmt.ExecContext(ctx, subjectID, m.Region, string(m.Hemisphere), string(m.Measure), m.Value, string(m.Source)); err != nil {
			return fmt.Errorf("insert %s/%s of %s: %w", m.Region, m.Measure, subjectID, err)
		}
	}
	return tx.Commit()
}

func (r *MeasurementRepository) DeleteSubject(ctx context.Context, subjectID string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM region_measurements WHERE subject_id = ?`), subjectID)
	return err
}

// Subjects lists ids with at least one row.
func (r *MeasurementRepository) Subjects(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT subject_id FROM region_measurements ORDER BY subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// List ordered by subject id then region.
func (r *MeasurementRepository) List(ctx context.Context, q domain.Query) ([]domain.RegionMeasurement, error) {
	const base = `SELECT subject_id, region, hemisphere, measure, measure_value, source FROM region_measurements WHERE 1 = 1`
	var filter string
	var args []any
	if q.Measure != "" {
		filter += ` AND measure = ?`
		args = append(args, string(q.Measure))
	}
	const order = ` ORDER BY subject_id, region, measure`

	if len(q.SubjectIDs) == 0 {
		return r.query(ctx, base+filter+order, args)
	}

	ids := append([]string(nil), q.SubjectIDs...)
	sort.Strings(ids)
	var out []domain.RegionMeasurement
	for _, part := range chunk(ids, inChunk) {
		stmt := base + filter + ` AND subject_id IN (` + placeholders(len(part)) + `)` + order
		rows, err := r.query(ctx, stmt, append(append([]any(nil), args...), anySlice(part)...))
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (r *MeasurementRepository) query(ctx context.Context, q string, args []any) ([]domain.RegionMeasurement, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RegionMeasurement
	for rows.Next() {
		var m domain.RegionMeasurement
		var hemi, measure, source string
		if err := rows.Scan(&m.SubjectID, &m.Region, &hemi, &measure, &m.Value, &source); err != nil {
			return nil, err
		}
		m.Hemisphere = domain.Hemisphere(hemi)
		m.Measure = domain.Measure(measure)
		m.Source = domain.TableKind(source)
		out = append(out, m)
	}
	return out, rows.Err()
}
