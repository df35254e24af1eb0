package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/bryanwahyu/brainvol/internal/domain/subjects"
)

type SubjectRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSubjectRepository(db *sql.DB, d Dialect) *SubjectRepository {
	return &SubjectRepository{db: db, dialect: d}
}

const subjectColumns = `id, file_name, raw_path, status, diagnostic, orphaned, orphaned_at, discovered_at, updated_at`

// Create inserts the subject unless the id exists.
func (r *SubjectRepository) Create(ctx context.Context, s *domain.Subject) (bool, error) {
	q := r.dialect.InsertIgnore("subjects", strings.Split(strings.ReplaceAll(subjectColumns, " ", ""), ","), "id")
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(q),
		s.ID, s.FileName, s.RawPath, string(s.Status), nullString(s.Diagnostic),
		boolInt(s.Orphaned), nullNanos(s.OrphanedAt), nanos(s.DiscoveredAt), nanos(s.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert subject %s: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get by id
func (r *SubjectRepository) Get(ctx context.Context, id string) (*domain.Subject, error) {
	q := `SELECT ` + subjectColumns + ` FROM subjects WHERE id = ?`
	s, err := scanSubject(r.db.QueryRowContext(ctx, r.dialect.Rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return s, err
}

// List ordered by id
func (r *SubjectRepository) List(ctx context.Context, f domain.Filter) ([]*domain.Subject, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if !f.IncludeOrphaned {
		where = append(where, "orphaned = 0")
	}
	q := `SELECT ` + subjectColumns + ` FROM subjects`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Subject
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SubjectRepository) UpdateLocation(ctx context.Context, id, fileName, rawPath string, at time.Time) error {
	const q = `UPDATE subjects SET file_name = ?, raw_path = ?, orphaned = 0, orphaned_at = NULL, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), fileName, rawPath, nanos(at), id)
	if err != nil {
		return err
	}
	return r.expectRow(ctx, res, id, nil)
}

// UpdateStatus is a compare-and-set on the previous status.
func (r *SubjectRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status, diagnostic string, at time.Time) error {
	const q = `UPDATE subjects SET status = ?, diagnostic = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), string(to), nullString(diagnostic), nanos(at), id, string(from))
	if err != nil {
		return err
	}
	return r.expectRow(ctx, res, id, domain.ErrStatusConflict)
}

func (r *SubjectRepository) MarkOrphaned(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE subjects SET orphaned = 1, orphaned_at = ?, updated_at = ? WHERE id = ? AND orphaned = 0`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), nanos(at), nanos(at), id)
	if err != nil {
		return err
	}
	// already orphaned is fine
	return r.expectRow(ctx, res, id, nil)
}

// expectRow maps a zero-row update to ErrNotFound, or to conflict when the row exists.
func (r *SubjectRepository) expectRow(ctx context.Context, res sql.Result, id string, conflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	if conflict != nil {
		return fmt.Errorf("%w: %s", conflict, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*domain.Subject, error) {
	var (
		s          domain.Subject
		status     string
		diag       sql.NullString
		orphaned   int
		orphanedAt sql.NullInt64
		discovered int64
		updated    int64
	)
	if err := row.Scan(&s.ID, &s.FileName, &s.RawPath, &status, &diag, &orphaned, &orphanedAt, &discovered, &updated); err != nil {
		return nil, err
	}
	s.Status = domain.Status(status)
	s.Diagnostic = diag.String
	s.Orphaned = orphaned != 0
	s.OrphanedAt = timePtr(orphanedAt)
	s.DiscoveredAt = fromNanos(discovered)
	s.UpdatedAt = fromNanos(updated)
	return &s, nil
}
