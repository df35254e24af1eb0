package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/bryanwahyu/brainvol/internal/domain/leases"
)

type LeaseRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewLeaseRepository(db *sql.DB, d Dialect) *LeaseRepository {
	return &LeaseRepository{db: db, dialect: d}
}

// Acquire inserts a fresh lease or takes over one that is ours or stale.
// Both paths are single statements so two processes cannot both win.
func (r *LeaseRepository) Acquire(ctx context.Context, kind, key, owner string, at, staleBefore time.Time) (bool, error) {
	ins := r.dialect.InsertIgnore("job_leases",
		[]string{"kind", "lease_key", "owner", "heartbeat_at"}, "kind", "lease_key")
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(ins), kind, key, owner, nanos(at))
	if err != nil {
		return false, fmt.Errorf("insert lease %s/%s: %w", kind, key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n > 0 {
		return true, nil
	}

	upd := `UPDATE job_leases SET owner = ?, heartbeat_at = ?
		WHERE kind = ? AND lease_key = ? AND (owner = ? OR heartbeat_at < ?)`
	res, err = r.db.ExecContext(ctx, r.dialect.Rebind(upd),
		owner, nanos(at), kind, key, owner, nanos(staleBefore))
	if err != nil {
		return false, fmt.Errorf("take over lease %s/%s: %w", kind, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *LeaseRepository) Renew(ctx context.Context, kind, key, owner string, at time.Time) error {
	q := `UPDATE job_leases SET heartbeat_at = ? WHERE kind = ? AND lease_key = ? AND owner = ?`
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), nanos(at), kind, key, owner)
	if err != nil {
		return fmt.Errorf("renew lease %s/%s: %w", kind, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s/%s", domain.ErrHeld, kind, key)
	}
	return nil
}

func (r *LeaseRepository) Release(ctx context.Context, kind, key, owner string) error {
	q := `DELETE FROM job_leases WHERE kind = ? AND lease_key = ? AND owner = ?`
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(q), kind, key, owner); err != nil {
		return fmt.Errorf("release lease %s/%s: %w", kind, key, err)
	}
	return nil
}

func (r *LeaseRepository) Get(ctx context.Context, kind, key string) (*domain.Lease, error) {
	q := `SELECT kind, lease_key, owner, heartbeat_at FROM job_leases WHERE kind = ? AND lease_key = ?`
	var l domain.Lease
	var hb int64
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(q), kind, key).Scan(&l.Kind, &l.Key, &l.Owner, &hb)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, kind, key)
	}
	if err != nil {
		return nil, err
	}
	l.HeartbeatAt = fromNanos(hb)
	return &l, nil
}
