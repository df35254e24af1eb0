package leases

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrHeld means a live lease belongs to another owner.
	ErrHeld = errors.New("lease held by another owner")
	// ErrNotFound means nobody holds the lease.
	ErrNotFound = errors.New("lease not found")
)

// Lease marks a job as owned by one process. The owner proves it is alive
// by moving HeartbeatAt forward.
type Lease struct {
	Kind        string
	Key         string
	Owner       string
	HeartbeatAt time.Time
}

// Expired reports whether the owner has been silent for longer than ttl.
func (l *Lease) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.HeartbeatAt) > ttl
}

// Repository port (shared lease table)
type Repository interface {
	// Acquire takes the lease when it is free, already owned by owner, or its
	// heartbeat is older than staleBefore. acquired is false otherwise.
	Acquire(ctx context.Context, kind, key, owner string, at, staleBefore time.Time) (acquired bool, err error)
	// Renew moves the heartbeat forward; ErrHeld when owner lost the lease.
	Renew(ctx context.Context, kind, key, owner string, at time.Time) error
	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, kind, key, owner string) error
	Get(ctx context.Context, kind, key string) (*Lease, error)
}
