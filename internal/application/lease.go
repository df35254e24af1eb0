package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bryanwahyu/brainvol/internal/domain/leases"
)

// DefaultLeaseTTL is how long a silent owner keeps a job before others may reclaim it.
const DefaultLeaseTTL = 2 * time.Minute

// Leaser claims jobs in the shared lease table on behalf of this process and
// keeps the claims alive while the jobs run. A nil *Leaser claims nothing and
// treats every job as unowned.
type Leaser struct {
	Repo   leases.Repository
	Owner  string
	TTL    time.Duration
	Clock  Clock
	Logger *log.Logger
}

// NewOwnerID names this process in the lease table.
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.New().String()[:8])
}

func (l *Leaser) ttl() time.Duration {
	if l.TTL <= 0 {
		return DefaultLeaseTTL
	}
	return l.TTL
}

func (l *Leaser) now() time.Time { return ClockOrSystem(l.Clock).Now() }

func (l *Leaser) logf(format string, args ...any) {
	if l.Logger != nil {
		l.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Acquire claims kind/key; leases.ErrHeld when another live owner has it.
func (l *Leaser) Acquire(ctx context.Context, kind, key string) error {
	if l == nil {
		return nil
	}
	now := l.now()
	ok, err := l.Repo.Acquire(ctx, kind, key, l.Owner, now, now.Add(-l.ttl()))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", leases.ErrHeld, kind, key)
	}
	return nil
}

// Keep renews the claim every TTL/3 until the returned stop func is called.
func (l *Leaser) Keep(kind, key string) (stop func()) {
	if l == nil {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(l.ttl() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := l.Repo.Renew(context.Background(), kind, key, l.Owner, l.now()); err != nil {
					l.logf("lease: renew kind=%s key=%s err=%v", kind, key, err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// Release drops the claim. Errors are logged; an unreleased lease expires on its own.
func (l *Leaser) Release(kind, key string) {
	if l == nil {
		return
	}
	if err := l.Repo.Release(context.Background(), kind, key, l.Owner); err != nil {
		l.logf("lease: release kind=%s key=%s err=%v", kind, key, err)
	}
}

// Abandoned reports whether no other process is keeping kind/key alive: the
// lease is missing, ours, or expired.
func (l *Leaser) Abandoned(ctx context.Context, kind, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	lease, err := l.Repo.Get(ctx, kind, key)
	if errors.Is(err, leases.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return lease.Owner == l.Owner || lease.Expired(l.now(), l.ttl()), nil
}
