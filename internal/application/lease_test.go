package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/brainvol/internal/domain/leases"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/brainvol/internal/testutil"
)

func TestLeaserOwnership(t *testing.T) {
	ctx := context.Background()
	repo := sqlstore.NewLeaseRepository(testutil.OpenDB(t), sqlstore.SQLite)
	clock := NewFixedClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	api := &Leaser{Repo: repo, Owner: "api", TTL: time.Minute, Clock: clock}
	cli := &Leaser{Repo: repo, Owner: "cli", TTL: time.Minute, Clock: clock}

	require.NoError(t, api.Acquire(ctx, "segmentation", "subjA"))
	assert.True(t, errors.Is(cli.Acquire(ctx, "segmentation", "subjA"), leases.ErrHeld))

	abandoned, err := cli.Abandoned(ctx, "segmentation", "subjA")
	require.NoError(t, err)
	assert.False(t, abandoned)
	abandoned, err = api.Abandoned(ctx, "segmentation", "subjA")
	require.NoError(t, err)
	assert.True(t, abandoned, "own lease does not block recovery")

	clock.Advance(time.Minute + time.Second)
	abandoned, err = cli.Abandoned(ctx, "segmentation", "subjA")
	require.NoError(t, err)
	assert.True(t, abandoned)
	require.NoError(t, cli.Acquire(ctx, "segmentation", "subjA"))

	cli.Release("segmentation", "subjA")
	abandoned, err = api.Abandoned(ctx, "segmentation", "subjB")
	require.NoError(t, err)
	assert.True(t, abandoned, "missing lease")
}

func TestLeaserKeepRenews(t *testing.T) {
	ctx := context.Background()
	repo := sqlstore.NewLeaseRepository(testutil.OpenDB(t), sqlstore.SQLite)
	clock := NewFixedClock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	api := &Leaser{Repo: repo, Owner: "api", TTL: 30 * time.Millisecond, Clock: clock}
	require.NoError(t, api.Acquire(ctx, "analysis", "run-1"))

	stop := api.Keep("analysis", "run-1")
	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool {
		l, err := repo.Get(ctx, "analysis", "run-1")
		return err == nil && l.HeartbeatAt.Equal(clock.Now())
	}, time.Second, 5*time.Millisecond)
	stop()
}

func TestNilLeaserOwnsNothing(t *testing.T) {
	var l *Leaser
	require.NoError(t, l.Acquire(context.Background(), "segmentation", "subjA"))
	abandoned, err := l.Abandoned(context.Background(), "segmentation", "subjA")
	require.NoError(t, err)
	assert.True(t, abandoned)
	l.Keep("segmentation", "subjA")()
	l.Release("segmentation", "subjA")
}
