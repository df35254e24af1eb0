package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/brainvol/internal/application"
	appsubjects "github.com/bryanwahyu/brainvol/internal/application/subjects"
	domain "github.com/bryanwahyu/brainvol/internal/domain/subjects"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/brainvol/internal/testutil"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("nifti"), 0o644))
}

func newWatcher(t *testing.T, dir string) (*Watcher, *appsubjects.Registry) {
	t.Helper()
	reg := &appsubjects.Registry{
		Repo:  sqlstore.NewSubjectRepository(testutil.OpenDB(t), sqlstore.SQLite),
		Clock: application.NewFixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
	}
	return &Watcher{Dir: dir, MarkOrphans: true, Registry: reg}, reg
}

func TestRunOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "subjA.nii.gz"))
	touch(t, filepath.Join(dir, "subjB.nii"))
	touch(t, filepath.Join(dir, ".DS_Store"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "fsaverage"), 0o755))

	w, reg := newWatcher(t, dir)
	rep, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Created)

	list, err := reg.List(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "subjA", list[0].ID)
	assert.Equal(t, "subjA.nii.gz", list[0].FileName)
	assert.Equal(t, domain.StatusPreprocessed, list[0].Status)

	rep, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Changed(), "unchanged directory makes no mutations")
	assert.Equal(t, 2, rep.Unchanged)
}

func TestRunOnceSkipsUnusableNames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"subj 01.nii", "_pilot.nii", "José.nii", "subj.v1.nii", "subj.v2.nii"} {
		touch(t, filepath.Join(dir, name))
	}

	w, reg := newWatcher(t, dir)
	rep, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 3, rep.Failed)

	list, err := reg.List(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2, "versions keep distinct ids")
	assert.Equal(t, "subj.v1", list[0].ID)
	assert.Equal(t, "subj.v2", list[1].ID)

	_, _, err = reg.Upsert(ctx, "subj 01", "subj 01.nii", filepath.Join(dir, "subj 01.nii"))
	assert.True(t, errors.Is(err, domain.ErrInvalidID))
}

func TestRunOnceOrphansAndReappears(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "subjA.nii")
	touch(t, a)
	touch(t, filepath.Join(dir, "subjB.nii"))

	w, reg := newWatcher(t, dir)
	_, err := w.RunOnce(ctx)
	require.NoError(t, err)
	_, err = reg.Transition(ctx, "subjA", domain.StatusProcessing)
	require.NoError(t, err)

	require.NoError(t, os.Remove(a))
	rep, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Orphaned)

	s, err := reg.Get(ctx, "subjA")
	require.NoError(t, err)
	assert.True(t, s.Orphaned)
	assert.Equal(t, domain.StatusProcessing, s.Status, "history kept")

	rep, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Orphaned, "already orphaned")

	touch(t, a)
	rep, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reappeared)
	s, err = reg.Get(ctx, "subjA")
	require.NoError(t, err)
	assert.False(t, s.Orphaned)
	assert.Equal(t, domain.StatusProcessing, s.Status)
}

func TestRunOnceRecursiveWithExtensions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "site1", "subjA.nii.gz"))
	touch(t, filepath.Join(dir, "site2", "subjB.NII"))
	touch(t, filepath.Join(dir, "site2", "notes.txt"))
	touch(t, filepath.Join(dir, ".cache", "subjC.nii"))

	w, reg := newWatcher(t, dir)
	w.Recursive = true
	w.Extensions = []string{".nii", ".nii.gz"}
	rep, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Scanned)

	b, err := reg.Get(ctx, "subjB")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "site2", "subjB.NII"), b.RawPath)
	_, err = reg.Get(ctx, "subjC")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	require.NoError(t, os.Rename(filepath.Join(dir, "site2", "subjB.NII"), filepath.Join(dir, "site1", "subjB.NII")))
	rep, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Moved)
	assert.Zero(t, rep.Orphaned)
}

// flakyRegistry fails Upsert for one id.
type flakyRegistry struct {
	*appsubjects.Registry
	failID string
}

func (f flakyRegistry) Upsert(ctx context.Context, id, fileName, rawPath string) (*domain.Subject, bool, error) {
	if id == f.failID {
		return nil, false, errors.New("disk full")
	}
	return f.Registry.Upsert(ctx, id, fileName, rawPath)
}

func TestRunOnceIsolatesFileFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, n := range []string{"subjA.nii", "subjB.nii", "subjC.nii"} {
		touch(t, filepath.Join(dir, n))
	}
	w, reg := newWatcher(t, dir)
	w.Registry = flakyRegistry{Registry: reg, failID: "subjB"}

	rep, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Created)
	assert.Equal(t, 1, rep.Failed)

	list, err := reg.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestRunOnceMissingDir(t *testing.T) {
	w, _ := newWatcher(t, filepath.Join(t.TempDir(), "absent"))
	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestLastPassRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w, _ := newWatcher(t, dir)

	at, err := w.LastPass()
	assert.True(t, at.IsZero())
	assert.NoError(t, err)

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	at, err = w.LastPass()
	assert.False(t, at.IsZero())
	assert.NoError(t, err)

	w.Dir = filepath.Join(dir, "gone")
	_, err = w.RunOnce(ctx)
	require.Error(t, err)
	_, err = w.LastPass()
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "subjA.nii"))
	w, reg := newWatcher(t, dir)
	w.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := reg.Get(context.Background(), "subjA")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
