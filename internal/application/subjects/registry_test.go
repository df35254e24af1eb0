package subjects

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/brainvol/internal/application"
	domain "github.com/bryanwahyu/brainvol/internal/domain/subjects"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/brainvol/internal/testutil"
)

func newRegistry(t *testing.T) (*Registry, *application.FixedClock) {
	t.Helper()
	clock := application.NewFixedClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return &Registry{
		Repo:  sqlstore.NewSubjectRepository(testutil.OpenDB(t), sqlstore.SQLite),
		Clock: clock,
	}, clock
}

func TestUpsertKeepsStatus(t *testing.T) {
	ctx := context.Background()
	reg, clock := newRegistry(t)

	s, created, err := reg.Upsert(ctx, "subjA", "subjA.nii.gz", "/raw/subjA.nii.gz")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusPreprocessed, s.Status)

	_, err = reg.Transition(ctx, "subjA", domain.StatusProcessing)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	s, created, err = reg.Upsert(ctx, "subjA", "subjA.nii.gz", "/raw/subjA.nii.gz")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, domain.StatusProcessing, s.Status, "re-registration never resets status")

	s, _, err = reg.Upsert(ctx, "subjA", "subjA.nii.gz", "/raw/moved/subjA.nii.gz")
	require.NoError(t, err)
	assert.Equal(t, "/raw/moved/subjA.nii.gz", s.RawPath)

	stored, err := reg.Get(ctx, "subjA")
	require.NoError(t, err)
	assert.Equal(t, "/raw/moved/subjA.nii.gz", stored.RawPath)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
}

func TestUpsertClearsOrphan(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)

	_, _, err := reg.Upsert(ctx, "subjA", "subjA.nii", "/raw/subjA.nii")
	require.NoError(t, err)
	require.NoError(t, reg.MarkOrphaned(ctx, "subjA"))

	visible, err := reg.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Empty(t, visible)

	s, created, err := reg.Upsert(ctx, "subjA", "subjA.nii", "/raw/subjA.nii")
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, s.Orphaned)

	visible, err = reg.List(ctx, domain.Filter{})
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestTransitionGraph(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	_, _, err := reg.Upsert(ctx, "subjA", "subjA.nii", "/raw/subjA.nii")
	require.NoError(t, err)

	_, err = reg.Transition(ctx, "subjA", domain.StatusProcessed)
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	_, err = reg.Transition(ctx, "ghost", domain.StatusProcessing)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = reg.Transition(ctx, "subjA", domain.StatusProcessing)
	require.NoError(t, err)
	s, err := reg.Fail(ctx, "subjA", "recon-all exited with ERRORS")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, s.Status)

	stored, err := reg.Get(ctx, "subjA")
	require.NoError(t, err)
	assert.Equal(t, "recon-all exited with ERRORS", stored.Diagnostic)

	s, err = reg.Transition(ctx, "subjA", domain.StatusProcessing)
	require.NoError(t, err, "failed subjects can be retried")
	assert.Empty(t, s.Diagnostic)
}

func TestConcurrentTransitionsSerialise(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	_, _, err := reg.Upsert(ctx, "subjA", "subjA.nii", "/raw/subjA.nii")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Transition(ctx, "subjA", domain.StatusProcessing)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, domain.ErrInvalidTransition) {
				fail++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, fail)
}

func TestFeaturesAttachByFileName(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t)
	path := filepath.Join(t.TempDir(), "users_features.csv")
	require.NoError(t, os.WriteFile(path, []byte("file_name,gender,age\nsubjA.nii.gz,F,61\nsubjB.nii.gz,M,70\n"), 0o644))
	reg.Features = FileFeatures{Path: path}

	for _, name := range []string{"subjA.nii.gz", "subjC.nii.gz"} {
		_, _, err := reg.Upsert(ctx, domain.IDFromFileName(name), name, "/raw/"+name)
		require.NoError(t, err)
	}
	table, err := reg.LoadFeatures(ctx)
	require.NoError(t, err)
	list, err := reg.List(ctx, domain.Filter{})
	require.NoError(t, err)

	list = WithFeatures(list, table)
	require.Len(t, list, 2)
	assert.Equal(t, map[string]string{"gender": "F", "age": "61"}, list[0].Features)
	assert.Nil(t, list[1].Features)
}

func TestFileFeaturesMissingFile(t *testing.T) {
	table, err := FileFeatures{Path: filepath.Join(t.TempDir(), "absent.csv")}.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, table.Len())
}
