package volumes

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appsubjects "github.com/bryanwahyu/brainvol/internal/application/subjects"
	"github.com/bryanwahyu/brainvol/internal/domain/subjects"
	domain "github.com/bryanwahyu/brainvol/internal/domain/volumes"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlstore"
	"github.com/bryanwahyu/brainvol/internal/testutil"
)

type fixture struct {
	agg  *Aggregator
	reg  *appsubjects.Registry
	repo *sqlstore.MeasurementRepository
	dir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	reg := &appsubjects.Registry{Repo: sqlstore.NewSubjectRepository(db, sqlstore.SQLite)}
	repo := sqlstore.NewMeasurementRepository(db, sqlstore.SQLite)
	dir := t.TempDir()
	return &fixture{
		agg:  &Aggregator{Subjects: reg, Repo: repo, SubjectsDir: dir},
		reg:  reg,
		repo: repo,
		dir:  dir,
	}
}

// processed registers id and walks it to processed.
func (f *fixture) processed(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.reg.Upsert(ctx, id, id+".nii", "/raw/"+id+".nii")
	require.NoError(t, err)
	_, err = f.reg.Transition(ctx, id, subjects.StatusProcessing)
	require.NoError(t, err)
	_, err = f.reg.Transition(ctx, id, subjects.StatusProcessed)
	require.NoError(t, err)
}

func TestUpdateFromSubject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.processed(t, "subjA")
	testutil.WriteStats(t, f.dir, "subjA", 4000, 2.5)

	n, err := f.agg.UpdateFromSubject(ctx, "subjA")
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	rows, err := f.repo.List(ctx, domain.Query{Measure: domain.MeasureThickness})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "lh_bankssts", rows[0].Region)
	assert.Equal(t, 2.5, rows[0].Value)
	assert.Equal(t, domain.TableAparcRH, rows[1].Source)

	// a second run overwrites instead of appending
	testutil.WriteStats(t, f.dir, "subjA", 4100, 2.5)
	n, err = f.agg.UpdateFromSubject(ctx, "subjA")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	rows, err = f.repo.List(ctx, domain.Query{SubjectIDs: []string{"subjA"}})
	require.NoError(t, err)
	assert.Len(t, rows, 9)
}

func TestUpdateFromSubjectErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, _, err := f.reg.Upsert(ctx, "subjA", "subjA.nii", "/raw/subjA.nii")
	require.NoError(t, err)
	_, err = f.agg.UpdateFromSubject(ctx, "subjA")
	assert.True(t, errors.Is(err, domain.ErrNotProcessed))

	_, err = f.agg.UpdateFromSubject(ctx, "ghost")
	assert.True(t, errors.Is(err, subjects.ErrNotFound))

	f.processed(t, "subjB")
	testutil.WriteStats(t, f.dir, "subjB", 4000, 2.5)
	missing := filepath.Join(f.dir, "subjB", "stats", "rh.aparc.stats")
	require.NoError(t, os.Remove(missing))
	_, err = f.agg.UpdateFromSubject(ctx, "subjB")
	require.True(t, errors.Is(err, domain.ErrMissingOutputTable))
	assert.Contains(t, err.Error(), missing)

	ids, err := f.repo.Subjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "nothing stored on failure")
}

func TestRebuildFullTable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, id := range []string{"subjA", "subjB", "subjC"} {
		f.processed(t, id)
	}
	testutil.WriteStats(t, f.dir, "subjA", 4000, 2.5)
	testutil.WriteStats(t, f.dir, "subjB", 4200, 2.6)

	// stale rows of a subject that has since been re-queued
	require.NoError(t, f.repo.ReplaceSubject(ctx, "subjZ", []domain.RegionMeasurement{{
		SubjectID: "subjZ", Region: "lh_hippocampus", Hemisphere: domain.HemiLeft,
		Measure: domain.MeasureVolume, Value: 1, Source: domain.TableAseg,
	}}))

	rep, err := f.agg.RebuildFullTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Updated)
	assert.Equal(t, 18, rep.Rows)
	assert.Equal(t, []string{"subjZ"}, rep.Removed)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "subjC", rep.Failures[0].SubjectID)

	ids, err := f.repo.Subjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"subjA", "subjB"}, ids)
}

func TestExportWide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, id := range []string{"subjB", "subjA"} {
		f.processed(t, id)
	}
	testutil.WriteStats(t, f.dir, "subjA", 4000, 2.5)
	testutil.WriteStats(t, f.dir, "subjB", 4200.5, 2.6)
	_, err := f.agg.RebuildFullTable(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.agg.ExportWide(ctx, domain.MeasureVolume, &buf))
	want := "subject_id,bi_brain_stem,lh_bankssts,lh_hippocampus,rh_bankssts,rh_hippocampus\n" +
		"subjA,20111,2539,4000,2500,4100\n" +
		"subjB,20111,2539,4200.5,2500,4300.5\n"
	assert.Equal(t, want, buf.String())

	assert.Error(t, f.agg.ExportWide(ctx, "weight", &buf))
}
