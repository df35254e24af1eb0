package sqlstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/brainvol/internal/domain/volumes"
)

func row(subject, region string, m domain.Measure, v float64) domain.RegionMeasurement {
	_, hemi := domain.NormalizeRegion("", region)
	return domain.RegionMeasurement{SubjectID: subject, Region: region, Hemisphere: hemi, Measure: m, Value: v, Source: domain.TableAseg}
}

func TestMeasurementReplaceSubject(t *testing.T) {
	ctx := context.Background()
	repo := NewMeasurementRepository(newTestDB(t), SQLite)

	require.NoError(t, repo.ReplaceSubject(ctx, "subjB", []domain.RegionMeasurement{
		row("subjB", "lh_hippocampus", domain.MeasureVolume, 4100),
	}))
	require.NoError(t, repo.ReplaceSubject(ctx, "subjA", []domain.RegionMeasurement{
		row("subjA", "lh_hippocampus", domain.MeasureVolume, 4000),
		row("subjA", "rh_hippocampus", domain.MeasureVolume, 4010),
		row("subjA", "lh_bankssts", domain.MeasureThickness, 2.6),
	}))
	// re-processing overwrites wholesale
	require.NoError(t, repo.ReplaceSubject(ctx, "subjA", []domain.RegionMeasurement{
		row("subjA", "lh_hippocampus", domain.MeasureVolume, 4200),
	}))

	got, err := repo.List(ctx, domain.Query{Measure: domain.MeasureVolume})
	require.NoError(t, err)
	want := []domain.RegionMeasurement{
		row("subjA", "lh_hippocampus", domain.MeasureVolume, 4200),
		row("subjB", "lh_hippocampus", domain.MeasureVolume, 4100),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	ids, err := repo.Subjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"subjA", "subjB"}, ids)

	require.NoError(t, repo.DeleteSubject(ctx, "subjB"))
	ids, err = repo.Subjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"subjA"}, ids)
}

func TestMeasurementReplaceRejectsForeignRows(t *testing.T) {
	ctx := context.Background()
	repo := NewMeasurementRepository(newTestDB(t), SQLite)
	require.NoError(t, repo.ReplaceSubject(ctx, "subjA", []domain.RegionMeasurement{row("subjA", "lh_x", domain.MeasureVolume, 1)}))

	err := repo.ReplaceSubject(ctx, "subjA", []domain.RegionMeasurement{row("subjZ", "lh_x", domain.MeasureVolume, 2)})
	require.Error(t, err)

	got, err := repo.List(ctx, domain.Query{SubjectIDs: []string{"subjA"}})
	require.NoError(t, err)
	require.Len(t, got, 1, "failed replace rolls back")
	assert.Equal(t, 1.0, got[0].Value)
}

func TestMeasurementListBySubjectsChunks(t *testing.T) {
	ctx := context.Background()
	repo := NewMeasurementRepository(newTestDB(t), SQLite)
	var ids []string
	for i := 0; i < inChunk+25; i++ {
		id := fmt.Sprintf("s%04d", i)
		ids = append(ids, id)
		require.NoError(t, repo.ReplaceSubject(ctx, id, []domain.RegionMeasurement{row(id, "bi_brain_stem", domain.MeasureVolume, float64(i))}))
	}
	got, err := repo.List(ctx, domain.Query{SubjectIDs: ids, Measure: domain.MeasureVolume})
	require.NoError(t, err)
	require.Len(t, got, len(ids))
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].SubjectID, got[i].SubjectID)
	}
}
