package volumes

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/bryanwahyu/brainvol/internal/application"
	"github.com/bryanwahyu/brainvol/internal/domain/subjects"
	domain "github.com/bryanwahyu/brainvol/internal/domain/volumes"
)

// SubjectReader is the read side of the subject registry.
type SubjectReader interface {
	Get(ctx context.Context, id string) (*subjects.Subject, error)
	List(ctx context.Context, f subjects.Filter) ([]*subjects.Subject, error)
}

// Aggregator merges per-subject segmentation tables into the measurement table.
type Aggregator struct {
	Subjects    SubjectReader
	Repo        domain.Repository
	SubjectsDir string
	Logger      *log.Logger

	locks application.KeyedMutex
}

// SubjectFailure is one subject the rebuild could not update.
type SubjectFailure struct {
	SubjectID string `json:"subject_id"`
	Error     string `json:"error"`
}

// RebuildReport summarises RebuildFullTable.
type RebuildReport struct {
	Updated  int              `json:"updated"`
	Rows     int              `json:"rows"`
	Removed  []string         `json:"removed,omitempty"`
	Failures []SubjectFailure `json:"failures,omitempty"`
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// UpdateFromSubject replaces the subject's measurements with the contents of
// its output tables and returns the number of stored rows.
func (a *Aggregator) UpdateFromSubject(ctx context.Context, id string) (int, error) {
	unlock := a.locks.Lock(id)
	defer unlock()

	s, err := a.Subjects.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if s.Status != subjects.StatusProcessed {
		return 0, fmt.Errorf("%w: %s is %s", domain.ErrNotProcessed, id, s.Status)
	}

	statsDir := filepath.Join(a.SubjectsDir, id, "stats")
	for _, t := range domain.ExpectedTables {
		path := filepath.Join(statsDir, t.File)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return 0, fmt.Errorf("%w: %s", domain.ErrMissingOutputTable, path)
			}
			return 0, err
		}
	}

	var (
		rows        []domain.RegionMeasurement
		quarantined int
		seen        = make(map[string]domain.TableKind)
	)
	for _, t := range domain.ExpectedTables {
		path := filepath.Join(statsDir, t.File)
		res, err := domain.ParseStatsFile(t.Kind, id, path)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, q := range res.Quarantined {
			a.logf("aggregate: quarantine subject=%s table=%s line=%d reason=%q", id, q.Source, q.Line, q.Reason)
		}
		quarantined += len(res.Quarantined)
		for _, r := range res.Rows {
			key := r.Region + "/" + string(r.Measure)
			if first, dup := seen[key]; dup {
				quarantined++
				a.logf("aggregate: quarantine subject=%s table=%s region=%s reason=%q", id, r.Source, r.Region, "already reported by "+string(first))
				continue
			}
			seen[key] = r.Source
			rows = append(rows, r)
		}
	}

	if err := a.Repo.ReplaceSubject(ctx, id, rows); err != nil {
		return 0, fmt.Errorf("store measurements of %s: %w", id, err)
	}
	a.logf("aggregate: subject=%s rows=%d quarantined=%d", id, len(rows), quarantined)
	return len(rows), nil
}

// RebuildFullTable drops rows of subjects that are no longer processed and
// refreshes every processed subject. Failures are isolated per subject.
func (a *Aggregator) RebuildFullTable(ctx context.Context) (RebuildReport, error) {
	var rep RebuildReport
	processed, err := a.Subjects.List(ctx, subjects.Filter{Status: subjects.StatusProcessed, IncludeOrphaned: true})
	if err != nil {
		return rep, fmt.Errorf("list processed subjects: %w", err)
	}
	keep := make(map[string]bool, len(processed))
	for _, s := range processed {
		keep[s.ID] = true
	}

	stored, err := a.Repo.Subjects(ctx)
	if err != nil {
		return rep, fmt.Errorf("list measured subjects: %w", err)
	}
	for _, id := range stored {
		if keep[id] {
			continue
		}
		unlock := a.locks.Lock(id)
		err := a.Repo.DeleteSubject(ctx, id)
		unlock()
		if err != nil {
			rep.Failures = append(rep.Failures, SubjectFailure{SubjectID: id, Error: err.Error()})
			continue
		}
		rep.Removed = append(rep.Removed, id)
	}

	for _, s := range processed {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := a.UpdateFromSubject(ctx, s.ID)
		if err != nil {
			a.logf("aggregate: rebuild subject=%s err=%v", s.ID, err)
			rep.Failures = append(rep.Failures, SubjectFailure{SubjectID: s.ID, Error: err.Error()})
			continue
		}
		rep.Updated++
		rep.Rows += n
	}
	a.logf("aggregate: rebuild updated=%d rows=%d removed=%d failed=%d", rep.Updated, rep.Rows, len(rep.Removed), len(rep.Failures))
	return rep, nil
}

// ExportWide writes one CSV row per subject and one column per region for
// measure. Absent values are empty cells.
func (a *Aggregator) ExportWide(ctx context.Context, measure domain.Measure, w io.Writer) error {
	if !measure.Valid() {
		return fmt.Errorf("unknown measure %q", measure)
	}
	rows, err := a.Repo.List(ctx, domain.Query{Measure: measure})
	if err != nil {
		return err
	}

	regionSet := make(map[string]bool)
	var subjectIDs []string
	values := make(map[string]map[string]float64)
	for _, r := range rows {
		regionSet[r.Region] = true
		m, ok := values[r.SubjectID]
		if !ok {
			m = make(map[string]float64)
			values[r.SubjectID] = m
			subjectIDs = append(subjectIDs, r.SubjectID)
		}
		m[r.Region] = r.Value
	}
	regions := make([]string, 0, len(regionSet))
	for r := range regionSet {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	sort.Strings(subjectIDs)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"subject_id"}, regions...)); err != nil {
		return err
	}
	record := make([]string, len(regions)+1)
	for _, id := range subjectIDs {
		record[0] = id
		for i, region := range regions {
			record[i+1] = ""
			if v, ok := values[id][region]; ok {
				record[i+1] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
