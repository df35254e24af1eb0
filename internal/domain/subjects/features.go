package subjects

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ColumnKind classifies a features column.
type ColumnKind string

const (
	ColumnNumeric     ColumnKind = "numeric"
	ColumnCategorical ColumnKind = "categorical"
)

// Column describes one attribute column of the features table.
type Column struct {
	Name string     `json:"name"`
	Kind ColumnKind `json:"kind"`
}

// QuarantinedRow is a features row rejected at the validation boundary.
type QuarantinedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// FeatureTable holds per-file subject attributes. The first CSV column is the raw file name.
type FeatureTable struct {
	Columns     []Column
	Quarantined []QuarantinedRow

	rows map[string]map[string]string
}

// ParseFeatures reads a features CSV. Rows with an empty file name, a wrong
// field count or a duplicate file name are quarantined, not returned.
func ParseFeatures(r io.Reader) (*FeatureTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &FeatureTable{rows: map[string]map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read features header: %w", err)
	}
	if len(header) < 1 {
		return nil, fmt.Errorf("features header is empty")
	}
	names := make([]string, len(header)-1)
	for i, h := range header[1:] {
		names[i] = strings.TrimSpace(h)
	}

	t := &FeatureTable{rows: make(map[string]map[string]string)}
	line := 1
	for {
		rec, err := cr.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				t.Quarantined = append(t.Quarantined, QuarantinedRow{Line: line, Reason: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("read features: %w", err)
		}
		if len(rec) != len(header) {
			t.Quarantined = append(t.Quarantined, QuarantinedRow{Line: line, Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(rec))})
			continue
		}
		file := strings.TrimSpace(rec[0])
		if file == "" {
			t.Quarantined = append(t.Quarantined, QuarantinedRow{Line: line, Reason: "empty file name"})
			continue
		}
		if _, dup := t.rows[file]; dup {
			t.Quarantined = append(t.Quarantined, QuarantinedRow{Line: line, Reason: "duplicate file name " + file})
			continue
		}
		attrs := make(map[string]string, len(names))
		for i, name := range names {
			if v := strings.TrimSpace(rec[i+1]); v != "" {
				attrs[name] = v
			}
		}
		t.rows[file] = attrs
	}

	t.Columns = make([]Column, len(names))
	for i, name := range names {
		t.Columns[i] = Column{Name: name, Kind: t.inferKind(name)}
	}
	return t, nil
}

// inferKind: numeric when every non-empty value parses as a finite float.
func (t *FeatureTable) inferKind(name string) ColumnKind {
	seen := false
	for _, attrs := range t.rows {
		v, ok := attrs[name]
		if !ok {
			continue
		}
		seen = true
		if _, ok := parseFinite(v); !ok {
			return ColumnCategorical
		}
	}
	if !seen {
		return ColumnCategorical
	}
	return ColumnNumeric
}

// Column looks up a column by name.
func (t *FeatureTable) Column(name string) (Column, bool) {
	if t == nil {
		return Column{}, false
	}
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Lookup returns the attributes of a raw file name.
func (t *FeatureTable) Lookup(fileName string) (map[string]string, bool) {
	if t == nil {
		return nil, false
	}
	attrs, ok := t.rows[fileName]
	return attrs, ok
}

// Numeric returns a numeric attribute of a raw file name.
func (t *FeatureTable) Numeric(fileName, column string) (float64, bool) {
	attrs, ok := t.Lookup(fileName)
	if !ok {
		return 0, false
	}
	v, ok := attrs[column]
	if !ok {
		return 0, false
	}
	return parseFinite(v)
}

// Len is the number of accepted rows.
func (t *FeatureTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
