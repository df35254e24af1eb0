package volumes

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// QuarantinedRow is a table row rejected at the validation boundary.
type QuarantinedRow struct {
	Source TableKind `json:"source"`
	Line   int       `json:"line"`
	Reason string    `json:"reason"`
}

// ParseResult holds the accepted rows of one table and what was rejected.
type ParseResult struct {
	Rows        []RegionMeasurement
	Quarantined []QuarantinedRow
}

// measureColumns maps table columns to measures, per table kind.
var measureColumns = map[TableKind]map[string]Measure{
	TableAseg: {
		"Volume_mm3": MeasureVolume,
	},
	TableAparcLH: {
		"GrayVol":  MeasureVolume,
		"ThickAvg": MeasureThickness,
		"SurfArea": MeasureArea,
	},
	TableAparcRH: {
		"GrayVol":  MeasureVolume,
		"ThickAvg": MeasureThickness,
		"SurfArea": MeasureArea,
	},
}

// measureUnits maps "# Measure" units to measures; other units are skipped.
var measureUnits = map[string]Measure{
	"mm^3": MeasureVolume,
	"mm":   MeasureThickness,
	"mm^2": MeasureArea,
}

func defaultHemisphere(kind TableKind) Hemisphere {
	switch kind {
	case TableAparcLH:
		return HemiLeft
	case TableAparcRH:
		return HemiRight
	default:
		return HemiBoth
	}
}

// ParseStatsFile opens and parses one output table.
func ParseStatsFile(kind TableKind, subjectID, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseStatsTable(kind, subjectID, f)
}

// ParseStatsTable parses a FreeSurfer .stats table into canonical rows.
func ParseStatsTable(kind TableKind, subjectID string, r io.Reader) (*ParseResult, error) {
	columns, ok := measureColumns[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported table kind: %s", kind)
	}
	p := &tableParser{
		kind:    kind,
		subject: subjectID,
		hemi:    defaultHemisphere(kind),
		columns: columns,
		seen:    make(map[string]bool),
		res:     &ParseResult{},
	}

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			p.comment(line, strings.TrimSpace(strings.TrimPrefix(text, "#")))
			continue
		}
		if err := p.row(line, text); err != nil {
			return nil, err
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if p.header == nil {
		return nil, fmt.Errorf("%w: %s has no ColHeaders line", ErrMalformedTable, kind)
	}
	return p.res, nil
}

type tableParser struct {
	kind    TableKind
	subject string
	hemi    Hemisphere
	columns map[string]Measure

	header  []string
	nameIdx int
	seen    map[string]bool
	res     *ParseResult
}

func (p *tableParser) comment(line int, text string) {
	switch {
	case strings.HasPrefix(text, "ColHeaders"):
		p.header = strings.Fields(strings.TrimPrefix(text, "ColHeaders"))
		p.nameIdx = -1
		for i, h := range p.header {
			if h == "StructName" {
				p.nameIdx = i
			}
		}
	case strings.HasPrefix(text, "Measure "):
		// # Measure <struct>, <name>, <description>, <value>, <unit>
		parts := strings.Split(strings.TrimPrefix(text, "Measure "), ",")
		if len(parts) < 5 {
			return
		}
		unit := strings.TrimSpace(parts[len(parts)-1])
		m, ok := measureUnits[unit]
		if !ok {
			return
		}
		p.add(line, strings.TrimSpace(parts[1]), m, strings.TrimSpace(parts[len(parts)-2]))
	}
}

func (p *tableParser) row(line int, text string) error {
	if p.header == nil {
		p.quarantine(line, "data row before ColHeaders")
		return nil
	}
	if p.nameIdx < 0 {
		return fmt.Errorf("%w: %s has no StructName column", ErrMalformedTable, p.kind)
	}
	fields := strings.Fields(text)
	if len(fields) < len(p.header) {
		p.quarantine(line, fmt.Sprintf("expected %d fields, got %d", len(p.header), len(fields)))
		return nil
	}
	name := fields[p.nameIdx]
	found := false
	for i, h := range p.header {
		m, ok := p.columns[h]
		if !ok {
			continue
		}
		found = true
		p.add(line, name, m, fields[i])
	}
	if !found {
		return fmt.Errorf("%w: %s has no measurement columns", ErrMalformedTable, p.kind)
	}
	return nil
}

func (p *tableParser) add(line int, label string, m Measure, raw string) {
	if label == "" {
		p.quarantine(line, "empty structure name")
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		p.quarantine(line, fmt.Sprintf("invalid %s value %q for %s", m, raw, label))
		return
	}
	region, hemi := NormalizeRegion(p.hemi, label)
	key := region + "/" + string(m)
	if p.seen[key] {
		p.quarantine(line, fmt.Sprintf("duplicate %s for %s", m, region))
		return
	}
	p.seen[key] = true
	p.res.Rows = append(p.res.Rows, RegionMeasurement{
		SubjectID:  p.subject,
		Region:     region,
		Hemisphere: hemi,
		Measure:    m,
		Value:      v,
		Source:     p.kind,
	})
}

func (p *tableParser) quarantine(line int, reason string) {
	p.res.Quarantined = append(p.res.Quarantined, QuarantinedRow{Source: p.kind, Line: line, Reason: reason})
}
