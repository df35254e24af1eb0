package volumes

// Measure enum
type Measure string

const (
	MeasureVolume    Measure = "volume"
	MeasureThickness Measure = "thickness"
	MeasureArea      Measure = "area"
)

// Valid reports whether m is a known measure.
func (m Measure) Valid() bool {
	switch m {
	case MeasureVolume, MeasureThickness, MeasureArea:
		return true
	}
	return false
}

// Hemisphere enum; bi marks midline or whole-brain structures.
type Hemisphere string

const (
	HemiLeft  Hemisphere = "lh"
	HemiRight Hemisphere = "rh"
	HemiBoth  Hemisphere = "bi"
)

// TableKind identifies one of the tool's per-subject output tables.
type TableKind string

const (
	TableAseg    TableKind = "aseg"
	TableAparcLH TableKind = "aparc.lh"
	TableAparcRH TableKind = "aparc.rh"
)

// OutputTable is an expected file under <subjects_dir>/<subject>/stats.
type OutputTable struct {
	Kind TableKind
	File string
}

// ExpectedTables lists every table a processed subject must have.
var ExpectedTables = []OutputTable{
	{Kind: TableAseg, File: "aseg.stats"},
	{Kind: TableAparcLH, File: "lh.aparc.stats"},
	{Kind: TableAparcRH, File: "rh.aparc.stats"},
}

// RegionMeasurement is one canonical (subject, region, measure) value.
type RegionMeasurement struct {
	SubjectID  string     `json:"subject_id"`
	Region     string     `json:"region"`
	Hemisphere Hemisphere `json:"hemisphere"`
	Measure    Measure    `json:"measure"`
	Value      float64    `json:"value"`
	Source     TableKind  `json:"source"`
}
