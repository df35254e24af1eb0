package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteStats writes the three output tables of a processed subject under
// subjectsDir/<id>/stats. Each subject yields nine measurements: five
// volumes, two thicknesses and two areas.
func WriteStats(t testing.TB, subjectsDir, id string, hippocampus, thickness float64) {
	t.Helper()
	dir := filepath.Join(subjectsDir, id, "stats")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"aseg.stats": fmt.Sprintf(`# subjectname %s
# ColHeaders  Index SegId NVoxels Volume_mm3 StructName
  1  17  4211  %g  Left-Hippocampus
  2  53  4305  %g  Right-Hippocampus
  3  16 20111  20111.0  Brain-Stem
`, id, hippocampus, hippocampus+100),
		"lh.aparc.stats": fmt.Sprintf(`# hemi lh
# ColHeaders StructName NumVert SurfArea GrayVol ThickAvg
bankssts  1450  976  2539  %g
`, thickness),
		"rh.aparc.stats": fmt.Sprintf(`# hemi rh
# ColHeaders StructName NumVert SurfArea GrayVol ThickAvg
bankssts  1400  950  2500  %g
`, thickness+0.1),
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}
