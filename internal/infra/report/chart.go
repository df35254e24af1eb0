// Package report renders figures of analysis artifacts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/bryanwahyu/brainvol/internal/domain/analyses"
)

// ErrNothingToPlot is returned for artifacts without tested regions.
var ErrNothingToPlot = errors.New("artifact has no tested regions")

// minP caps -log10(p) for p-values that underflow to zero.
const minP = 1e-16

var (
	significantColor = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	otherColor       = color.RGBA{R: 150, G: 150, B: 150, A: 255}
)

// SignificanceChart draws -log10(corrected p) per tested region as a
// horizontal bar chart with the alpha threshold marked.
type SignificanceChart struct {
	Width vg.Length
}

func (c SignificanceChart) Render(a *analyses.Artifact, path string) error {
	var (
		names     []string
		sig, rest plotter.Values
		maxScore  float64
	)
	for _, r := range a.Regions {
		if r.Status != analyses.RegionTested || r.PCorrected == nil {
			continue
		}
		score := -math.Log10(math.Max(*r.PCorrected, minP))
		maxScore = math.Max(maxScore, score)
		names = append(names, r.Region)
		if r.Significant {
			sig = append(sig, score)
			rest = append(rest, 0)
		} else {
			sig = append(sig, 0)
			rest = append(rest, score)
		}
	}
	if len(names) == 0 {
		return ErrNothingToPlot
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s (%s, %s)", a.Name, a.DependentVariable, a.TestKind, a.Correction)
	p.X.Label.Text = "-log10(corrected p)"
	p.X.Min = 0

	barWidth := vg.Points(8)
	sigBars, err := plotter.NewBarChart(sig, barWidth)
	if err != nil {
		return err
	}
	sigBars.Horizontal = true
	sigBars.Color = significantColor
	sigBars.LineStyle.Width = 0

	restBars, err := plotter.NewBarChart(rest, barWidth)
	if err != nil {
		return err
	}
	restBars.Horizontal = true
	restBars.Color = otherColor
	restBars.LineStyle.Width = 0

	threshold := -math.Log10(a.Alpha)
	line, err := plotter.NewLine(plotter.XYs{
		{X: threshold, Y: -0.5},
		{X: threshold, Y: float64(len(names)) - 0.5},
	})
	if err != nil {
		return err
	}
	line.Color = color.Black
	line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(restBars, sigBars, line)
	p.NominalY(names...)
	p.X.Max = math.Max(maxScore, threshold) * 1.1
	p.Legend.Add(fmt.Sprintf("corrected p < %g", a.Alpha), sigBars)
	p.Legend.Top = true

	width := c.Width
	if width <= 0 {
		width = 8 * vg.Inch
	}
	height := vg.Length(len(names))*vg.Points(12) + 2*vg.Inch
	return p.Save(width, height, path)
}
