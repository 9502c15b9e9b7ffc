// Package figures renders the diagnostic plots of the study pipeline as PNG
// files: predicted trajectories, observed vs fitted, residuals, and the
// per-subject random-effect deviations.
package figures

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/mickeyrice/clinical-trials-analyses/trial"
	"github.com/mickeyrice/clinical-trials-analyses/trial/lme"
)

// ErrBadGrid reports a prediction grid that cannot be plotted.
var ErrBadGrid = errors.New("malformed prediction grid")

var (
	placeboColor = color.RGBA{R: 70, G: 130, B: 180, A: 255}  // steel blue
	drugColor    = color.RGBA{R: 205, G: 92, B: 92, A: 255}   // indian red
	lineColor    = color.RGBA{R: 60, G: 60, B: 60, A: 255}    // dark gray
	pointColor   = color.RGBA{R: 70, G: 130, B: 180, A: 120}  // translucent blue
)

// Grid builds n evenly spaced points spanning [lo, hi].
func Grid(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}

func validateGrid(grid []float64) error {
	if len(grid) == 0 {
		return fmt.Errorf("%w: empty", ErrBadGrid)
	}
	for i, g := range grid {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: non-finite value at index %d", ErrBadGrid, i)
		}
		if i > 0 && g <= grid[i-1] {
			return fmt.Errorf("%w: not strictly increasing at index %d", ErrBadGrid, i)
		}
	}
	return nil
}

func savePlot(p *plot.Plot, path string) error {
	if err := p.Save(7*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	logrus.Debugf("wrote figure %s", path)
	return nil
}

// Trajectories plots each subject's model-predicted mood trajectory over the
// scaled-time grid, holding the subject's observed treatment arm fixed.
// Drug-arm trajectories are drawn in red, placebo in blue.
func Trajectories(m *lme.Model, data *trial.Dataset, grid []float64, path string) error {
	if err := validateGrid(grid); err != nil {
		return err
	}
	arms, err := data.DrugBySubject()
	if err != nil {
		return fmt.Errorf("trajectory plot: %w", err)
	}

	p := plot.New()
	p.Title.Text = "Predicted mood trajectories by subject"
	p.X.Label.Text = "Time (scaled)"
	p.Y.Label.Text = "Predicted mood"

	for subject, arm := range arms {
		pts := make(plotter.XYs, len(grid))
		for i, g := range grid {
			pred, err := m.Predict(map[string]float64{
				"TimeScaled": g,
				"Drug":       float64(arm),
			}, subject)
			if err != nil {
				return fmt.Errorf("trajectory plot, subject %d: %w", subject+1, err)
			}
			pts[i].X = g
			pts[i].Y = pred
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("trajectory plot, subject %d: %w", subject+1, err)
		}
		line.LineStyle.Width = vg.Points(0.5)
		if arm == 1 {
			line.LineStyle.Color = drugColor
		} else {
			line.LineStyle.Color = placeboColor
		}
		p.Add(line)
	}
	return savePlot(p, path)
}

// ObservedVsFitted scatters observed mood against the model's conditional
// fitted values with an identity reference line.
func ObservedVsFitted(m *lme.Model, data *trial.Dataset, path string) error {
	observed, err := data.Column(m.Spec.Response)
	if err != nil {
		return fmt.Errorf("observed-vs-fitted plot: %w", err)
	}
	if len(observed) != len(m.Fitted) {
		return fmt.Errorf("observed-vs-fitted plot: %d observations but %d fitted values",
			len(observed), len(m.Fitted))
	}

	p := plot.New()
	p.Title.Text = "Observed vs fitted mood"
	p.X.Label.Text = "Fitted"
	p.Y.Label.Text = "Observed"

	pts := make(plotter.XYs, len(observed))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := range observed {
		pts[i].X = m.Fitted[i]
		pts[i].Y = observed[i]
		lo = math.Min(lo, math.Min(m.Fitted[i], observed[i]))
		hi = math.Max(hi, math.Max(m.Fitted[i], observed[i]))
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("observed-vs-fitted plot: %w", err)
	}
	scatter.GlyphStyle.Color = pointColor
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)

	identity, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
	if err != nil {
		return fmt.Errorf("observed-vs-fitted plot: %w", err)
	}
	identity.LineStyle.Color = lineColor
	p.Add(identity)

	return savePlot(p, path)
}

// Residuals plots conditional residuals against fitted values with a zero
// reference line.
func Residuals(m *lme.Model, path string) error {
	p := plot.New()
	p.Title.Text = "Residuals vs fitted"
	p.X.Label.Text = "Fitted"
	p.Y.Label.Text = "Residual"

	pts := make(plotter.XYs, len(m.Residuals))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, r := range m.Residuals {
		pts[i].X = m.Fitted[i]
		pts[i].Y = r
		lo = math.Min(lo, m.Fitted[i])
		hi = math.Max(hi, m.Fitted[i])
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("residual plot: %w", err)
	}
	scatter.GlyphStyle.Color = pointColor
	scatter.GlyphStyle.Radius = vg.Points(1.5)
	p.Add(scatter)

	zero, err := plotter.NewLine(plotter.XYs{{X: lo, Y: 0}, {X: hi, Y: 0}})
	if err != nil {
		return fmt.Errorf("residual plot: %w", err)
	}
	zero.LineStyle.Color = lineColor
	p.Add(zero)

	return savePlot(p, path)
}

// RandomEffects plots the sorted per-subject random-effect deviations, one
// panelless caterpillar per effect present in the model.
func RandomEffects(m *lme.Model, path string) error {
	p := plot.New()
	p.Title.Text = "Per-subject random-effect deviations"
	p.X.Label.Text = "Subject (sorted)"
	p.Y.Label.Text = "Deviation"

	add := func(values []float64, c color.Color) error {
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		pts := make(plotter.XYs, len(sorted))
		for i, v := range sorted {
			pts[i].X = float64(i + 1)
			pts[i].Y = v
		}
		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		scatter.GlyphStyle.Color = c
		scatter.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(scatter)
		return nil
	}

	if m.Spec.Random.Intercept {
		values := make([]float64, len(m.Ranef))
		for i, r := range m.Ranef {
			values[i] = r.Intercept
		}
		if err := add(values, placeboColor); err != nil {
			return fmt.Errorf("random-effects plot: %w", err)
		}
	}
	if m.Spec.Random.Slope != "" {
		values := make([]float64, len(m.Ranef))
		for i, r := range m.Ranef {
			values[i] = r.Slope
		}
		if err := add(values, drugColor); err != nil {
			return fmt.Errorf("random-effects plot: %w", err)
		}
	}

	zero, err := plotter.NewLine(plotter.XYs{{X: 1, Y: 0}, {X: float64(len(m.Ranef)), Y: 0}})
	if err != nil {
		return fmt.Errorf("random-effects plot: %w", err)
	}
	zero.LineStyle.Color = lineColor
	p.Add(zero)

	return savePlot(p, path)
}
