package figures_test

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/mickeyrice/clinical-trials-analyses/trial"
	"github.com/mickeyrice/clinical-trials-analyses/trial/figures"
	"github.com/mickeyrice/clinical-trials-analyses/trial/lme"
)

// fitSmallStudy builds a 20-subject dataset and fits the interaction model.
func fitSmallStudy(t *testing.T) (*lme.Model, *trial.Dataset) {
	t.Helper()

	const subjects, timepoints = 20, 6
	rows := make([]trial.Observation, 0, subjects*timepoints)
	for s := 1; s <= subjects; s++ {
		for tp := 1; tp <= timepoints; tp++ {
			rows = append(rows, trial.Observation{Subject: s, Time: tp, Drug: (s - 1) % 2})
		}
	}
	ds, err := trial.NewDataset(rows, subjects, timepoints)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	if err := ds.ScaleTime(); err != nil {
		t.Fatalf("ScaleTime: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	for s := 0; s < subjects; s++ {
		b0 := 1.2 * rng.NormFloat64()
		b1 := 0.5 * rng.NormFloat64()
		for tp := 0; tp < timepoints; tp++ {
			r := &ds.Rows[s*timepoints+tp]
			zt := r.TimeScaled
			d := float64(r.Drug)
			r.Mood = 6 + 1.5*zt + 2.5*d + 0.5*zt*d + b0 + b1*zt + 0.7*rng.NormFloat64()
		}
	}

	m, err := lme.FitFormula("Mood ~ TimeScaled * Drug + (TimeScaled | Subject)", ds, lme.Options{})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	return m, ds
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("figure not written: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("figure %s is empty", path)
	}
}

func TestFigures_RenderAll(t *testing.T) {
	m, ds := fitSmallStudy(t)
	dir := t.TempDir()
	grid := figures.Grid(-1.5, 1.5, 50)

	path := filepath.Join(dir, "trajectories.png")
	if err := figures.Trajectories(m, ds, grid, path); err != nil {
		t.Fatalf("Trajectories: %v", err)
	}
	assertPNG(t, path)

	path = filepath.Join(dir, "observed_vs_fitted.png")
	if err := figures.ObservedVsFitted(m, ds, path); err != nil {
		t.Fatalf("ObservedVsFitted: %v", err)
	}
	assertPNG(t, path)

	path = filepath.Join(dir, "residuals.png")
	if err := figures.Residuals(m, path); err != nil {
		t.Fatalf("Residuals: %v", err)
	}
	assertPNG(t, path)

	path = filepath.Join(dir, "random_effects.png")
	if err := figures.RandomEffects(m, path); err != nil {
		t.Fatalf("RandomEffects: %v", err)
	}
	assertPNG(t, path)
}

func TestGrid(t *testing.T) {
	g := figures.Grid(-1, 1, 5)
	want := []float64{-1, -0.5, 0, 0.5, 1}
	if len(g) != len(want) {
		t.Fatalf("len = %d, want %d", len(g), len(want))
	}
	for i := range want {
		if math.Abs(g[i]-want[i]) > 1e-12 {
			t.Errorf("grid[%d] = %v, want %v", i, g[i], want[i])
		}
	}

	if g := figures.Grid(2, 5, 1); len(g) != 1 || g[0] != 2 {
		t.Errorf("single-point grid = %v, want [2]", g)
	}
}

func TestTrajectories_BadGrid(t *testing.T) {
	m, ds := fitSmallStudy(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		grid []float64
	}{
		{"empty", nil},
		{"non-monotonic", []float64{0, 1, 0.5}},
		{"duplicate", []float64{0, 0, 1}},
		{"NaN", []float64{0, math.NaN(), 1}},
		{"Inf", []float64{0, math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := figures.Trajectories(m, ds, tt.grid, filepath.Join(dir, "bad.png"))
			if !errors.Is(err, figures.ErrBadGrid) {
				t.Fatalf("err = %v, want ErrBadGrid", err)
			}
		})
	}
}
