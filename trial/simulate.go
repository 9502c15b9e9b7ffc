package trial

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrDegenerateDesign reports generation parameters that cannot produce a
// usable dataset (zero subjects, zero timepoints, negative noise).
var ErrDegenerateDesign = errors.New("degenerate study design")

// GenConfig groups the generative parameters of the synthetic study.
//
// Mood for subject s at timepoint t in arm d is drawn as
//
//	Intercept + TimeCoef*t + DrugCoef*d + InteractionCoef*t*d + N(0, NoiseStd)
//
// with d assigned once per subject from Bernoulli(DrugProb).
type GenConfig struct {
	Subjects        int     // number of subjects (must be > 0)
	Timepoints      int     // timepoints per subject (must be > 0)
	Intercept       float64 // population baseline mood
	TimeCoef        float64 // slope per raw timepoint
	DrugCoef        float64 // treatment main effect
	InteractionCoef float64 // treatment-by-time interaction
	NoiseStd        float64 // residual standard deviation (must be >= 0)
	DrugProb        float64 // arm assignment probability (0 = default 0.5)
}

// Validate checks the design dimensions and noise parameters.
func (c *GenConfig) Validate() error {
	if c.Subjects <= 0 {
		return fmt.Errorf("%w: subjects must be positive, got %d", ErrDegenerateDesign, c.Subjects)
	}
	if c.Timepoints <= 0 {
		return fmt.Errorf("%w: timepoints must be positive, got %d", ErrDegenerateDesign, c.Timepoints)
	}
	if c.NoiseStd < 0 {
		return fmt.Errorf("%w: noise std must be non-negative, got %f", ErrDegenerateDesign, c.NoiseStd)
	}
	if c.DrugProb < 0 || c.DrugProb > 1 {
		return fmt.Errorf("%w: drug probability must be in [0,1], got %f", ErrDegenerateDesign, c.DrugProb)
	}
	return nil
}

// Simulate generates the longitudinal dataset described by cfg.
//
// Rows are emitted subject-major, time-minor, with Time running 1..Timepoints.
// Each subject's treatment arm is drawn exactly once, so the arm is constant
// across that subject's rows. Arm draws and noise draws come from separate
// RNG subsystems, so the dataset is reproducible from (seed, cfg) alone and
// the assignment stream is insensitive to how many noise draws follow it.
func Simulate(cfg GenConfig, rng *PartitionedRNG) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := cfg.DrugProb
	if p == 0 {
		p = 0.5
	}
	arm := distuv.Bernoulli{P: p, Src: rng.ForSubsystem(SubsystemAssignment)}
	noise := distuv.Normal{Mu: 0, Sigma: cfg.NoiseStd, Src: rng.ForSubsystem(SubsystemNoise)}

	rows := make([]Observation, 0, cfg.Subjects*cfg.Timepoints)
	for s := 1; s <= cfg.Subjects; s++ {
		drug := int(arm.Rand())
		for t := 1; t <= cfg.Timepoints; t++ {
			mood := cfg.Intercept +
				cfg.TimeCoef*float64(t) +
				cfg.DrugCoef*float64(drug) +
				cfg.InteractionCoef*float64(t)*float64(drug)
			if cfg.NoiseStd > 0 {
				mood += noise.Rand()
			}
			rows = append(rows, Observation{
				Subject: s,
				Time:    t,
				Drug:    drug,
				Mood:    mood,
			})
		}
	}

	ds, err := NewDataset(rows, cfg.Subjects, cfg.Timepoints)
	if err != nil {
		return nil, fmt.Errorf("assembling dataset: %w", err)
	}
	logrus.Debugf("simulated %d observations (%d subjects x %d timepoints, seed=%d)",
		ds.NumRows(), cfg.Subjects, cfg.Timepoints, rng.Key())
	return ds, nil
}
