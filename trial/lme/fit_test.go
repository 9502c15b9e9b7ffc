package lme_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/mickeyrice/clinical-trials-analyses/trial"
	"github.com/mickeyrice/clinical-trials-analyses/trial/lme"
)

// mixedParams describes the generative model for test data: fixed effects on
// the scaled-time scale plus per-subject Gaussian random effects.
type mixedParams struct {
	intercept   float64
	timeCoef    float64 // per scaled-time unit
	drugCoef    float64
	interaction float64 // per scaled-time unit
	interceptSD float64 // random intercept sd
	slopeSD     float64 // random slope sd (on scaled time)
	noiseSD     float64
	subjects    int
	timepoints  int
	seed        int64
}

// makeMixedData builds a balanced dataset with known random-effect
// structure. Arms alternate deterministically so each arm holds half the
// subjects.
func makeMixedData(t *testing.T, p mixedParams) *trial.Dataset {
	t.Helper()

	rows := make([]trial.Observation, 0, p.subjects*p.timepoints)
	for s := 1; s <= p.subjects; s++ {
		for tp := 1; tp <= p.timepoints; tp++ {
			rows = append(rows, trial.Observation{Subject: s, Time: tp, Drug: (s - 1) % 2})
		}
	}
	ds, err := trial.NewDataset(rows, p.subjects, p.timepoints)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	if err := ds.ScaleTime(); err != nil {
		t.Fatalf("ScaleTime: %v", err)
	}

	rng := rand.New(rand.NewSource(p.seed))
	for s := 0; s < p.subjects; s++ {
		b0 := p.interceptSD * rng.NormFloat64()
		b1 := p.slopeSD * rng.NormFloat64()
		for tp := 0; tp < p.timepoints; tp++ {
			i := s*p.timepoints + tp
			r := &ds.Rows[i]
			zt := r.TimeScaled
			d := float64(r.Drug)
			r.Mood = p.intercept + p.timeCoef*zt + p.drugCoef*d + p.interaction*zt*d +
				b0 + b1*zt + p.noiseSD*rng.NormFloat64()
		}
	}
	return ds
}

func TestFit_RandomIntercept(t *testing.T) {
	params := mixedParams{
		intercept:   6,
		timeCoef:    1.5,
		drugCoef:    2.5,
		interceptSD: 1.2,
		noiseSD:     0.8,
		subjects:    80,
		timepoints:  6,
		seed:        42,
	}
	data := makeMixedData(t, params)

	m, err := lme.FitFormula("Mood ~ TimeScaled + Drug + (1 | Subject)", data, lme.Options{})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	checkCoef(t, m, "(Intercept)", params.intercept, 0.8)
	checkCoef(t, m, "TimeScaled", params.timeCoef, 0.3)
	checkCoef(t, m, "Drug", params.drugCoef, 1.0)

	if m.Singular {
		t.Errorf("unexpected singular fit: %v", m.Warnings)
	}
	vc := m.VarComps
	if vc.Intercept < 0.5 || vc.Intercept > 3.5 {
		t.Errorf("intercept variance = %.4f, want near %.4f", vc.Intercept, params.interceptSD*params.interceptSD)
	}
	if vc.Residual < 0.3 || vc.Residual > 1.3 {
		t.Errorf("residual variance = %.4f, want near %.4f", vc.Residual, params.noiseSD*params.noiseSD)
	}
	if math.IsNaN(m.LogLik) || math.IsInf(m.LogLik, 0) {
		t.Errorf("logLik = %v", m.LogLik)
	}
	if m.NObs != 480 || m.NGroups != 80 {
		t.Errorf("NObs=%d NGroups=%d, want 480 and 80", m.NObs, m.NGroups)
	}
	if want := m.Deviance + 2*float64(m.NParams); math.Abs(m.AIC-want) > 1e-9 {
		t.Errorf("AIC = %v, want deviance + 2k = %v", m.AIC, want)
	}
}

func TestFit_RandomSlopeModel(t *testing.T) {
	params := mixedParams{
		intercept:   6,
		timeCoef:    1.5,
		drugCoef:    2.5,
		interaction: 1.0,
		interceptSD: 1.0,
		slopeSD:     0.9,
		noiseSD:     0.8,
		subjects:    100,
		timepoints:  6,
		seed:        7,
	}
	data := makeMixedData(t, params)

	m, err := lme.FitFormula("Mood ~ TimeScaled * Drug + (TimeScaled | Subject)", data, lme.Options{})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	checkCoef(t, m, "TimeScaled:Drug", params.interaction, 0.8)
	if m.Singular {
		t.Errorf("unexpected singular fit: %v", m.Warnings)
	}
	vc := m.VarComps
	if !vc.HasIntercept || !vc.HasSlope {
		t.Fatalf("variance components missing: %+v", vc)
	}
	if vc.Slope < 0.2 || vc.Slope > 2.5 {
		t.Errorf("slope variance = %.4f, want near %.4f", vc.Slope, params.slopeSD*params.slopeSD)
	}
	if math.Abs(vc.Corr) > 0.9 {
		t.Errorf("corr = %.4f, generated effects are uncorrelated", vc.Corr)
	}
	if len(m.Ranef) != params.subjects {
		t.Fatalf("Ranef rows = %d, want %d", len(m.Ranef), params.subjects)
	}
}

func TestFit_REMLMatchesMLRoughly(t *testing.T) {
	// REML and ML agree closely on a large balanced design; this guards the
	// REML branch against sign or degrees-of-freedom mistakes.
	data := makeMixedData(t, mixedParams{
		intercept: 6, timeCoef: 1.5, drugCoef: 2.5,
		interceptSD: 1.2, noiseSD: 0.8,
		subjects: 80, timepoints: 6, seed: 3,
	})

	ml, err := lme.FitFormula("Mood ~ TimeScaled + Drug + (1 | Subject)", data, lme.Options{})
	if err != nil {
		t.Fatalf("ML fit: %v", err)
	}
	reml, err := lme.FitFormula("Mood ~ TimeScaled + Drug + (1 | Subject)", data, lme.Options{REML: true})
	if err != nil {
		t.Fatalf("REML fit: %v", err)
	}

	mlDrug, _ := ml.Coef("Drug")
	remlDrug, _ := reml.Coef("Drug")
	if math.Abs(mlDrug.Estimate-remlDrug.Estimate) > 0.05 {
		t.Errorf("ML and REML drug estimates diverge: %.4f vs %.4f", mlDrug.Estimate, remlDrug.Estimate)
	}
	// REML variance estimates are no smaller than ML's on balanced data.
	if reml.VarComps.Residual < ml.VarComps.Residual-1e-6 {
		t.Errorf("REML residual variance %.4f below ML's %.4f", reml.VarComps.Residual, ml.VarComps.Residual)
	}
	if ml.Criterion() != "ML" || reml.Criterion() != "REML" {
		t.Errorf("criterion labels wrong: %q, %q", ml.Criterion(), reml.Criterion())
	}
}

func TestFit_SingularInterceptResolvedBySlopeOnly(t *testing.T) {
	// Zero true intercept variance: the full random-intercept-and-slope
	// model should flag a singular fit, and dropping the intercept must
	// resolve it.
	params := mixedParams{
		intercept:  6,
		timeCoef:   1.5,
		drugCoef:   2.5,
		slopeSD:    1.5,
		noiseSD:    0.7,
		subjects:   120,
		timepoints: 6,
		seed:       11,
	}
	data := makeMixedData(t, params)

	full, err := lme.FitFormula("Mood ~ TimeScaled * Drug + (TimeScaled | Subject)", data, lme.Options{})
	if err != nil {
		t.Fatalf("full fit: %v", err)
	}
	if !full.Singular {
		t.Errorf("full model intercept variance %.6f: expected singular flag", full.VarComps.Intercept)
	}
	if full.VarComps.Intercept > 0.05 {
		t.Errorf("intercept variance = %.4f, want near zero", full.VarComps.Intercept)
	}

	slopeOnly, err := lme.FitFormula("Mood ~ TimeScaled * Drug + (0 + TimeScaled | Subject)", data, lme.Options{})
	if err != nil {
		t.Fatalf("slope-only fit: %v", err)
	}
	if slopeOnly.Singular {
		t.Errorf("slope-only model should not be singular: %v", slopeOnly.Warnings)
	}
	if slopeOnly.VarComps.Slope < 0.5 {
		t.Errorf("slope variance = %.4f, want near %.4f", slopeOnly.VarComps.Slope, params.slopeSD*params.slopeSD)
	}
}

func TestFit_Errors(t *testing.T) {
	data := makeMixedData(t, mixedParams{
		intercept: 6, timeCoef: 1.5, interceptSD: 1, noiseSD: 0.5,
		subjects: 10, timepoints: 4, seed: 1,
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := lme.FitFormula("Mood ~ Dose + (1 | Subject)", data, lme.Options{})
		var estErr *lme.EstimationError
		if !errors.As(err, &estErr) {
			t.Fatalf("err = %v, want *EstimationError", err)
		}
	})

	t.Run("collinear fixed effects", func(t *testing.T) {
		// Time and TimeScaled are affine, so together with the intercept
		// the design is rank deficient.
		_, err := lme.FitFormula("Mood ~ Time + TimeScaled + (1 | Subject)", data, lme.Options{})
		var estErr *lme.EstimationError
		if !errors.As(err, &estErr) {
			t.Fatalf("err = %v, want *EstimationError", err)
		}
	})

	t.Run("unknown grouping factor", func(t *testing.T) {
		_, err := lme.FitFormula("Mood ~ TimeScaled + (1 | Site)", data, lme.Options{})
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestModel_Predict(t *testing.T) {
	data := makeMixedData(t, mixedParams{
		intercept: 6, timeCoef: 1.5, drugCoef: 2.5, interaction: 0.5,
		interceptSD: 1, slopeSD: 0.5, noiseSD: 0.6,
		subjects: 40, timepoints: 6, seed: 5,
	})
	m, err := lme.FitFormula("Mood ~ TimeScaled * Drug + (TimeScaled | Subject)", data, lme.Options{})
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	vals := map[string]float64{"TimeScaled": 0.7, "Drug": 1}

	var want float64
	for _, c := range m.Coefs {
		switch c.Name {
		case "(Intercept)":
			want += c.Estimate
		case "TimeScaled":
			want += c.Estimate * 0.7
		case "Drug":
			want += c.Estimate
		case "TimeScaled:Drug":
			want += c.Estimate * 0.7
		}
	}

	pop, err := m.Predict(vals, -1)
	if err != nil {
		t.Fatalf("population Predict: %v", err)
	}
	if math.Abs(pop-want) > 1e-9 {
		t.Errorf("population prediction = %v, want %v", pop, want)
	}

	subj, err := m.Predict(vals, 3)
	if err != nil {
		t.Fatalf("subject Predict: %v", err)
	}
	re := m.Ranef[3]
	if got := subj - pop; math.Abs(got-(re.Intercept+0.7*re.Slope)) > 1e-9 {
		t.Errorf("subject deviation = %v, want %v", got, re.Intercept+0.7*re.Slope)
	}

	if _, err := m.Predict(vals, len(m.Ranef)); err == nil {
		t.Error("expected error for out-of-range group")
	}
	if _, err := m.Predict(map[string]float64{"Drug": 1}, -1); err == nil {
		t.Error("expected error for missing covariate")
	}
}

// checkCoef asserts a named fixed effect lies within tol of want.
func checkCoef(t *testing.T, m *lme.Model, name string, want, tol float64) {
	t.Helper()
	c, err := m.Coef(name)
	if err != nil {
		t.Fatalf("Coef(%q): %v", name, err)
	}
	if math.Abs(c.Estimate-want) > tol {
		t.Errorf("%s = %.4f (se %.4f), want %.4f +/- %.2f", name, c.Estimate, c.StdErr, want, tol)
	}
	if c.StdErr <= 0 {
		t.Errorf("%s standard error = %v, want positive", name, c.StdErr)
	}
}
