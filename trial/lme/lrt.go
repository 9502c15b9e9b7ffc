package lme

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// LRTResult is the outcome of a likelihood-ratio comparison of two nested
// models fit on the same data.
type LRTResult struct {
	Statistic float64 // 2*(logLik_full - logLik_reduced), clamped at 0
	Df        int     // parameter-count difference
	PValue    float64
	Criterion string // "ML" or "REML" (REML comparisons carry a warning)

	ReducedAIC float64
	FullAIC    float64
	ReducedBIC float64
	FullBIC    float64

	Warnings []string
}

// Compare runs a likelihood-ratio test of reduced against full.
//
// The models must be fit on identical data (checked by fingerprint) and the
// reduced model's fixed effects must nest inside the full model's. Comparing
// a model against itself yields statistic 0 and p-value 1.
func Compare(reduced, full *Model) (*LRTResult, error) {
	if reduced.DataFingerprint() != full.DataFingerprint() {
		return nil, &IncompatibleModelsError{Reason: "models were fit on different data"}
	}
	if !reduced.Spec.NestedIn(full.Spec) {
		return nil, &IncompatibleModelsError{
			Reason: "reduced model fixed effects are not nested in the full model",
		}
	}
	if reduced.REML != full.REML {
		return nil, &IncompatibleModelsError{Reason: "models use different likelihood criteria"}
	}

	res := &LRTResult{
		Df:         full.NParams - reduced.NParams,
		Criterion:  full.Criterion(),
		ReducedAIC: reduced.AIC,
		FullAIC:    full.AIC,
		ReducedBIC: reduced.BIC,
		FullBIC:    full.BIC,
	}
	if res.Df < 0 {
		return nil, &IncompatibleModelsError{
			Reason: "full model has fewer parameters than the reduced model",
		}
	}

	stat := 2 * (full.LogLik - reduced.LogLik)
	if stat < 0 {
		// Numerically identical fits can land epsilon below zero.
		stat = 0
	}
	res.Statistic = stat

	if res.Df == 0 || stat == 0 {
		res.PValue = 1
	} else {
		chi2 := distuv.ChiSquared{K: float64(res.Df)}
		res.PValue = chi2.Survival(stat)
	}

	if full.REML {
		res.Warnings = append(res.Warnings,
			"REML likelihoods are not comparable across fixed-effects structures; refit with ML for a valid test")
	}
	if reduced.Singular || full.Singular {
		res.Warnings = append(res.Warnings, "at least one compared model had a singular fit")
	}
	return res, nil
}
