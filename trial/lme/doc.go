// Package lme fits linear mixed-effects models with a single grouping factor.
//
// # Reading Guide
//
// Start with these three files to understand the estimation engine:
//   - formula.go: lme4-style formula strings parsed into a model Spec
//   - fit.go: profiled ML/REML deviance minimized over the random-effects
//     covariance parameters, exploiting the per-group block structure
//   - model.go: the fitted Model (coefficients, variance components,
//     likelihood, BLUPs) and prediction
//
// # Estimation
//
// For y = Xb + Zu + e with independent groups, the relative covariance of
// the random effects is parameterized by the lower-triangular factor Lambda
// (Cholesky parameterization, lme4 style). For a candidate Lambda the fixed
// effects and the residual variance have closed-form profiled solutions, so
// only the Lambda entries are free parameters; those are minimized with
// Nelder-Mead from gonum/optimize. Every matrix involved is a small
// per-group block, so a deviance evaluation is one Cholesky solve per group.
//
// A variance component collapsing to zero is a singular fit. It is surfaced
// on the Model as a diagnostic, not an error: the model is still usable, the
// caller decides whether to simplify the random-effects structure.
package lme
