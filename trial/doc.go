// Package trial provides the synthetic longitudinal study pipeline: dataset
// simulation, covariate scaling, and descriptive summaries.
//
// # Reading Guide
//
// Start with these three files to understand the pipeline:
//   - simulate.go: the generative model (fixed effects plus Gaussian noise)
//     and the per-subject treatment-arm assignment
//   - rng.go: seeded, partitioned RNG streams for reproducible runs
//   - scale.go: whole-column z-scoring of the Time covariate
//
// Model estimation lives in trial/lme and figure rendering in trial/figures;
// this package stays independent of both so the data layer can be tested in
// isolation. trial.Dataset satisfies lme.Data.
package trial
