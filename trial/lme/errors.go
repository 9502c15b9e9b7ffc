package lme

import "fmt"

// EstimationError reports a fit that could not be completed: the optimizer
// failed, the deviance was not finite anywhere useful, or the fixed-effects
// design is rank deficient.
type EstimationError struct {
	Formula    string
	Reason     string
	Iterations int
}

func (e *EstimationError) Error() string {
	if e.Iterations > 0 {
		return fmt.Sprintf("estimating %q: %s (after %d iterations)", e.Formula, e.Reason, e.Iterations)
	}
	return fmt.Sprintf("estimating %q: %s", e.Formula, e.Reason)
}

// IncompatibleModelsError reports a likelihood-ratio comparison between
// models that cannot be compared.
type IncompatibleModelsError struct {
	Reason string
}

func (e *IncompatibleModelsError) Error() string {
	return "incompatible models: " + e.Reason
}
