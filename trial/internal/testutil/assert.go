// Package testutil provides shared float-comparison helpers for the trial
// and lme test packages.
package testutil

import (
	"math"
	"testing"
)

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

// AssertWithin fails unless got lies inside [want-tol, want+tol].
func AssertWithin(t *testing.T, name string, want, got, tol float64) {
	t.Helper()
	if math.IsNaN(got) {
		t.Fatalf("%s: got NaN, want %v", name, want)
	}
	if math.Abs(want-got) > tol {
		t.Errorf("%s: got %v, want %v +/- %v", name, got, want, tol)
	}
}

// AssertSlicesClose compares two slices elementwise with absolute tolerance.
func AssertSlicesClose(t *testing.T, name string, want, got []float64, tol float64) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("%s: length mismatch, got %d want %d", name, len(got), len(want))
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol {
			t.Errorf("%s[%d]: got %v, want %v", name, i, got[i], want[i])
			return
		}
	}
}
