package trial

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ErrZeroVariance reports a column whose sample standard deviation is zero,
// which cannot be z-scored.
var ErrZeroVariance = errors.New("zero variance column")

// ZScore standardizes xs to mean 0 and sample standard deviation 1 using the
// empirical moments of the whole slice. A constant input surfaces as an
// explicit error rather than propagating NaN or Inf.
func ZScore(xs []float64) ([]float64, error) {
	if len(xs) == 0 {
		return nil, fmt.Errorf("cannot scale empty column")
	}
	mean, std := stat.MeanStdDev(xs, nil)
	// A single value has an undefined sample standard deviation; MeanStdDev
	// reports it as NaN, which must not leak into the scaled column.
	if std == 0 || math.IsNaN(std) {
		return nil, fmt.Errorf("scaling column with mean %.4f: %w", mean, ErrZeroVariance)
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out, nil
}

// ScaleTime fills TimeScaled for every row from the z-score of the entire
// Time column. The moments are dataset-wide, not per-subject, so identical
// raw timepoints always map to identical scaled values.
func (d *Dataset) ScaleTime() error {
	times, err := d.Column("Time")
	if err != nil {
		return err
	}
	scaled, err := ZScore(times)
	if err != nil {
		return fmt.Errorf("scaling Time: %w", err)
	}
	for i := range d.Rows {
		d.Rows[i].TimeScaled = scaled[i]
	}
	return nil
}

// ScaledTimeFor maps a raw timepoint onto the same z-score scale ScaleTime
// used, so prediction grids line up with the fitted data.
func (d *Dataset) ScaledTimeFor(rawTime float64) (float64, error) {
	times, err := d.Column("Time")
	if err != nil {
		return 0, err
	}
	mean, std := stat.MeanStdDev(times, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, fmt.Errorf("scaling timepoint %.2f: %w", rawTime, ErrZeroVariance)
	}
	return (rawTime - mean) / std, nil
}
