package trial

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ColumnSummary holds descriptive statistics for one dataset column.
type ColumnSummary struct {
	Name   string
	Mean   float64
	Std    float64
	Min    float64
	Median float64
	Max    float64
}

// Percentile computes the p-th percentile of data by linear interpolation
// between order statistics. data need not be sorted.
func Percentile(data []float64, p float64) float64 {
	n := len(data)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, data)
	sort.Float64s(sorted)

	rank := p / 100.0 * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= n {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(rank-float64(lower))
}

// Summarize computes descriptive statistics for the named column.
func (d *Dataset) Summarize(column string) (ColumnSummary, error) {
	xs, err := d.Column(column)
	if err != nil {
		return ColumnSummary{}, err
	}
	mean, std := stat.MeanStdDev(xs, nil)
	return ColumnSummary{
		Name:   column,
		Mean:   mean,
		Std:    std,
		Min:    Percentile(xs, 0),
		Median: Percentile(xs, 50),
		Max:    Percentile(xs, 100),
	}, nil
}
