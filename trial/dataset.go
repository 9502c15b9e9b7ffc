package trial

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
)

// Observation is a single mood measurement for one subject at one timepoint.
type Observation struct {
	Subject    int     // subject identifier, 1-based
	Time       int     // timepoint, 1..Timepoints
	Drug       int     // treatment arm: 1 = drug, 0 = placebo, constant per subject
	Mood       float64 // continuous response
	TimeScaled float64 // z-scored Time, filled by ScaleTime
}

// Dataset is an ordered collection of observations, one row per
// (Subject, Time) pair in subject-major, time-minor order.
type Dataset struct {
	Rows []Observation

	subjects   int
	timepoints int
}

// NewDataset wraps rows generated for the given design dimensions.
func NewDataset(rows []Observation, subjects, timepoints int) (*Dataset, error) {
	if len(rows) != subjects*timepoints {
		return nil, fmt.Errorf("dataset has %d rows, want subjects*timepoints = %d",
			len(rows), subjects*timepoints)
	}
	return &Dataset{Rows: rows, subjects: subjects, timepoints: timepoints}, nil
}

// Subjects returns the number of distinct subjects in the design.
func (d *Dataset) Subjects() int { return d.subjects }

// Timepoints returns the number of timepoints per subject.
func (d *Dataset) Timepoints() int { return d.timepoints }

// NumRows returns the total observation count.
func (d *Dataset) NumRows() int { return len(d.Rows) }

// Column returns the named numeric column as a fresh slice.
// Recognized names: "Mood", "Time", "TimeScaled", "Drug".
func (d *Dataset) Column(name string) ([]float64, error) {
	out := make([]float64, len(d.Rows))
	switch name {
	case "Mood":
		for i, r := range d.Rows {
			out[i] = r.Mood
		}
	case "Time":
		for i, r := range d.Rows {
			out[i] = float64(r.Time)
		}
	case "TimeScaled":
		for i, r := range d.Rows {
			out[i] = r.TimeScaled
		}
	case "Drug":
		for i, r := range d.Rows {
			out[i] = float64(r.Drug)
		}
	default:
		return nil, fmt.Errorf("unknown column %q", name)
	}
	return out, nil
}

// Groups returns the grouping indices for the named factor, currently only
// "Subject". Indices are 0-based and contiguous for use as block offsets.
func (d *Dataset) Groups(name string) ([]int, error) {
	if name != "Subject" {
		return nil, fmt.Errorf("unknown grouping factor %q", name)
	}
	out := make([]int, len(d.Rows))
	for i, r := range d.Rows {
		out[i] = r.Subject - 1
	}
	return out, nil
}

// DrugBySubject returns each subject's treatment arm, indexed by 0-based
// subject. Errors if any subject carries more than one arm across its rows.
func (d *Dataset) DrugBySubject() ([]int, error) {
	arms := make([]int, d.subjects)
	seen := make([]bool, d.subjects)
	for _, r := range d.Rows {
		idx := r.Subject - 1
		if idx < 0 || idx >= d.subjects {
			return nil, fmt.Errorf("subject %d outside design range 1..%d", r.Subject, d.subjects)
		}
		if seen[idx] && arms[idx] != r.Drug {
			return nil, fmt.Errorf("subject %d has inconsistent treatment arms", r.Subject)
		}
		arms[idx] = r.Drug
		seen[idx] = true
	}
	return arms, nil
}

// Fingerprint hashes the response, design columns and grouping so that two
// models can be checked for having been fit on identical data.
func (d *Dataset) Fingerprint() uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeF := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	for _, r := range d.Rows {
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Subject))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Time))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(r.Drug))
		h.Write(buf[:])
		writeF(r.Mood)
		writeF(r.TimeScaled)
	}
	return h.Sum64()
}
