package trial

import (
	"hash/fnv"
	"math/rand"
)

// StudyKey uniquely identifies a reproducible study run.
// Two runs with the same StudyKey and identical generation parameters
// MUST produce bit-for-bit identical datasets.
type StudyKey int64

// NewStudyKey creates a StudyKey from a seed value.
func NewStudyKey(seed int64) StudyKey {
	return StudyKey(seed)
}

const (
	// SubsystemAssignment is the RNG subsystem for treatment-arm assignment.
	SubsystemAssignment = "assignment"

	// SubsystemNoise is the RNG subsystem for Gaussian measurement noise.
	SubsystemNoise = "noise"
)

// PartitionedRNG provides deterministic, isolated RNG streams per subsystem.
//
// Each subsystem draws from its own source seeded with
// masterSeed XOR fnv1a64(subsystemName), so consuming extra draws in one
// subsystem (say, more noise samples) never perturbs another (the arm
// assignments). Not thread-safe; the pipeline is single-goroutine.
type PartitionedRNG struct {
	key        StudyKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a StudyKey.
func NewPartitionedRNG(key StudyKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Key returns the StudyKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() StudyKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
