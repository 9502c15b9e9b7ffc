package lme

// Data is the minimal dataset surface the fitter needs. trial.Dataset
// implements it.
type Data interface {
	// Column returns the named numeric column, one value per observation.
	Column(name string) ([]float64, error)
	// Groups returns 0-based, contiguous group indices for the named
	// grouping factor, one per observation.
	Groups(name string) ([]int, error)
	// NumRows returns the observation count.
	NumRows() int
	// Fingerprint identifies the dataset contents so fitted models can be
	// checked for having used identical data.
	Fingerprint() uint64
}
