package reconcile

import "errors"

var (
	// ErrEmptyEngineVersion is returned when a fingerprinter is built
	// without a version string.
	ErrEmptyEngineVersion = errors.New("reconcile: empty engine version")

	// ErrInvalidSolverConfig is returned when solver tunables are out of range.
	ErrInvalidSolverConfig = errors.New("reconcile: invalid solver config")

	// ErrInvalidNormalizerConfig is returned when unit ratios are not positive.
	ErrInvalidNormalizerConfig = errors.New("reconcile: invalid normalizer config")

	// ErrEmptyFingerprint marks a line whose fingerprint computation failed.
	// Such lines are skipped for persistence and logged; other lines proceed.
	ErrEmptyFingerprint = errors.New("reconcile: empty line fingerprint")
)
