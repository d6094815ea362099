package reference

import "errors"

var (
	// ErrInvalidLadderConfig marks missing weights or a non-positive
	// conflict threshold.
	ErrInvalidLadderConfig = errors.New("reference: invalid ladder config")
)
