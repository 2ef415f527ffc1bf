package calib

import "errors"

var (
	// ErrInsufficientData is returned when too few lines or points are supplied
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerate is returned for parallel lines or rank-deficient point sets
	ErrDegenerate = errors.New("degenerate geometry")
)
