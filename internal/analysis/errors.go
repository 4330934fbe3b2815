package analysis

import "errors"

// Error taxonomy of the analysis core. Callers branch on these with
// errors.Is; everything else coming out of an estimator is a wrapped
// numerical failure and counts as an estimation error.
var (
	// ErrInsufficientData means fewer observations than a model's minimum
	// requirement. A data-quality condition, never retried.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrEstimation means a numerical failure during fitting, e.g. a
	// rank-deficient design matrix or an empty post-filter dataset.
	ErrEstimation = errors.New("estimation failed")

	// ErrModelNotFitted means a dependent operation was invoked before its
	// prerequisite fit. A caller contract violation.
	ErrModelNotFitted = errors.New("model not fitted")
)
