package airdata

import "errors"

// Pipeline error taxonomy. Callers match with errors.Is; stages wrap these
// with entity and timestamp context.
var (
	// ErrInsufficientHistory means too few samples exist to build the
	// required window. Recoverable: retried on the next scheduled sweep.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrModelNotTrained means no active model exists for the entity.
	// Surfaced to the caller; training is requested out of band.
	ErrModelNotTrained = errors.New("model not trained")

	// ErrDegenerateDistribution means a zero-variance window. The parametric
	// detector abstains rather than failing the sweep.
	ErrDegenerateDistribution = errors.New("degenerate distribution")

	// ErrUpstreamDataGap means missing measurements beyond the forward-fill
	// bound. Feature building for that timestamp is skipped.
	ErrUpstreamDataGap = errors.New("upstream data gap")

	// ErrTrainingRegression means the new model's holdout metrics fell below
	// the configured minimum. The version is persisted for audit but not
	// activated.
	ErrTrainingRegression = errors.New("training regression")

	// ErrTrainingInFlight means a training run is already active for the
	// entity. The trigger is rejected, not queued.
	ErrTrainingInFlight = errors.New("training already in flight")
)
