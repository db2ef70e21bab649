package domain

import "errors"

// Pipeline failure taxonomy. Stage-local recoverable conditions (missing
// optional column, absent optional model) are defaulted and logged, never
// raised; these sentinels cover conditions that make a stage's output
// meaningless or a persistence path unusable.
var (
	// ErrInputFormat: raw source table unreadable or missing required
	// structure; surfaced immediately, no row is processed.
	ErrInputFormat = errors.New("input format error")

	// ErrInsufficientClasses: training label has fewer than two distinct
	// classes; training aborts with no artifact written.
	ErrInsufficientClasses = errors.New("training label has fewer than two classes")

	// ErrModelApplication: a supplied classifier failed during feature
	// preparation or prediction. The scorer recovers by degrading to
	// heuristic-only scoring rather than aborting the batch.
	ErrModelApplication = errors.New("model application error")

	// ErrExternalSource: third-party dataset import failed (auth, network,
	// not-found); propagated verbatim, pipeline state untouched.
	ErrExternalSource = errors.New("external source error")

	// ErrPersistence: write to feedback/model/report storage failed. The
	// in-memory result already computed is still returned to the caller.
	ErrPersistence = errors.New("persistence error")
)
