package analyses

import "errors"

var (
	ErrNotFound           = errors.New("analysis run not found")
	ErrInvalidRequest     = errors.New("invalid analysis request")
	ErrEmptyCohort        = errors.New("analysis cohort is empty")
	ErrDegenerateGrouping = errors.New("grouping variable has fewer than two observed levels")
	ErrInvalidVariable    = errors.New("variable is not usable for the selected test")
	// ErrAlreadyFinished means the run already left the running state.
	ErrAlreadyFinished = errors.New("analysis run already finished")
)
