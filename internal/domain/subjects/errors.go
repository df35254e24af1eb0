package subjects

import "errors"

var (
	// ErrInvalidTransition means the target status is unreachable from the current one.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotFound means no subject has the requested id.
	ErrNotFound = errors.New("subject not found")
	// ErrInvalidID means a subject id breaks the id rule.
	ErrInvalidID = errors.New("invalid subject id")
	// ErrStatusConflict means another writer changed the status between read and write.
	ErrStatusConflict = errors.New("subject status changed concurrently")
)
