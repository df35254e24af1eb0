package segmentation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyProcessing is returned when a job for the subject is in flight.
	ErrAlreadyProcessing = errors.New("subject is already processing")
	// ErrSubprocessFailure matches every *SubprocessError.
	ErrSubprocessFailure = errors.New("segmentation subprocess failed")
)

// SubprocessError describes an abnormal end of the segmentation tool.
type SubprocessError struct {
	SubjectID string
	ExitCode  int // -1 when the process was killed or never started
	TimedOut  bool
	Output    string
	Err       error
}

func (e *SubprocessError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("segmentation of %s timed out", e.SubjectID)
	case e.ExitCode >= 0:
		return fmt.Sprintf("segmentation of %s exited with code %d", e.SubjectID, e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("segmentation of %s: %v", e.SubjectID, e.Err)
	default:
		return fmt.Sprintf("segmentation of %s terminated abnormally", e.SubjectID)
	}
}

func (e *SubprocessError) Is(target error) bool { return target == ErrSubprocessFailure }

func (e *SubprocessError) Unwrap() error { return e.Err }

// Diagnostic is the text kept on the failed subject: the summary line followed by captured output.
func (e *SubprocessError) Diagnostic() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return e.Error()
	}
	return e.Error() + "\n" + out
}
