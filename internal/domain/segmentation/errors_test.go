package segmentation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubprocessError(t *testing.T) {
	exit := &SubprocessError{SubjectID: "subjA", ExitCode: 1, Output: "ERROR: talairach failed\n"}
	assert.True(t, errors.Is(exit, ErrSubprocessFailure))
	assert.True(t, errors.Is(fmt.Errorf("job: %w", exit), ErrSubprocessFailure))
	assert.Equal(t, "segmentation of subjA exited with code 1\nERROR: talairach failed", exit.Diagnostic())

	timeout := &SubprocessError{SubjectID: "subjB", ExitCode: -1, TimedOut: true, Err: context.DeadlineExceeded}
	assert.True(t, errors.Is(timeout, context.DeadlineExceeded))
	assert.Equal(t, "segmentation of subjB timed out", timeout.Diagnostic())

	start := &SubprocessError{SubjectID: "subjC", ExitCode: -1, Err: errors.New("exec: not found")}
	assert.Contains(t, start.Error(), "exec: not found")
	assert.False(t, errors.Is(start, ErrAlreadyProcessing))
}
