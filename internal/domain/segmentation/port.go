package segmentation

import "context"

// Runner port (invokes the external segmentation tool for one subject).
// A non-zero exit, kill or start failure is returned as *SubprocessError.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}
