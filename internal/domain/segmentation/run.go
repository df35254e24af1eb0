package segmentation

// RunRequest untuk Runner
type RunRequest struct {
	SubjectID   string
	RawPath     string
	SubjectsDir string
}

// RunResult hasil dari Runner
type RunResult struct {
	ExitCode   int
	Output     string
	DurationMS int64
}
