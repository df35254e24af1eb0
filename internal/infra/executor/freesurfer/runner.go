package freesurfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	domain "github.com/bryanwahyu/brainvol/internal/domain/segmentation"
)

// Mode selects how the tool is launched.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeDocker Mode = "docker"
)

const (
	DefaultCommand     = "recon-all"
	DefaultImage       = "freesurfer/freesurfer:7.4.1"
	DefaultOutputLimit = 64 * 1024

	containerInput    = "/input"
	containerSubjects = "/subjects"
	containerLicense  = "/usr/local/freesurfer/license.txt"
)

// DefaultArgs run the full reconstruction of one scan.
var DefaultArgs = []string{"-i", "{raw}", "-s", "{subject}", "-sd", "{subjects_dir}", "-all"}

// Config of the segmentation tool invocation.
type Config struct {
	Mode           Mode
	Command        string
	Args           []string // placeholders: {raw} {subject} {subjects_dir}
	FreesurferHome string
	Image          string // docker mode
	LicensePath    string // docker mode, bind-mounted read-only
	OutputLimit    int    // bytes of combined output kept (tail)
}

// Runner implements segmentation.Runner with os/exec.
type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if cfg.Mode != ModeLocal && cfg.Mode != ModeDocker {
		return nil, fmt.Errorf("unsupported segmentation mode: %s", cfg.Mode)
	}
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultArgs
	}
	if cfg.Mode == ModeDocker && cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = DefaultOutputLimit
	}
	return &Runner{cfg: cfg}, nil
}

func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (domain.RunResult, error) {
	start := time.Now()
	if err := os.MkdirAll(req.SubjectsDir, 0o755); err != nil {
		return domain.RunResult{ExitCode: -1}, &domain.SubprocessError{SubjectID: req.SubjectID, ExitCode: -1, Err: err}
	}

	cmd, err := r.command(ctx, req)
	if err != nil {
		return domain.RunResult{ExitCode: -1}, &domain.SubprocessError{SubjectID: req.SubjectID, ExitCode: -1, Err: err}
	}
	out := newTailBuffer(r.cfg.OutputLimit)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 5 * time.Second

	err = cmd.Run()
	res := domain.RunResult{Output: out.String(), DurationMS: time.Since(start).Milliseconds()}
	if err == nil {
		return res, nil
	}

	res.ExitCode = -1
	perr := &domain.SubprocessError{SubjectID: req.SubjectID, ExitCode: -1, Output: res.Output, Err: err}
	var ee *exec.ExitError
	switch {
	case ctx.Err() != nil:
		perr.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		perr.Err = ctx.Err()
	case errors.As(err, &ee):
		// ExitCode is -1 when the process was killed by a signal
		res.ExitCode = ee.ExitCode()
		perr.ExitCode = res.ExitCode
	}
	return res, perr
}

// command builds the local or docker invocation for req.
func (r *Runner) command(ctx context.Context, req domain.RunRequest) (*exec.Cmd, error) {
	subjectsDir, err := filepath.Abs(req.SubjectsDir)
	if err != nil {
		return nil, err
	}
	rawPath, err := filepath.Abs(req.RawPath)
	if err != nil {
		return nil, err
	}

	switch r.cfg.Mode {
	case ModeDocker:
		args := []string{"run", "--rm",
			"-v", filepath.Dir(rawPath) + ":" + containerInput + ":ro",
			"-v", subjectsDir + ":" + containerSubjects,
			"-e", "SUBJECTS_DIR=" + containerSubjects,
		}
		if r.cfg.LicensePath != "" {
			args = append(args, "-v", r.cfg.LicensePath+":"+containerLicense+":ro")
		}
		args = append(args, r.cfg.Image, r.cfg.Command)
		args = append(args, expand(r.cfg.Args, req.SubjectID, containerInput+"/"+filepath.Base(rawPath), containerSubjects)...)
		return exec.CommandContext(ctx, "docker", args...), nil

	default:
		cmd := exec.CommandContext(ctx, r.cfg.Command, expand(r.cfg.Args, req.SubjectID, rawPath, subjectsDir)...)
		cmd.Env = append(os.Environ(), "SUBJECTS_DIR="+subjectsDir)
		if r.cfg.FreesurferHome != "" {
			cmd.Env = append(cmd.Env, "FREESURFER_HOME="+r.cfg.FreesurferHome)
		}
		return cmd, nil
	}
}

func expand(args []string, subject, raw, subjectsDir string) []string {
	rep := strings.NewReplacer("{raw}", raw, "{subject}", subject, "{subjects_dir}", subjectsDir)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = rep.Replace(a)
	}
	return out
}
