package subjects

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Status enum
type Status string

const (
	StatusPreprocessed Status = "preprocessed"
	StatusProcessing   Status = "processing"
	StatusProcessed    Status = "processed"
	StatusFailed       Status = "failed"
)

// transitions is the lifecycle graph. failed → processing is the only re-entry path.
var transitions = map[Status][]Status{
	StatusPreprocessed: {StatusProcessing},
	StatusProcessing:   {StatusProcessed, StatusFailed},
	StatusFailed:       {StatusProcessing},
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusPreprocessed, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the graph has an edge from → to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Subject is one raw scan and its derived processing state.
type Subject struct {
	ID           string            `json:"id"`
	FileName     string            `json:"file_name"`
	RawPath      string            `json:"raw_path"`
	Status       Status            `json:"status"`
	Diagnostic   string            `json:"diagnostic,omitempty"`
	Orphaned     bool              `json:"orphaned"`
	OrphanedAt   *time.Time        `json:"orphaned_at,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Features     map[string]string `json:"features,omitempty"`
}

// New builds a freshly discovered subject.
func New(id, fileName, rawPath string, now time.Time) *Subject {
	return &Subject{
		ID:           id,
		FileName:     fileName,
		RawPath:      rawPath,
		Status:       StatusPreprocessed,
		DiscoveredAt: now,
		UpdatedAt:    now,
	}
}

// Transition moves the subject along the lifecycle graph. diagnostic is kept
// only when entering failed.
func (s *Subject) Transition(to Status, diagnostic string, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s → %s (subject %s)", ErrInvalidTransition, s.Status, to, s.ID)
	}
	s.Status = to
	s.Diagnostic = ""
	if to == StatusFailed {
		s.Diagnostic = diagnostic
	}
	s.UpdatedAt = now
	return nil
}

// scanSuffixes are stripped whole; any other name loses only its last extension.
var scanSuffixes = []string{".nii.gz", ".nii", ".mgz", ".mgh"}

// IDFromFileName derives the subject id from a raw file name:
// subjA.nii.gz → subjA, subj.v1.nii → subj.v1.
func IDFromFileName(name string) string {
	lower := strings.ToLower(name)
	for _, suf := range scanSuffixes {
		if strings.HasSuffix(lower, suf) && len(name) > len(suf) {
			return name[:len(name)-len(suf)]
		}
	}
	if ext := filepath.Ext(name); ext != "" && len(name) > len(ext) {
		return name[:len(name)-len(ext)]
	}
	return name
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateID is the single rule for subject ids, applied at ingestion and at
// the API: an ASCII letter or digit, then letters, digits, dot, dash or
// underscore, at most 128 characters.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q (letters, digits, dot, dash, underscore; max 128 chars)", ErrInvalidID, id)
	}
	return nil
}
