package middleware

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bryanwahyu/brainvol/internal/domain/subjects"
)

// Input validation and sanitization utilities

// ValidateSubjectID applies the same id rule the watcher enforces at ingestion
func ValidateSubjectID(id string) error {
	return subjects.ValidateID(id)
}

// ValidateSubjectIDs validates a batch and rejects an empty one
func ValidateSubjectIDs(ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("subject_ids cannot be empty")
	}
	for _, id := range ids {
		if err := ValidateSubjectID(id); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRunID validates analysis run ID format (UUID)
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid run ID format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
