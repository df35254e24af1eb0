package volumes

import "context"

// Query selects measurements. Empty SubjectIDs means every subject.
type Query struct {
	SubjectIDs []string
	Measure    Measure
}

// Repository port for the merged measurement table.
type Repository interface {
	// ReplaceSubject swaps every row of a subject for rows in one transaction.
	ReplaceSubject(ctx context.Context, subjectID string, rows []RegionMeasurement) error
	DeleteSubject(ctx context.Context, subjectID string) error
	// Subjects lists ids that currently have rows.
	Subjects(ctx context.Context) ([]string, error)
	// List returns rows ordered by subject id then region.
	List(ctx context.Context, q Query) ([]RegionMeasurement, error)
}
