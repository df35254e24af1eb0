package volumes

import "errors"

var (
	// ErrMissingOutputTable signals registry/filesystem divergence: the subject is processed but a table is absent.
	ErrMissingOutputTable = errors.New("missing output table")
	// ErrNotProcessed means the subject has not finished segmentation.
	ErrNotProcessed = errors.New("subject is not processed")
	// ErrMalformedTable means a stats file lacks its column header or a required column.
	ErrMalformedTable = errors.New("malformed stats table")
)
