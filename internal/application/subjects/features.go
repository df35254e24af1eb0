package subjects

import (
	"context"
	"errors"
	"fmt"
	"os"

	domain "github.com/bryanwahyu/brainvol/internal/domain/subjects"
)

// FileFeatures loads the features CSV from disk on every call, so edits are
// picked up without a restart. A missing file is an empty table.
type FileFeatures struct {
	Path string
}

func (f FileFeatures) Load(ctx context.Context) (*domain.FeatureTable, error) {
	if f.Path == "" {
		return &domain.FeatureTable{}, nil
	}
	file, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &domain.FeatureTable{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	t, err := domain.ParseFeatures(file)
	if err != nil {
		return nil, fmt.Errorf("features %s: %w", f.Path, err)
	}
	return t, nil
}
