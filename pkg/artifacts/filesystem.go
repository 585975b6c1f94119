package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAll materializes artifacts as .go files under dir, creating it if
// needed. Each artifact is written to a temporary file first and renamed
// into place so a failed pass never leaves a half-written artifact behind.
func WriteAll(dir string, items []Artifact) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, a := range items {
		name := filepath.Join(dir, a.Key+".go")
		tmp, err := os.CreateTemp(dir, "."+a.Key+".*")
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		if _, err := tmp.WriteString(a.Content); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		if err := os.Rename(tmp.Name(), name); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}

	return nil
}
