package simulation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage resolves per-category output directories under a root.
type Storage struct {
	Root string
}

// DirFor returns Root/category, creating it when needed.
func (s Storage) DirFor(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" || strings.ContainsAny(category, `/\`) || category == "." || category == ".." {
		return "", fmt.Errorf("simulation: invalid storage category %q", category)
	}
	dir := filepath.Join(s.Root, category)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("simulation: create %s: %w", dir, err)
	}
	return dir, nil
}

// FileProducer writes whole files atomically: data goes to a temporary file
// in the target directory which is then renamed over path.
type FileProducer struct{}

func (FileProducer) Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("simulation: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("simulation: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("simulation: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("simulation: close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("simulation: rename %s: %w", path, err)
	}
	return nil
}
