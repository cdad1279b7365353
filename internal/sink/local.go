package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local writes documents under a base directory, one file per key.
type Local struct {
	dir string
}

// NewLocal builds a filesystem sink rooted at dir.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage.local.dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Put writes data to <dir>/<key>, creating parent directories as needed.
// Keys are slash-separated and must not escape the base directory.
func (l *Local) Put(_ context.Context, key string, data []byte) error {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("invalid sink key %q", key)
	}
	path := filepath.Join(l.dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
