package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSource reads the blocklist from a local file. A missing file is an
// empty list rather than an error.
type FileSource struct {
	path     string
	maxBytes int64
}

// NewFileSource returns a FileSource for path. maxBytes <= 0 selects DefaultMaxBytes.
func NewFileSource(path string, maxBytes int64) *FileSource {
	return &FileSource{path: filepath.Clean(path), maxBytes: maxBytes}
}

func (s *FileSource) Name() string { return s.path }

// Path is the file location, used by the watch reloader.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", s.path)
	}
	data, err := readAllLimited(f, s.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return data, nil
}
