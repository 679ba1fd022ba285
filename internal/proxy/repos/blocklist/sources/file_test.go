package sources

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked_domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("example.com\n"), 0o644))

	s := NewFileSource(path, 0)
	assert.Equal(t, path, s.Name())
	assert.Equal(t, path, s.Path())

	data, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "example.com\n", string(data))
}

func TestFileSource_MissingFileIsEmpty(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "absent.txt"), 0)
	data, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestFileSource_DirectoryIsError(t *testing.T) {
	s := NewFileSource(t.TempDir(), 0)
	_, err := s.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFileSource_SizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("a", 65)), 0o644))

	_, err := NewFileSource(path, 64).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrTooLarge)

	data, err := NewFileSource(path, 65).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, data, 65)
}

func TestFileSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFileSource("whatever", 0).Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
