package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWritableDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, CheckWritableDir(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, CheckWritableDir(file))
	assert.Error(t, CheckWritableDir(filepath.Join(dir, "missing")))
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("ZAPTUS_TEST_DIR", "/srv/uploads")

	tests := []struct {
		in   string
		want string
	}{
		{"relative/dir", "relative/dir"},
		{"/abs/dir", "/abs/dir"},
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"$ZAPTUS_TEST_DIR/meta", "/srv/uploads/meta"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolvePath(tt.in), tt.in)
	}
}
