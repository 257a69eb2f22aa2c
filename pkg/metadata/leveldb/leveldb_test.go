package leveldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Conformance(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) metadata.Store {
		s, err := Open(t.TempDir(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "meta")
	s, err := Open(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, storetest.NewUpload("keep", 8, time.Now())))
	_, err = s.CompareAndSwapOffset(ctx, "keep", 0, 3)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Offset)
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("", nil)
	require.Error(t, err)
}
