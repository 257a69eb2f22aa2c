package memory

import (
	"context"
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
		return New()
	})
}

func TestStore_PutMovesCreatedIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := New()
	now := time.Now()
	u := storetest.NewUpload("x", 5, now)
	require.NoError(t, s.Create(ctx, u))

	u.CreatedAt = now.Add(-2 * time.Hour)
	require.NoError(t, s.Put(ctx, u))

	got, err := s.ListStale(ctx, now.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
	assert.Equal(t, 1, s.Len())
}

func TestOpen_Registered(t *testing.T) {
	t.Parallel()

	s, err := metadata.Open(metadata.Config{Type: metadata.TypeMemory})
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*metadata.MetricsStore).Unwrap().(*Store)
	assert.True(t, ok)
}
