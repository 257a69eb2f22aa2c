package tus

import (
	"context"
	"errors"
	"testing"

	"github.com/LeeDigitalWorks/zaptus/pkg/events"
	"github.com/LeeDigitalWorks/zaptus/pkg/metadata"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// partial creates a complete partial upload holding data
func (e *testEnv) partial(t *testing.T, data string) *types.Upload {
	t.Helper()
	u := e.create(t, CreateParams{Length: int64(len(data)), Partial: true})
	if data == "" {
		return u
	}
	got, err := e.append(t, u.ID, 0, data)
	require.NoError(t, err)
	return got
}

func (e *testEnv) mergeAB(t *testing.T) *types.Upload {
	t.Helper()
	a := e.partial(t, "AB")
	b := e.partial(t, "CD")
	u, err := e.h.Concatenate(context.Background(), ConcatParams{Parts: []string{a.ID, b.ID}})
	require.NoError(t, err)
	return u
}

func TestConcatenate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	a := env.partial(t, "AB")
	b := env.partial(t, "CD")

	u, err := env.h.Concatenate(ctx, ConcatParams{
		Parts:    []string{a.ID, b.ID},
		Metadata: types.Metadata{{Key: "filename", Value: "abcd.txt"}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4), u.Length)
	assert.Equal(t, int64(4), u.Offset)
	assert.Equal(t, types.StateMerged, u.State)
	assert.Equal(t, []string{a.ID, b.ID}, u.ConcatParts)
	assert.True(t, u.IsFinal())
	assert.Equal(t, "ABCD", env.bytes(t, u))

	// Parts untouched and marked consumed
	assert.Equal(t, "AB", env.bytes(t, a))
	parts, err := env.store.ListByIDs(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	for _, p := range parts {
		assert.Equal(t, u.ID, p.MergedInto)
	}

	assert.Equal(t, 1, env.events.count(events.KindMerged))
	assert.Equal(t, 2, env.events.count(events.KindComplete), "only the partials fired complete")
}

func TestConcatenate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts func(t *testing.T, env *testEnv) []string
		code  ErrorCode
	}{
		{
			name:  "no parts",
			parts: func(t *testing.T, env *testEnv) []string { return nil },
			code:  ErrCodeConcatenationError,
		},
		{
			name: "incomplete part",
			parts: func(t *testing.T, env *testEnv) []string {
				a := env.partial(t, "AB")
				b := env.create(t, CreateParams{Length: 2, Partial: true})
				return []string{a.ID, b.ID}
			},
			code: ErrCodeConcatenationError,
		},
		{
			name: "not partial",
			parts: func(t *testing.T, env *testEnv) []string {
				a := env.partial(t, "AB")
				b := env.create(t, CreateParams{Length: 2})
				_, err := env.append(t, b.ID, 0, "CD")
				require.NoError(t, err)
				return []string{a.ID, b.ID}
			},
			code: ErrCodeConcatenationError,
		},
		{
			name: "missing part",
			parts: func(t *testing.T, env *testEnv) []string {
				a := env.partial(t, "AB")
				return []string{a.ID, "missing"}
			},
			code: ErrCodeConcatenationError,
		},
		{
			name: "duplicate part",
			parts: func(t *testing.T, env *testEnv) []string {
				a := env.partial(t, "AB")
				return []string{a.ID, a.ID}
			},
			code: ErrCodeConcatenationError,
		},
		{
			name: "over max size",
			parts: func(t *testing.T, env *testEnv) []string {
				a := env.partial(t, "ABCDEF")
				b := env.partial(t, "GHIJKL")
				return []string{a.ID, b.ID}
			},
			code: ErrCodeSizeExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, func(c *Config) { c.MaxSize = 10 })

			_, err := env.h.Concatenate(context.Background(), ConcatParams{Parts: tt.parts(t, env)})
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.code), "got %v", err)
			assert.Equal(t, 0, env.events.count(events.KindMerged), "no final upload")
		})
	}
}

func TestConcatenate_MissingPartWrapsNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	a := env.partial(t, "AB")

	_, err := env.h.Concatenate(context.Background(), ConcatParams{Parts: []string{a.ID, "ghost"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
	assert.Equal(t, "ghost", asError(err).UploadID)
}

func TestConcatenate_PartConsumedOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	a := env.partial(t, "AB")
	b := env.partial(t, "CD")

	_, err := env.h.Concatenate(ctx, ConcatParams{Parts: []string{a.ID, b.ID}})
	require.NoError(t, err)

	_, err = env.h.Concatenate(ctx, ConcatParams{Parts: []string{b.ID, a.ID}})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConcatenationError))
	assert.Contains(t, err.Error(), "already merged")
}

func TestConcatenate_CleanupDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.ConcatCleanup = CleanupDelete })
	ctx := context.Background()
	a := env.partial(t, "AB")
	b := env.partial(t, "CD")

	u, err := env.h.Concatenate(ctx, ConcatParams{Parts: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, "ABCD", env.bytes(t, u))

	for _, id := range []string{a.ID, b.ID} {
		_, err := env.store.Get(ctx, id)
		assert.ErrorIs(t, err, metadata.ErrNotFound)
	}
	_, ok := env.storage.Bytes(a.StoragePath)
	assert.False(t, ok)
	assert.Equal(t, 2, env.events.count(events.KindTerminated))
}

func TestConcatenate_EmptyPartial(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	a := env.partial(t, "")
	b := env.partial(t, "CD")

	u, err := env.h.Concatenate(context.Background(), ConcatParams{Parts: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.Length)
	assert.Equal(t, "CD", env.bytes(t, u))
}

// putFailStore fails Put for one id
type putFailStore struct {
	metadata.Store
	failID string
}

func (s *putFailStore) Put(ctx context.Context, u *types.Upload) error {
	if u.ID == s.failID {
		return errors.New("store unavailable")
	}
	return s.Store.Put(ctx, u)
}

func TestConcatenate_MarkFailureReleasesParts(t *testing.T) {
	t.Parallel()

	fs := &putFailStore{}
	env := newTestEnv(t, func(c *Config) {
		fs.Store = c.Store
		c.Store = fs
	})
	ctx := context.Background()
	a := env.partial(t, "AB")
	b := env.partial(t, "CD")

	fs.failID = b.ID
	_, err := env.h.Concatenate(ctx, ConcatParams{Parts: []string{a.ID, b.ID}})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInternal))
	assert.Equal(t, 0, env.events.count(events.KindMerged))

	parts, err := env.store.ListByIDs(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	for _, part := range parts {
		assert.Empty(t, part.MergedInto, "part %s released", part.ID)
	}

	// Each part is still consumable exactly once
	fs.failID = ""
	u, err := env.h.Concatenate(ctx, ConcatParams{Parts: []string{a.ID, b.ID}})
	require.NoError(t, err)
	assert.Equal(t, "ABCD", env.bytes(t, u))

	_, err = env.h.Concatenate(ctx, ConcatParams{Parts: []string{a.ID, b.ID}})
	assert.True(t, IsCode(err, ErrCodeConcatenationError))
}
