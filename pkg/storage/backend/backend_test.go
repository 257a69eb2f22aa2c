// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/zaptus/pkg/compression"
	"github.com/LeeDigitalWorks/zaptus/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegister_CustomType(t *testing.T) {
	t.Parallel()

	customType := types.StorageType("test-custom")

	Register(customType, func(cfg types.BackendConfig) (types.ChunkStore, error) {
		return NewMemoryStorage(), nil
	})

	store, err := New(types.BackendConfig{Type: customType})
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, types.StorageTypeMemory, store.Type())
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(types.BackendConfig{Type: "unknown-type"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage type")
}

func TestNew_LocalRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(types.BackendConfig{Type: types.StorageTypeLocal})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path required")
}

func TestNewPersister(t *testing.T) {
	t.Parallel()

	p, err := NewPersister(types.BackendConfig{})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewPersister(types.BackendConfig{Type: "bogus"})
	require.Error(t, err)

	p, err = NewPersister(types.BackendConfig{Type: types.StorageTypeLibrary, Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "library", p.Name())
}

// ============================================================================
// ChunkStore contract, run against every implementation
// ============================================================================

func chunkStores(t *testing.T) map[string]types.ChunkStore {
	local, err := NewLocal(types.BackendConfig{Type: types.StorageTypeLocal, Path: t.TempDir(), Sync: true})
	require.NoError(t, err)
	return map[string]types.ChunkStore{
		"local":  local,
		"memory": NewMemoryStorage(),
	}
}

func readAll(t *testing.T, s types.ChunkStore, key string, start, end int64) string {
	t.Helper()
	rc, err := s.ReadRange(context.Background(), key, start, end)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestChunkStore_AppendAndRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range chunkStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, "a.bin"))

			n, err := s.WriteAt(ctx, "a.bin", 0, strings.NewReader("hello"))
			require.NoError(t, err)
			assert.Equal(t, int64(5), n)

			n, err = s.WriteAt(ctx, "a.bin", 5, strings.NewReader(" world"))
			require.NoError(t, err)
			assert.Equal(t, int64(11), n)

			size, err := s.Size(ctx, "a.bin")
			require.NoError(t, err)
			assert.Equal(t, int64(11), size)

			assert.Equal(t, "hello world", readAll(t, s, "a.bin", 0, 11))
			assert.Equal(t, "lo w", readAll(t, s, "a.bin", 3, 7))
			require.NoError(t, s.Finalize(ctx, "a.bin"))
		})
	}
}

func TestChunkStore_OffsetMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range chunkStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, "b.bin"))
			_, err := s.WriteAt(ctx, "b.bin", 0, strings.NewReader("abc"))
			require.NoError(t, err)

			tests := []int64{0, 2, 4, 100}
			for _, off := range tests {
				_, err := s.WriteAt(ctx, "b.bin", off, strings.NewReader("x"))
				assert.ErrorIs(t, err, types.ErrOffsetMismatch, "offset %d", off)
			}

			assert.Equal(t, "abc", readAll(t, s, "b.bin", 0, 3))
		})
	}
}

func TestChunkStore_MissingBlob(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range chunkStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.WriteAt(ctx, "missing.bin", 0, strings.NewReader("x"))
			assert.ErrorIs(t, err, types.ErrBlobNotFound)

			_, err = s.Size(ctx, "missing.bin")
			assert.ErrorIs(t, err, types.ErrBlobNotFound)

			_, err = s.ReadRange(ctx, "missing.bin", 0, 1)
			assert.ErrorIs(t, err, types.ErrBlobNotFound)

			// Delete is idempotent
			assert.NoError(t, s.Delete(ctx, "missing.bin"))
		})
	}
}

func TestChunkStore_Truncate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range chunkStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, "t.bin"))
			_, err := s.WriteAt(ctx, "t.bin", 0, strings.NewReader("abcdef"))
			require.NoError(t, err)

			require.NoError(t, s.Truncate(ctx, "t.bin", 2))
			size, err := s.Size(ctx, "t.bin")
			require.NoError(t, err)
			assert.Equal(t, int64(2), size)

			_, err = s.WriteAt(ctx, "t.bin", 2, strings.NewReader("CD"))
			require.NoError(t, err)
			assert.Equal(t, "abCD", readAll(t, s, "t.bin", 0, 4))
		})
	}
}

func TestChunkStore_Concat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range chunkStores(t) {
		t.Run(name, func(t *testing.T) {
			for key, data := range map[string]string{"p1.bin": "AB", "p2.bin": "CD"} {
				require.NoError(t, s.Create(ctx, key))
				_, err := s.WriteAt(ctx, key, 0, strings.NewReader(data))
				require.NoError(t, err)
			}

			n, err := s.Concat(ctx, "final.bin", []string{"p1.bin", "p2.bin"})
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)
			assert.Equal(t, "ABCD", readAll(t, s, "final.bin", 0, 4))

			// Sources untouched
			assert.Equal(t, "AB", readAll(t, s, "p1.bin", 0, 2))
			assert.Equal(t, "CD", readAll(t, s, "p2.bin", 0, 2))

			_, err = s.Concat(ctx, "bad.bin", []string{"p1.bin", "nope.bin"})
			assert.ErrorIs(t, err, types.ErrBlobNotFound)
			_, err = s.Size(ctx, "bad.bin")
			assert.ErrorIs(t, err, types.ErrBlobNotFound)
		})
	}
}

func TestChunkStore_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range chunkStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, "d.bin"))
			require.NoError(t, s.Delete(ctx, "d.bin"))
			_, err := s.Size(ctx, "d.bin")
			assert.ErrorIs(t, err, types.ErrBlobNotFound)
			require.NoError(t, s.Delete(ctx, "d.bin"))
		})
	}
}

// ============================================================================
// Local specifics
// ============================================================================

type failingReader struct {
	data []byte
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestLocal_InterruptedWriteTruncatesBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	s, err := NewLocal(types.BackendConfig{Path: dir})
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, "i.bin"))
	_, err = s.WriteAt(ctx, "i.bin", 0, strings.NewReader("abc"))
	require.NoError(t, err)

	n, err := s.WriteAt(ctx, "i.bin", 3, &failingReader{data: []byte("partial")})
	require.Error(t, err)
	assert.Equal(t, int64(3), n)

	data, err := os.ReadFile(filepath.Join(dir, "i.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestLocal_CancelledContext(t *testing.T) {
	t.Parallel()

	s, err := NewLocal(types.BackendConfig{Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), "c.bin"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := s.WriteAt(ctx, "c.bin", 0, strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), n)
}

func TestLocal_RejectsPathKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := NewLocal(types.BackendConfig{Path: t.TempDir()})
	require.NoError(t, err)

	for _, key := range []string{"", ".", "..", "../escape.bin", "a/b.bin", `a\b.bin`} {
		assert.Error(t, s.Create(ctx, key), "key %q", key)
	}
}

func TestLocal_ConcurrentWritersConsistent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := NewLocal(types.BackendConfig{Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "r.bin"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.WriteAt(ctx, "r.bin", 0, bytes.NewReader([]byte("x"))); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	size, err := s.Size(ctx, "r.bin")
	require.NoError(t, err)
	// Every accepted write appended exactly one byte
	assert.Equal(t, int64(ok), size)
}

// ============================================================================
// Memory specifics
// ============================================================================

func TestMemory_FailAfterKeepsSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := NewMemoryStorage()
	require.NoError(t, m.Create(ctx, "f.bin"))
	m.FailAfter = 2

	n, err := m.WriteAt(ctx, "f.bin", 0, strings.NewReader("abcdef"))
	require.Error(t, err)
	assert.Equal(t, int64(0), n)

	data, ok := m.Bytes("f.bin")
	require.True(t, ok)
	assert.Empty(t, data)

	// Next write succeeds
	_, err = m.WriteAt(ctx, "f.bin", 0, strings.NewReader("abc"))
	require.NoError(t, err)
}

// ============================================================================
// Persisters
// ============================================================================

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\doc.pdf`, "doc.pdf"},
		{"my file.txt", "my-file.txt"},
		{"", "upload"},
		{"...", "upload"},
		{"a\x00b.txt", "ab.txt"},
		{"what?.txt", "what_.txt"},
		// e + combining acute composes to a single rune
		{"cafe\u0301.txt", "caf\u00e9.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 150) // 300 bytes
	out := SanitizeFilename(long)
	assert.LessOrEqual(t, len(out), maxFilenameLength)
	assert.True(t, strings.HasPrefix(long, out))
}

func TestLibrary_Persist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p, err := NewLibrary(types.BackendConfig{Path: dir})
	require.NoError(t, err)

	upload := &types.Upload{
		ID:       "abc123",
		Metadata: types.Metadata{{Key: "filename", Value: "report.pdf"}},
	}

	loc, err := p.Persist(context.Background(), upload, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abc123-report.pdf"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = os.Stat(loc + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLibrary_PersistCompressed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p, err := NewLibrary(types.BackendConfig{Path: dir, Compression: "zstd"})
	require.NoError(t, err)

	payload := strings.Repeat("compress me ", 1000)
	upload := &types.Upload{ID: "z1", Metadata: types.Metadata{{Key: "filename", Value: "notes.txt"}}}
	loc, err := p.Persist(context.Background(), upload, strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "z1-notes.txt.zst"), loc)

	f, err := os.Open(loc)
	require.NoError(t, err)
	defer f.Close()
	r, err := compression.NewReader(compression.ZSTD, f)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestNewPersister_UnknownCompression(t *testing.T) {
	t.Parallel()

	_, err := NewLibrary(types.BackendConfig{Path: t.TempDir(), Compression: "gzip"})
	assert.Error(t, err)
	_, err = NewS3(types.BackendConfig{Bucket: "b", Compression: "gzip"})
	assert.Error(t, err)
}

type fakeS3 struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3_Persist(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{}
	p := &S3{client: fake, bucket: "uploads", prefix: "tus"}

	upload := &types.Upload{
		ID: "id1",
		Metadata: types.Metadata{
			{Key: "filename", Value: "a b.txt"},
			{Key: "filetype", Value: "text/plain"},
		},
	}

	loc, err := p.Persist(context.Background(), upload, strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "s3://uploads/tus/id1-a-b.txt", loc)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "tus/id1-a-b.txt", aws.ToString(in.Key))
	assert.Equal(t, int64(5), aws.ToInt64(in.ContentLength))
	assert.Equal(t, "text/plain", aws.ToString(in.ContentType))
	assert.Equal(t, "hello", string(fake.bodies[0]))
}

func TestS3_PersistCompressed(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{}
	p := &S3{client: fake, bucket: "uploads", algo: compression.S2}

	payload := bytes.Repeat([]byte("s2"), 4096)
	loc, err := p.Persist(context.Background(), &types.Upload{ID: "id2"}, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "s3://uploads/id2-upload.s2", loc)

	in := fake.inputs[0]
	assert.Equal(t, "s2", in.Metadata["compression"])
	assert.Equal(t, int64(len(fake.bodies[0])), aws.ToInt64(in.ContentLength))

	r, err := compression.NewReader(compression.S2, bytes.NewReader(fake.bodies[0]))
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestS3_PersistError(t *testing.T) {
	t.Parallel()

	p := &S3{client: &fakeS3{err: errors.New("denied")}, bucket: "b"}
	_, err := p.Persist(context.Background(), &types.Upload{ID: "x"}, strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "put object")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := NewS3(types.BackendConfig{Type: types.StorageTypeS3})
	require.Error(t, err)
}

// ============================================================================
// Public URL Tests
// ============================================================================

func TestPublicURL(t *testing.T) {
	t.Parallel()

	resolve, err := PublicURL("https://cdn.example.org/media")
	require.NoError(t, err)

	tests := []struct {
		name     string
		location string
		want     string
	}{
		{"not persisted", "", ""},
		{"library", "/srv/library/abc-report.pdf", "https://cdn.example.org/media/abc-report.pdf"},
		{"s3 key with prefix", "s3://bucket/uploads/abc-report.pdf.zst", "https://cdn.example.org/media/uploads/abc-report.pdf.zst"},
		{"s3 without key", "s3://bucket", ""},
		{"escaped", "/srv/library/abc-50%off.txt", "https://cdn.example.org/media/abc-50%25off.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, resolve(&types.Upload{ID: "abc", PermanentLocation: tt.location}))
		})
	}
}

func TestPublicURL_Invalid(t *testing.T) {
	t.Parallel()

	for _, base := range []string{"", "cdn.example.org", "://bad"} {
		_, err := PublicURL(base)
		assert.Error(t, err, base)
	}
}
