package blobref

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allinone/internal/engine"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	b := engine.NewBlob([]byte("x"), "text/plain")

	h1 := r.Create(b)
	h2 := r.Create(b)
	assert.NotEqual(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "blob:"))
	assert.Equal(t, 2, r.Live())

	got, ok := r.Resolve(h1)
	require.True(t, ok)
	assert.Same(t, b, got)

	r.Revoke(h1)
	r.Revoke(h1)
	r.Revoke("blob:unknown")
	assert.Equal(t, 1, r.Live())

	_, ok = r.Resolve(h1)
	assert.False(t, ok)
}

func TestFileSaverWritesBlob(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	s := &FileSaver{Registry: r, Dir: filepath.Join(dir, "out")}

	h := r.Create(engine.NewBlob([]byte("payload"), "text/plain"))
	path, err := s.Save(context.Background(), h, "../result.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "result.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestFileSaverRejectsRevokedHandle(t *testing.T) {
	r := NewRegistry()
	s := &FileSaver{Registry: r, Dir: t.TempDir()}

	h := r.Create(engine.NewBlob([]byte("x"), "text/plain"))
	r.Revoke(h)

	_, err := s.Save(context.Background(), h, "x.txt")
	assert.Error(t, err)
}

func TestFileSaverKeepsSameNamedResults(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	s := &FileSaver{Registry: r, Dir: dir}
	ctx := context.Background()

	first, err := s.Save(ctx, r.Create(engine.NewBlob([]byte("from a"), "image/jpeg")), "x.jpg")
	require.NoError(t, err)
	second, err := s.Save(ctx, r.Create(engine.NewBlob([]byte("from b"), "image/jpeg")), "x.jpg")
	require.NoError(t, err)
	third, err := s.Save(ctx, r.Create(engine.NewBlob([]byte("from c"), "image/jpeg")), "x.jpg")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "x.jpg"), first)
	assert.Equal(t, filepath.Join(dir, "x_2.jpg"), second)
	assert.Equal(t, filepath.Join(dir, "x_3.jpg"), third)

	for path, want := range map[string]string{first: "from a", second: "from b", third: "from c"} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}
