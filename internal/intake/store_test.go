package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allinone/internal/blobref"
	"allinone/internal/engine"
	"allinone/pkg/sniff"
)

// countingHandles records every create/revoke so tests can prove each handle
// is released exactly once.
type countingHandles struct {
	mu      sync.Mutex
	next    int
	live    map[string]bool
	created int
	revoked map[string]int
}

func newCountingHandles() *countingHandles {
	return &countingHandles{live: map[string]bool{}, revoked: map[string]int{}}
}

func (c *countingHandles) Create(*engine.Blob) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.created++
	h := fmt.Sprintf("blob:%d", c.next)
	c.live[h] = true
	return h
}

func (c *countingHandles) Revoke(h string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[h]++
	delete(c.live, h)
}

func (c *countingHandles) assertClean(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.live, "leaked handles")
	for h, n := range c.revoked {
		assert.Equal(t, 1, n, "handle %s revoked %d times", h, n)
	}
}

type sizedSource struct {
	name string
	size int64
	data []byte
}

func (s sizedSource) Name() string { return s.name }
func (s sizedSource) Size() int64  { return s.size }
func (s sizedSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

type failingSource struct{ name string }

func (s failingSource) Name() string { return s.name }
func (s failingSource) Size() int64  { return 1 }
func (s failingSource) Open() (io.ReadCloser, error) {
	return nil, errors.New("disk on fire")
}

var pngHeader = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}

func pngSource(name string) Source {
	return FromBytes(name, append([]byte{}, pngHeader...))
}

func pdfSource(name string, size int) Source {
	data := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{' '}, size)...)
	return FromBytes(name, data)
}

func TestAdmitSingleValidPDF(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)

	err := s.Admit(context.Background(), []Source{pdfSource("doc.pdf", 2<<20)}, AdmitConfig{})
	require.NoError(t, err)

	files := s.Files()
	require.Len(t, files, 1)
	assert.Equal(t, StatusIdle, s.Status())
	assert.Equal(t, "application/pdf", files[0].Type)
	assert.Equal(t, sniff.KindPDF, files[0].Kind)
	assert.Empty(t, files[0].Preview, "non-images get no preview")
	assert.NotEmpty(t, files[0].ID)
}

func TestAdmitRejectsOversizedFile(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)

	big := sizedSource{name: "huge.mov", size: 150 << 20}
	err := s.Admit(context.Background(), []Source{big}, AdmitConfig{MaxFileSize: 100 << 20})

	require.Error(t, err)
	e, ok := engine.AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeFileTooLarge, e.Code)
	assert.Equal(t, "huge.mov", e.FileName)
	assert.Empty(t, s.Files())
}

func TestAdmitIsAtomic(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)
	ctx := context.Background()

	require.NoError(t, s.Admit(ctx, []Source{pngSource("keep.png")}, AdmitConfig{Multiple: true}))
	before := s.Files()

	batch := []Source{
		pngSource("a.png"),
		pngSource("b.png"),
		sizedSource{name: "c.png", size: 1000},
		pngSource("d.png"),
	}
	err := s.Admit(ctx, batch, AdmitConfig{Multiple: true, MaxFileSize: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, &engine.Error{Domain: engine.DomainIntake, Code: CodeFileTooLarge})
	e, _ := engine.AsError(err)
	assert.Equal(t, "c.png", e.FileName)

	assert.Equal(t, before, s.Files())
	assert.Equal(t, 1, h.created, "no previews created for a rejected batch")
}

func TestAdmitReadFailureReleasesPartialPreviews(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)

	err := s.Admit(context.Background(), []Source{pngSource("a.png"), failingSource{name: "b.png"}}, AdmitConfig{Multiple: true})
	require.Error(t, err)
	assert.Equal(t, CodeReadFailed, engine.CodeOf(err))
	assert.Empty(t, s.Files())
	h.assertClean(t)
}

func TestAdmitUnderreportedSizeStillBounded(t *testing.T) {
	s := NewStore(newCountingHandles())
	lying := sizedSource{name: "liar.bin", size: 1, data: bytes.Repeat([]byte{1}, 64)}

	err := s.Admit(context.Background(), []Source{lying}, AdmitConfig{MaxFileSize: 32})
	assert.Equal(t, CodeFileTooLarge, engine.CodeOf(err))
	assert.Empty(t, s.Files())
}

func TestAdmitSingleModeKeepsFirst(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)
	ctx := context.Background()

	require.NoError(t, s.Admit(ctx, []Source{pngSource("old.png")}, AdmitConfig{}))
	require.NoError(t, s.Admit(ctx, []Source{pngSource("1.png"), pngSource("2.png"), pngSource("3.png")}, AdmitConfig{Multiple: false}))

	files := s.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "1.png", files[0].Name)
	assert.Equal(t, 1, h.revoked[fmt.Sprintf("blob:%d", 1)], "replaced file preview released")

	s.Reset()
	h.assertClean(t)
}

func TestAdmitMultipleAppendsAndTruncates(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)
	ctx := context.Background()
	cfg := AdmitConfig{Multiple: true, MaxFiles: 3}

	require.NoError(t, s.Admit(ctx, []Source{pngSource("a.png"), pngSource("b.png")}, cfg))
	require.NoError(t, s.Admit(ctx, []Source{pngSource("c.png"), pngSource("d.png")}, cfg))

	var names []string
	for _, f := range s.Files() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, names)
	assert.Len(t, h.live, 3, "truncated file preview released")

	s.Reset()
	h.assertClean(t)
}

func TestAdmitClearsPreviousResult(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)
	ctx := context.Background()

	require.NoError(t, s.Admit(ctx, []Source{pdfSource("a.pdf", 4)}, AdmitConfig{}))
	s.SetResult(engine.NewBlob([]byte("out"), "application/pdf"))
	require.Equal(t, StatusSuccess, s.Status())

	require.NoError(t, s.Admit(ctx, []Source{pdfSource("b.pdf", 4)}, AdmitConfig{}))
	assert.Nil(t, s.Result())
	assert.Equal(t, StatusIdle, s.Status())
	h.assertClean(t)
}

func TestRemoveAndResetReleaseOnce(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)
	ctx := context.Background()

	require.NoError(t, s.Admit(ctx, []Source{pngSource("a.png"), pngSource("b.png"), pdfSource("c.pdf", 1)}, AdmitConfig{Multiple: true}))
	s.SetResult(engine.NewBlob([]byte("r1"), "image/png"))
	s.SetResult(engine.NewBlob([]byte("r2"), "image/png"))

	first := s.Files()[0]
	require.NoError(t, s.Remove(first.ID))
	assert.ErrorIs(t, s.Remove(first.ID), ErrNotFound)
	assert.Equal(t, 1, h.revoked[first.Preview])

	s.Fail(errors.New("x"))
	s.Reset()
	s.Reset()

	assert.Empty(t, s.Files())
	assert.Nil(t, s.Result())
	assert.Equal(t, StatusIdle, s.Status())
	assert.NoError(t, s.Err())
	assert.Zero(t, s.Progress())
	h.assertClean(t)
}

func TestClearKeepsStatus(t *testing.T) {
	h := newCountingHandles()
	s := NewStore(h)

	require.NoError(t, s.Admit(context.Background(), []Source{pngSource("a.png")}, AdmitConfig{}))
	s.Fail(errors.New("engine failed"))
	s.Clear()

	assert.Empty(t, s.Files())
	assert.Equal(t, StatusError, s.Status())
	h.assertClean(t)
}

func TestReorder(t *testing.T) {
	s := NewStore(newCountingHandles())
	srcs := []Source{pdfSource("a.pdf", 1), pdfSource("b.pdf", 1), pdfSource("c.pdf", 1), pdfSource("d.pdf", 1)}
	require.NoError(t, s.Admit(context.Background(), srcs, AdmitConfig{Multiple: true}))

	names := func() []string {
		var out []string
		for _, f := range s.Files() {
			out = append(out, f.Name)
		}
		return out
	}

	require.NoError(t, s.Reorder(0, 2))
	assert.Equal(t, []string{"b.pdf", "c.pdf", "a.pdf", "d.pdf"}, names())

	require.NoError(t, s.Reorder(3, 0))
	assert.Equal(t, []string{"d.pdf", "b.pdf", "c.pdf", "a.pdf"}, names())

	assert.ErrorIs(t, s.Reorder(0, 4), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Reorder(-1, 0), ErrIndexOutOfRange)
	assert.Equal(t, []string{"d.pdf", "b.pdf", "c.pdf", "a.pdf"}, names())
}

func TestDownloadResult(t *testing.T) {
	reg := blobref.NewRegistry()
	s := NewStore(reg)
	saver := &blobref.FileSaver{Registry: reg, Dir: t.TempDir()}
	ctx := context.Background()

	path, err := s.DownloadResult(ctx, "none.pdf", saver)
	require.NoError(t, err)
	assert.Empty(t, path, "no-op without result")

	s.SetResult(engine.NewBlob([]byte("result"), "application/pdf"))
	require.Equal(t, 1, reg.Live())

	path, err = s.DownloadResult(ctx, "out.pdf", saver)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "result", string(data))
	assert.Equal(t, 1, reg.Live(), "transient handle released after save")

	s.Reset()
	assert.Zero(t, reg.Live())
}

func TestCollectWalksAndFilters(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), pngHeader, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.pdf"), []byte("%PDF-1.4\n%%EOF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello there!"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "c.png"), pngHeader, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "d.png"), pngHeader, 0o644))

	srcs, err := Collect(dir, []sniff.Kind{sniff.KindPNG}, filepath.Join(dir, "out"))
	require.NoError(t, err)

	var names []string
	for _, s := range srcs {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"a.png", filepath.Join("nested", "d.png")}, names)

	all, err := Collect(dir, nil, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	single, err := Collect(filepath.Join(dir, "b.pdf"), nil, "")
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "b.pdf", single[0].Name())
}

func TestInterruptOnlyLeavesProcessing(t *testing.T) {
	s := NewStore(newCountingHandles())

	s.SetProcessing()
	s.SetProgress(40)
	s.Interrupt()
	assert.Equal(t, StatusIdle, s.Status())
	assert.Zero(t, s.Progress())

	s.Fail(errors.New("boom"))
	s.Interrupt()
	assert.Equal(t, StatusError, s.Status())
}
