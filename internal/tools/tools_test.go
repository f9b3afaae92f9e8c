package tools

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allinone/internal/blobref"
	"allinone/internal/engine"
	"allinone/internal/engine/pdf"
	"allinone/internal/engine/pdf/pdftest"
	"allinone/internal/intake"
	"allinone/internal/staged"
	"allinone/pkg/sniff"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	m := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			m.Set(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, m))
	return buf.Bytes()
}

func newSession(t *testing.T, tool *Tool, reg *blobref.Registry) *Session {
	t.Helper()
	s, err := NewSession(tool, Env{Log: zerolog.Nop()}, reg, SessionConfig{
		Staged: staged.NoDelay(staged.Config{Stages: tool.Stages}),
	})
	require.NoError(t, err)
	return s
}

func lookup(t *testing.T, id string) *Tool {
	t.Helper()
	tool, ok := Default().Lookup(id)
	require.True(t, ok, id)
	return tool
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams([]string{"Format=jpeg", " quality = 80 ", "empty="})
	require.NoError(t, err)
	assert.Equal(t, Params{"format": "jpeg", "quality": "80", "empty": ""}, p)
	assert.Equal(t, []string{"empty", "format", "quality"}, p.Keys())

	_, err = ParseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestParamReader(t *testing.T) {
	r := Params{"n": "3", "f": "0.5", "b": "true", "d": "1.5", "g": "250ms", "empty": ""}.reader(engine.DomainImage)
	assert.Equal(t, 3, r.Int("n", 0))
	assert.Equal(t, 0.5, r.Float("f", 0))
	assert.True(t, r.Bool("b", false))
	assert.Equal(t, 1500*time.Millisecond, r.Duration("d", 0))
	assert.Equal(t, 250*time.Millisecond, r.Duration("g", 0))
	assert.Equal(t, "def", r.String("empty", "def"))
	assert.Equal(t, 7, r.Int("missing", 7))
	require.NoError(t, r.Err())

	r = Params{"n": "x", "f": "y"}.reader(engine.DomainPDF)
	assert.Equal(t, 1, r.Int("n", 1))
	r.Float("f", 0)
	err := r.Err()
	require.Error(t, err)
	assert.Equal(t, CodeInvalidOptions, engine.CodeOf(err))
	assert.Contains(t, err.Error(), `n="x"`, "first failure wins")
}

func TestDefaultRegistry(t *testing.T) {
	tools := Default().All()
	require.Len(t, tools, 10)
	for _, tool := range tools {
		assert.Len(t, tool.Stages, 3, tool.ID)
		assert.NotEmpty(t, tool.Accept, tool.ID)
		assert.NotEmpty(t, tool.Title, tool.ID)
	}

	merge := lookup(t, "pdf-merge")
	assert.True(t, merge.Multiple)
	assert.True(t, merge.Accepts(sniff.KindPDF))
	assert.False(t, merge.Accepts(sniff.KindPNG))

	_, ok := Default().Lookup("nope")
	assert.False(t, ok)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(pdfCompress(), pdfCompress())
	assert.Error(t, err)
	_, err = NewRegistry(&Tool{ID: "x"})
	assert.Error(t, err)
}

func TestOutputName(t *testing.T) {
	tool := &Tool{Output: "{name}_compressed"}
	assert.Equal(t, "report_compressed.pdf", tool.OutputName([]string{"dir/report.pdf"}, &engine.Blob{Type: "application/pdf"}))
	assert.Equal(t, "output_compressed.zip", tool.OutputName(nil, &engine.Blob{Type: "application/zip"}))

	merged := &Tool{Output: "merged"}
	assert.Equal(t, "merged.pdf", merged.OutputName([]string{"a.pdf", "b.pdf"}, &engine.Blob{Type: "application/pdf"}))
}

func TestSessionConvertsAndDownloads(t *testing.T) {
	reg := blobref.NewRegistry()
	s := newSession(t, lookup(t, "image-convert"), reg)

	require.NoError(t, s.Admit(context.Background(), []intake.Source{intake.FromBytes("photo.png", pngBytes(t))}))
	assert.Equal(t, 1, reg.Live(), "preview handle")

	blob, err := s.Process(context.Background(), Params{"format": "jpeg"})
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", blob.Type)
	assert.Equal(t, intake.StatusSuccess, s.Store.Status())
	assert.Equal(t, 100.0, s.Store.Progress())
	assert.Equal(t, staged.Complete, s.Controller.Snapshot().Stage)
	assert.Equal(t, "photo.jpg", s.OutputName())

	dir := t.TempDir()
	path, err := s.Download(context.Background(), &blobref.FileSaver{Registry: reg, Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "photo.jpg"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sniff.KindJPEG, sniff.Detect(data))
	assert.Equal(t, 2, reg.Live(), "download handle is revoked after saving")

	s.Reset()
	assert.Zero(t, reg.Live())
	assert.Empty(t, s.Store.Files())
	assert.Equal(t, staged.Snapshot{Stage: staged.Idle}, s.Controller.Snapshot())
}

func TestSessionWatermarksPDF(t *testing.T) {
	reg := blobref.NewRegistry()
	s := newSession(t, lookup(t, "pdf-watermark"), reg)
	require.NoError(t, s.Admit(context.Background(), []intake.Source{intake.FromBytes("doc.pdf", pdftest.Build(2))}))

	_, err := s.Process(context.Background(), Params{"size": "24"})
	require.Error(t, err, "text is required")
	assert.Equal(t, pdf.CodeInvalidOptions, engine.CodeOf(err))
	assert.Equal(t, intake.StatusError, s.Store.Status())

	blob, err := s.Process(context.Background(), Params{"text": "CONFIDENTIAL", "opacity": "0.4", "pages": "2"})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", blob.Type)
	assert.Equal(t, sniff.KindPDF, sniff.Detect(blob.Data))
	assert.NotEqual(t, pdftest.Build(2), blob.Data)
	assert.Equal(t, "doc_watermarked.pdf", s.OutputName())

	n, err := pdf.PageCount(engine.Input{Name: "doc_watermarked.pdf", Data: blob.Data})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSessionAbortAfterCompletionKeepsResult(t *testing.T) {
	s := newSession(t, lookup(t, "image-convert"), blobref.NewRegistry())
	require.NoError(t, s.Admit(context.Background(), []intake.Source{intake.FromBytes("photo.png", pngBytes(t))}))

	aborted := false
	unsubscribe := s.Controller.Subscribe(func(snap staged.Snapshot) {
		if snap.Stage == staged.Complete && !aborted {
			// The controller has finished; the store has no result yet.
			aborted = true
			s.Abort()
		}
	})
	defer unsubscribe()

	blob, err := s.Process(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, aborted)
	assert.NotNil(t, blob)
	assert.Equal(t, staged.Complete, s.Controller.Snapshot().Stage)
	assert.Equal(t, intake.StatusSuccess, s.Store.Status())
	require.NotNil(t, s.Store.Result())
	assert.Same(t, blob, s.Store.Result().Blob)
}

func TestSessionWithoutFiles(t *testing.T) {
	s := newSession(t, lookup(t, "pdf-compress"), blobref.NewRegistry())

	_, err := s.Process(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, CodeNoFiles, engine.CodeOf(err))
	assert.Equal(t, intake.StatusError, s.Store.Status())
}

func TestSessionRecordsFailure(t *testing.T) {
	s := newSession(t, lookup(t, "image-convert"), blobref.NewRegistry())
	require.NoError(t, s.Admit(context.Background(), []intake.Source{intake.FromBytes("photo.png", pngBytes(t))}))

	_, err := s.Process(context.Background(), Params{"quality": "high"})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidOptions, engine.CodeOf(err))
	assert.Equal(t, intake.StatusError, s.Store.Status())
	assert.Same(t, err, s.Store.Err())
	assert.Nil(t, s.Store.Result())
	assert.Equal(t, staged.Error, s.Controller.Snapshot().Stage)
}

func TestSessionAbort(t *testing.T) {
	release := make(chan struct{})
	tool := &Tool{
		ID:     "slow",
		Domain: engine.DomainImage,
		Accept: []sniff.Kind{sniff.KindPNG},
		Stages: []staged.Stage{{Name: staged.Processing, Duration: time.Second, Message: "working"}},
		Process: func(context.Context, Job) (*engine.Blob, error) {
			<-release
			return engine.NewBlob([]byte("late"), "image/png"), nil
		},
	}
	defer close(release)

	s, err := NewSession(tool, Env{Log: zerolog.Nop()}, blobref.NewRegistry(), SessionConfig{
		Staged: staged.Config{Tick: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	require.NoError(t, s.Admit(context.Background(), []intake.Source{intake.FromBytes("a.png", pngBytes(t))}))

	done := make(chan error, 1)
	go func() {
		_, err := s.Process(context.Background(), nil)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return s.Controller.Snapshot().Stage == staged.Processing
	}, time.Second, 5*time.Millisecond)

	s.Abort()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, staged.ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("process did not return after abort")
	}

	assert.Equal(t, intake.StatusIdle, s.Store.Status())
	assert.Zero(t, s.Store.Progress())
	assert.Nil(t, s.Store.Result())
	assert.Len(t, s.Store.Files(), 1, "files survive an abort")
	assert.Equal(t, staged.MessageCancelled, s.Controller.Snapshot().Message)
}

func TestVideoToolWithoutRuntime(t *testing.T) {
	tool := lookup(t, "video-to-gif")
	_, err := tool.Process(context.Background(), Job{
		Files: []engine.Input{{Name: "clip.mp4", Data: []byte("x")}},
		Env:   Env{Log: zerolog.Nop()},
	})
	require.Error(t, err)
	assert.Equal(t, engine.DomainVideo, mustEngineError(t, err).Domain)
}

func mustEngineError(t *testing.T, err error) *engine.Error {
	t.Helper()
	e, ok := engine.AsError(err)
	require.True(t, ok, "%v is not an engine error", err)
	return e
}
