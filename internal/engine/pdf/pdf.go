// Package pdf implements the PDF engines on top of pdfcpu, with page
// rasterization through go-fitz.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"allinone/internal/engine"
)

const (
	CodeEmptyFile        engine.Code = "EMPTY_FILE"
	CodeNoFiles          engine.Code = "NO_FILES"
	CodeInvalidPDF       engine.Code = "INVALID_PDF"
	CodeEncryptedPDF     engine.Code = "ENCRYPTED_PDF"
	CodeInvalidPageRange engine.Code = "INVALID_PAGE_RANGE"
	CodeInvalidRotation  engine.Code = "INVALID_ROTATION"
	CodeInvalidOptions   engine.Code = "INVALID_OPTIONS"
	CodeRenderFailed     engine.Code = "RENDER_FAILED"
	CodeProcessingFailed engine.Code = "PROCESSING_FAILED"
)

const MIME = "application/pdf"

var disableConfigDir sync.Once

// newConfig returns a fresh relaxed configuration. pdfcpu mutates the
// configuration it is given, so every call gets its own.
func newConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func fail(code engine.Code, name string, err error) error {
	return engine.NewError(engine.DomainPDF, code, err).WithFile(name)
}

// classify turns a pdfcpu read failure into INVALID_PDF or ENCRYPTED_PDF.
func classify(name string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") {
		return fail(CodeEncryptedPDF, name, err)
	}
	return fail(CodeInvalidPDF, name, err)
}

// open validates in and returns its page count.
func open(in engine.Input) (int, error) {
	if len(in.Data) == 0 {
		return 0, fail(CodeEmptyFile, in.Name, nil)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(in.Data[:min(len(in.Data), 1024)], "\x00\r\n\t "), []byte("%PDF-")) {
		return 0, fail(CodeInvalidPDF, in.Name, fmt.Errorf("missing %%PDF header"))
	}
	n, err := api.PageCount(bytes.NewReader(in.Data), newConfig())
	if err != nil {
		return 0, classify(in.Name, err)
	}
	if n == 0 {
		return 0, fail(CodeInvalidPDF, in.Name, fmt.Errorf("document has no pages"))
	}
	return n, nil
}

// PageCount returns the number of pages in in.
func PageCount(in engine.Input) (int, error) {
	return open(in)
}

func transform(in engine.Input, fn func(rs io.ReadSeeker, w io.Writer) error) (*engine.Blob, error) {
	var buf bytes.Buffer
	if err := fn(bytes.NewReader(in.Data), &buf); err != nil {
		return nil, fail(CodeProcessingFailed, in.Name, err)
	}
	return &engine.Blob{Data: buf.Bytes(), Type: MIME}, nil
}

// Stats describes a compression result.
type Stats struct {
	OriginalSize   int64
	CompressedSize int64
}

// Saved returns the size reduction as a percentage of the original.
func (s Stats) Saved() float64 {
	if s.OriginalSize == 0 {
		return 0
	}
	return float64(s.OriginalSize-s.CompressedSize) / float64(s.OriginalSize) * 100
}

// Compress rewrites in with pdfcpu's optimizer. When optimization does not
// shrink the file the original bytes are returned.
func Compress(ctx context.Context, in engine.Input) (*engine.Blob, Stats, error) {
	if _, err := open(in); err != nil {
		return nil, Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}

	blob, err := transform(in, func(rs io.ReadSeeker, w io.Writer) error {
		return api.Optimize(rs, w, newConfig())
	})
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{OriginalSize: int64(len(in.Data)), CompressedSize: blob.Size()}
	if stats.CompressedSize >= stats.OriginalSize {
		stats.CompressedSize = stats.OriginalSize
		return engine.NewBlob(in.Data, MIME), stats, nil
	}
	return blob, stats, nil
}

type RotateOptions struct {
	Angle int
	Pages string // empty selects every page
}

func Rotate(ctx context.Context, in engine.Input, opts RotateOptions) (*engine.Blob, error) {
	if opts.Angle == 0 || opts.Angle%90 != 0 {
		return nil, fail(CodeInvalidRotation, in.Name, fmt.Errorf("angle %d is not a non-zero multiple of 90", opts.Angle))
	}
	n, err := open(in)
	if err != nil {
		return nil, err
	}
	pages, err := selectPages(in.Name, opts.Pages, n)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return transform(in, func(rs io.ReadSeeker, w io.Writer) error {
		return api.Rotate(rs, w, opts.Angle, pages, newConfig())
	})
}

type WatermarkOptions struct {
	Text     string
	FontSize int
	Opacity  float64
	Rotation int
	Color    string // #rrggbb
	Pages    string
}

func DefaultWatermark() WatermarkOptions {
	return WatermarkOptions{FontSize: 48, Opacity: 0.3, Rotation: 45, Color: "#808080"}
}

func (o WatermarkOptions) describe() string {
	return fmt.Sprintf("fontname:Helvetica, points:%d, fillcolor:%s, opacity:%.2f, rotation:%d, scalefactor:1 abs",
		o.FontSize, o.Color, o.Opacity, o.Rotation)
}

func (o WatermarkOptions) validate() error {
	switch {
	case strings.TrimSpace(o.Text) == "":
		return fmt.Errorf("watermark text is empty")
	case o.FontSize <= 0:
		return fmt.Errorf("font size must be positive")
	case o.Opacity <= 0 || o.Opacity > 1:
		return fmt.Errorf("opacity must be in (0, 1]")
	case o.Rotation < -180 || o.Rotation > 180:
		return fmt.Errorf("rotation must be within [-180, 180]")
	case !validHexColor(o.Color):
		return fmt.Errorf("color %q is not #rrggbb", o.Color)
	}
	return nil
}

func Watermark(ctx context.Context, in engine.Input, opts WatermarkOptions) (*engine.Blob, error) {
	if err := opts.validate(); err != nil {
		return nil, fail(CodeInvalidOptions, in.Name, err)
	}
	n, err := open(in)
	if err != nil {
		return nil, err
	}
	pages, err := selectPages(in.Name, opts.Pages, n)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wm, err := api.TextWatermark(opts.Text, opts.describe(), true, false, types.POINTS)
	if err != nil {
		return nil, fail(CodeInvalidOptions, in.Name, err)
	}
	return transform(in, func(rs io.ReadSeeker, w io.Writer) error {
		return api.AddWatermarks(rs, w, pages, wm, newConfig())
	})
}

// Merge concatenates inputs in order. Every input is validated before any
// merging starts; progress is reported per validated file.
func Merge(ctx context.Context, inputs []engine.Input, progress engine.ProgressFunc) (*engine.Blob, error) {
	if len(inputs) == 0 {
		return nil, fail(CodeNoFiles, "", nil)
	}

	readers := make([]io.ReadSeeker, 0, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := open(in); err != nil {
			return nil, err
		}
		readers = append(readers, bytes.NewReader(in.Data))
		engine.Report(progress, i+1, len(inputs))
	}

	var buf bytes.Buffer
	if err := api.MergeRaw(readers, &buf, false, newConfig()); err != nil {
		return nil, fail(CodeProcessingFailed, "", err)
	}
	return &engine.Blob{Data: buf.Bytes(), Type: MIME}, nil
}

func validHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
