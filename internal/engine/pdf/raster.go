package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"

	"allinone/internal/engine"
)

type ImageOptions struct {
	Format  string // png or jpeg
	DPI     float64
	Quality int // jpeg only, 1-100
	Pages   string
}

func DefaultImageOptions() ImageOptions {
	return ImageOptions{Format: "png", DPI: 150, Quality: 90}
}

func (o ImageOptions) validate() error {
	switch o.Format {
	case "png", "jpeg":
	default:
		return fmt.Errorf("unsupported image format %q", o.Format)
	}
	if o.DPI < 36 || o.DPI > 600 {
		return fmt.Errorf("dpi must be within 36-600")
	}
	if o.Format == "jpeg" && (o.Quality < 1 || o.Quality > 100) {
		return fmt.Errorf("quality must be within 1-100")
	}
	return nil
}

func (o ImageOptions) ext() string {
	if o.Format == "jpeg" {
		return "jpg"
	}
	return "png"
}

// ToImage renders the selected pages. One page yields a single image; several
// yield a zip archive. Progress is reported per rendered page.
func ToImage(ctx context.Context, in engine.Input, opts ImageOptions, progress engine.ProgressFunc) (*engine.Blob, error) {
	if err := opts.validate(); err != nil {
		return nil, fail(CodeInvalidOptions, in.Name, err)
	}
	n, err := open(in)
	if err != nil {
		return nil, err
	}

	ranges := EveryPage(n)
	if strings.TrimSpace(opts.Pages) != "" {
		if ranges, err = ParseRanges(opts.Pages, n); err != nil {
			return nil, fail(CodeInvalidPageRange, in.Name, err)
		}
	}
	pages := pageNumbers(ranges)

	doc, err := fitz.NewFromMemory(in.Data)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, fail(CodeEncryptedPDF, in.Name, err)
		}
		return nil, fail(CodeRenderFailed, in.Name, err)
	}
	defer doc.Close()

	parts := make([]namedPart, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(page-1, opts.DPI)
		if err != nil {
			return nil, fail(CodeRenderFailed, in.Name, fmt.Errorf("render page %d: %w", page, err))
		}
		data, err := encodePage(img, opts)
		if err != nil {
			return nil, fail(CodeRenderFailed, in.Name, fmt.Errorf("encode page %d: %w", page, err))
		}
		parts = append(parts, namedPart{
			name: fmt.Sprintf("%s_page_%03d.%s", baseName(in.Name), page, opts.ext()),
			data: data,
		})
		engine.Report(progress, i+1, len(pages))
	}

	if len(parts) == 1 {
		return &engine.Blob{Data: parts[0].data, Type: "image/" + opts.Format}, nil
	}
	data, err := zipParts(parts)
	if err != nil {
		return nil, fail(CodeRenderFailed, in.Name, err)
	}
	return &engine.Blob{Data: data, Type: ZipMIME}, nil
}

func encodePage(img image.Image, opts ImageOptions) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if opts.Format == "jpeg" {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality})
	} else {
		err = png.Encode(&buf, img)
	}
	return buf.Bytes(), err
}
