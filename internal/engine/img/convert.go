package img

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"allinone/internal/engine"
	"allinone/pkg/sniff"
)

type ConvertOptions struct {
	Format     string // png, jpeg, gif, bmp or tiff
	Quality    int    // jpeg only, 1-100
	Background string // fill behind transparent pixels when the target has no alpha
}

func DefaultConvert() ConvertOptions {
	return ConvertOptions{Format: "png", Quality: 92, Background: "#ffffff"}
}

// Convert re-encodes in into opts.Format.
func Convert(ctx context.Context, in engine.Input, opts ConvertOptions) (*engine.Blob, error) {
	target := sniff.ParseKind(opts.Format)
	if !encodable(target) {
		return nil, fail(CodeInvalidOptions, in.Name, fmt.Errorf("cannot convert to %q", opts.Format))
	}
	if target == sniff.KindJPEG && (opts.Quality < 1 || opts.Quality > 100) {
		return nil, fail(CodeInvalidOptions, in.Name, fmt.Errorf("quality must be within 1-100"))
	}
	bg, err := parseHexColor(opts.Background)
	if err != nil {
		return nil, fail(CodeInvalidOptions, in.Name, err)
	}

	m, _, err := decode(in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := encode(m, target, opts.Quality, bg)
	if err != nil {
		return nil, fail(CodeEncodeFailed, in.Name, err)
	}
	return &engine.Blob{Data: data, Type: target.MIME()}, nil
}

func fillRect(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func drawOver(dst draw.Image, src image.Image) {
	draw.Draw(dst, src.Bounds(), src, src.Bounds().Min, draw.Over)
}
