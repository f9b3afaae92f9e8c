package img

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"allinone/internal/engine"
	"allinone/pkg/sniff"
)

type Position string

const (
	Center      Position = "center"
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

type WatermarkOptions struct {
	Text     string
	Position Position
	Opacity  float64 // 0-1
	Scale    float64 // glyph magnification; 0 sizes the text to about 40% of the image width
	Color    string
	Quality  int // used when the source is a JPEG
}

func DefaultWatermark() WatermarkOptions {
	return WatermarkOptions{Position: BottomRight, Opacity: 0.5, Color: "#ffffff", Quality: 92}
}

func (o WatermarkOptions) validate() (color.RGBA, error) {
	switch {
	case strings.TrimSpace(o.Text) == "":
		return color.RGBA{}, fmt.Errorf("watermark text is empty")
	case o.Opacity <= 0 || o.Opacity > 1:
		return color.RGBA{}, fmt.Errorf("opacity must be in (0, 1]")
	case o.Scale < 0:
		return color.RGBA{}, fmt.Errorf("scale must not be negative")
	}
	switch o.Position {
	case Center, TopLeft, TopRight, BottomLeft, BottomRight:
	default:
		return color.RGBA{}, fmt.Errorf("unknown position %q", o.Position)
	}
	return parseHexColor(o.Color)
}

// Watermark stamps text onto in. The output keeps the source format where an
// encoder exists and falls back to PNG otherwise.
func Watermark(ctx context.Context, in engine.Input, opts WatermarkOptions) (*engine.Blob, error) {
	c, err := opts.validate()
	if err != nil {
		return nil, fail(CodeInvalidOptions, in.Name, err)
	}
	if opts.Quality == 0 {
		opts.Quality = 92
	}

	m, kind, err := decode(in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := image.NewRGBA(m.Bounds())
	drawOver(out, m)
	stamp(out, opts, c)

	if !encodable(kind) {
		kind = sniff.KindPNG
	}
	data, err := encode(out, kind, opts.Quality, color.White)
	if err != nil {
		return nil, fail(CodeEncodeFailed, in.Name, err)
	}
	return &engine.Blob{Data: data, Type: kind.MIME()}, nil
}

// stamp renders text with the 7x13 bitmap face and scales it onto dst.
func stamp(dst *image.RGBA, opts WatermarkOptions, c color.RGBA) {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, opts.Text).Ceil()
	textH := face.Height
	if textW == 0 {
		return
	}

	c.A = uint8(opts.Opacity * 255)
	glyphs := image.NewRGBA(image.Rect(0, 0, textW, textH))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(opts.Text)

	bounds := dst.Bounds()
	scale := opts.Scale
	if scale == 0 {
		scale = float64(bounds.Dx()) * 0.4 / float64(textW)
	}
	w := max(1, int(float64(textW)*scale))
	h := max(1, int(float64(textH)*scale))

	margin := bounds.Dx() / 50
	var origin image.Point
	switch opts.Position {
	case TopLeft:
		origin = image.Pt(bounds.Min.X+margin, bounds.Min.Y+margin)
	case TopRight:
		origin = image.Pt(bounds.Max.X-margin-w, bounds.Min.Y+margin)
	case BottomLeft:
		origin = image.Pt(bounds.Min.X+margin, bounds.Max.Y-margin-h)
	case BottomRight:
		origin = image.Pt(bounds.Max.X-margin-w, bounds.Max.Y-margin-h)
	default:
		origin = image.Pt(bounds.Min.X+(bounds.Dx()-w)/2, bounds.Min.Y+(bounds.Dy()-h)/2)
	}

	xdraw.BiLinear.Scale(dst, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(w, h))}, glyphs, glyphs.Bounds(), xdraw.Over, nil)
}
