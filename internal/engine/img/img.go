// Package img implements the raster image engines: format conversion, text
// watermarking, metadata stripping and metadata scanning.
package img

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"allinone/internal/engine"
	"allinone/pkg/sniff"
)

const (
	CodeEmptyFile         engine.Code = "EMPTY_FILE"
	CodeInvalidImage      engine.Code = "INVALID_IMAGE"
	CodeUnsupportedFormat engine.Code = "UNSUPPORTED_FORMAT"
	CodeInvalidOptions    engine.Code = "INVALID_OPTIONS"
	CodeEncodeFailed      engine.Code = "ENCODE_FAILED"
)

// maxPixels bounds decoded image area.
const maxPixels = 100_000_000

func fail(code engine.Code, name string, err error) error {
	return engine.NewError(engine.DomainImage, code, err).WithFile(name)
}

// sniffInput validates in and returns its detected kind.
func sniffInput(in engine.Input) (sniff.Kind, error) {
	if len(in.Data) == 0 {
		return sniff.KindUnknown, fail(CodeEmptyFile, in.Name, nil)
	}
	kind := sniff.Detect(in.Data)
	if !kind.IsImage() {
		return kind, fail(CodeUnsupportedFormat, in.Name, fmt.Errorf("detected %s", kind))
	}
	return kind, nil
}

func decode(in engine.Input) (image.Image, sniff.Kind, error) {
	kind, err := sniffInput(in)
	if err != nil {
		return nil, kind, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(in.Data))
	if err != nil {
		return nil, kind, fail(CodeInvalidImage, in.Name, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, kind, fail(CodeInvalidImage, in.Name, fmt.Errorf("unsupported dimensions %dx%d", cfg.Width, cfg.Height))
	}

	m, _, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		return nil, kind, fail(CodeInvalidImage, in.Name, err)
	}
	return m, kind, nil
}

// encodable reports whether kind can be written back out.
func encodable(kind sniff.Kind) bool {
	switch kind {
	case sniff.KindJPEG, sniff.KindPNG, sniff.KindGIF, sniff.KindBMP, sniff.KindTIFF:
		return true
	default:
		return false
	}
}

func encode(m image.Image, kind sniff.Kind, quality int, background color.Color) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch kind {
	case sniff.KindJPEG:
		err = jpeg.Encode(&buf, flatten(m, background), &jpeg.Options{Quality: quality})
	case sniff.KindPNG:
		err = png.Encode(&buf, m)
	case sniff.KindGIF:
		err = gif.Encode(&buf, m, nil)
	case sniff.KindBMP:
		err = bmp.Encode(&buf, m)
	case sniff.KindTIFF:
		err = tiff.Encode(&buf, m, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = fmt.Errorf("no encoder for %s", kind)
	}
	return buf.Bytes(), err
}

// flatten composites m over an opaque background.
func flatten(m image.Image, background color.Color) image.Image {
	b := m.Bounds()
	out := image.NewRGBA(b)
	fillRect(out, b, background)
	drawOver(out, m)
	return out
}

// parseHexColor parses #rgb or #rrggbb.
func parseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q is not #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q is not #rrggbb", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
