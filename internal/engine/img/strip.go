package img

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"allinone/internal/engine"
	"allinone/pkg/sniff"
)

var (
	jpegExifHeader = []byte("Exif\x00\x00")
	jpegXmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	jpegPhotoshop  = []byte("Photoshop 3.0\x00")
	jpegICCHeader  = []byte("ICC_PROFILE\x00")

	pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
)

type StripOptions struct {
	PreserveICC bool
}

// StripStats counts what StripMetadata removed.
type StripStats struct {
	Removed    int
	BytesSaved int64
}

// StripMetadata drops EXIF, XMP, IPTC and text metadata from a JPEG or PNG
// without re-encoding pixel data.
func StripMetadata(ctx context.Context, in engine.Input, opts StripOptions) (*engine.Blob, StripStats, error) {
	kind, err := sniffInput(in)
	if err != nil {
		return nil, StripStats{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, StripStats{}, err
	}

	var buf bytes.Buffer
	var removed int
	switch kind {
	case sniff.KindJPEG:
		removed, err = stripJPEG(bytes.NewReader(in.Data), &buf, opts.PreserveICC)
	case sniff.KindPNG:
		removed, err = stripPNG(bytes.NewReader(in.Data), &buf, opts.PreserveICC)
	default:
		return nil, StripStats{}, fail(CodeUnsupportedFormat, in.Name, fmt.Errorf("metadata stripping supports jpeg and png, got %s", kind))
	}
	if err != nil {
		return nil, StripStats{}, fail(CodeInvalidImage, in.Name, err)
	}

	stats := StripStats{Removed: removed, BytesSaved: int64(len(in.Data) - buf.Len())}
	return &engine.Blob{Data: buf.Bytes(), Type: kind.MIME()}, stats, nil
}

// stripJPEG copies segments up to SOS, dropping metadata APPn segments, then
// copies the entropy-coded data verbatim.
func stripJPEG(r io.Reader, w io.Writer, preserveICC bool) (int, error) {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	removed := 0

	soi := make([]byte, 2)
	if _, err := io.ReadFull(br, soi); err != nil {
		return 0, err
	}
	if soi[0] != 0xff || soi[1] != 0xd8 {
		return 0, fmt.Errorf("invalid JPEG SOI")
	}
	if _, err := bw.Write(soi); err != nil {
		return 0, err
	}

	for {
		marker, err := nextJPEGMarker(br)
		if err != nil {
			return removed, err
		}

		switch {
		case marker == 0xd9: // EOI
			if _, err := bw.Write([]byte{0xff, 0xd9}); err != nil {
				return removed, err
			}
			return removed, bw.Flush()
		case marker == 0xda: // SOS
			if _, err := bw.Write([]byte{0xff, marker}); err != nil {
				return removed, err
			}
			if _, err := io.Copy(bw, br); err != nil {
				return removed, err
			}
			return removed, bw.Flush()
		case marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7):
			if _, err := bw.Write([]byte{0xff, marker}); err != nil {
				return removed, err
			}
			continue
		}

		lenBuf := make([]byte, 2)
		if _, err := io.ReadFull(br, lenBuf); err != nil {
			return removed, err
		}
		segLen := int(binary.BigEndian.Uint16(lenBuf))
		if segLen < 2 {
			return removed, fmt.Errorf("invalid JPEG segment length")
		}
		payload := make([]byte, segLen-2)
		if _, err := io.ReadFull(br, payload); err != nil {
			return removed, err
		}

		if dropJPEGSegment(marker, payload, preserveICC) {
			removed++
			continue
		}
		for _, part := range [][]byte{{0xff, marker}, lenBuf, payload} {
			if _, err := bw.Write(part); err != nil {
				return removed, err
			}
		}
	}
}

func nextJPEGMarker(br *bufio.Reader) (byte, error) {
	b, err := br.ReadByte()
	for err == nil && b != 0xff {
		b, err = br.ReadByte()
	}
	for err == nil && b == 0xff {
		b, err = br.ReadByte()
	}
	return b, err
}

func dropJPEGSegment(marker byte, payload []byte, preserveICC bool) bool {
	switch marker {
	case 0xe1:
		return bytes.HasPrefix(payload, jpegExifHeader) || bytes.HasPrefix(payload, jpegXmpHeader)
	case 0xed:
		return bytes.HasPrefix(payload, jpegPhotoshop)
	case 0xe2:
		return !preserveICC && bytes.HasPrefix(payload, jpegICCHeader)
	default:
		return false
	}
}

// stripPNG copies chunks through IEND, dropping ancillary metadata chunks.
// CRCs are carried over untouched.
func stripPNG(r io.Reader, w io.Writer, preserveICC bool) (int, error) {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	removed := 0

	sig := make([]byte, 8)
	if _, err := io.ReadFull(br, sig); err != nil {
		return 0, err
	}
	if !bytes.Equal(sig, pngSignature) {
		return 0, fmt.Errorf("invalid PNG signature")
	}
	if _, err := bw.Write(sig); err != nil {
		return 0, err
	}

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				break
			}
			return removed, err
		}
		length := int64(binary.BigEndian.Uint32(header[:4]))
		name := string(header[4:])

		if dropPNGChunk(name, preserveICC) {
			removed++
			if _, err := io.CopyN(io.Discard, br, length+4); err != nil {
				return removed, err
			}
			continue
		}

		if _, err := bw.Write(header); err != nil {
			return removed, err
		}
		if _, err := io.CopyN(bw, br, length+4); err != nil {
			return removed, err
		}
		if name == "IEND" {
			break
		}
	}
	return removed, bw.Flush()
}

func dropPNGChunk(name string, preserveICC bool) bool {
	switch name {
	case "tEXt", "zTXt", "iTXt", "eXIf", "tIME":
		return true
	case "iCCP":
		return !preserveICC
	default:
		return false
	}
}
