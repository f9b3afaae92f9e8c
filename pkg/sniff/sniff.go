package sniff

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// Kind identifies a supported file type.
type Kind int

const (
	KindUnknown Kind = iota
	KindJPEG
	KindPNG
	KindTIFF
	KindGIF
	KindWEBP
	KindBMP
	KindPDF
	KindMP4
	KindWEBM
)

// HeaderSize is the number of leading bytes DetectHeader needs.
const HeaderSize = 12

func (k Kind) String() string {
	switch k {
	case KindJPEG:
		return "jpeg"
	case KindPNG:
		return "png"
	case KindTIFF:
		return "tiff"
	case KindGIF:
		return "gif"
	case KindWEBP:
		return "webp"
	case KindBMP:
		return "bmp"
	case KindPDF:
		return "pdf"
	case KindMP4:
		return "mp4"
	case KindWEBM:
		return "webm"
	default:
		return "unknown"
	}
}

// MIME returns the canonical media type for k.
func (k Kind) MIME() string {
	switch k {
	case KindJPEG:
		return "image/jpeg"
	case KindPNG:
		return "image/png"
	case KindTIFF:
		return "image/tiff"
	case KindGIF:
		return "image/gif"
	case KindWEBP:
		return "image/webp"
	case KindBMP:
		return "image/bmp"
	case KindPDF:
		return "application/pdf"
	case KindMP4:
		return "video/mp4"
	case KindWEBM:
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

func (k Kind) IsImage() bool {
	switch k {
	case KindJPEG, KindPNG, KindTIFF, KindGIF, KindWEBP, KindBMP:
		return true
	default:
		return false
	}
}

func (k Kind) IsVideo() bool {
	return k == KindMP4 || k == KindWEBM
}

// ParseKind maps a short name such as "jpg" or "png" to a Kind.
func ParseKind(name string) Kind {
	switch name {
	case "jpeg", "jpg":
		return KindJPEG
	case "png":
		return KindPNG
	case "tiff", "tif":
		return KindTIFF
	case "gif":
		return KindGIF
	case "webp":
		return KindWEBP
	case "bmp":
		return KindBMP
	case "pdf":
		return KindPDF
	case "mp4":
		return KindMP4
	case "webm":
		return KindWEBM
	default:
		return KindUnknown
	}
}

var (
	pngSig    = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSig   = []byte{0xff, 0xd8, 0xff}
	tiffSigLE = []byte{0x49, 0x49, 0x2a, 0x00}
	tiffSigBE = []byte{0x4d, 0x4d, 0x00, 0x2a}
	gif87Sig  = []byte("GIF87a")
	gif89Sig  = []byte("GIF89a")
	riffSig   = []byte("RIFF")
	webpSig   = []byte("WEBP")
	bmpSig    = []byte("BM")
	pdfSig    = []byte("%PDF-")
	ftypSig   = []byte("ftyp")
	ebmlSig   = []byte{0x1a, 0x45, 0xdf, 0xa3}
)

// DetectHeader inspects the leading bytes of a file for known signatures.
func DetectHeader(header []byte) (Kind, error) {
	if len(header) < 8 {
		return KindUnknown, errors.New("header too short")
	}

	switch {
	case bytes.HasPrefix(header, jpegSig):
		return KindJPEG, nil
	case bytes.HasPrefix(header, pngSig):
		return KindPNG, nil
	case bytes.HasPrefix(header, tiffSigLE), bytes.HasPrefix(header, tiffSigBE):
		return KindTIFF, nil
	case bytes.HasPrefix(header, gif87Sig), bytes.HasPrefix(header, gif89Sig):
		return KindGIF, nil
	case bytes.HasPrefix(header, pdfSig):
		return KindPDF, nil
	case bytes.HasPrefix(header, ebmlSig):
		return KindWEBM, nil
	case bytes.HasPrefix(header, bmpSig):
		return KindBMP, nil
	}

	if len(header) >= HeaderSize {
		if bytes.HasPrefix(header, riffSig) && bytes.Equal(header[8:12], webpSig) {
			return KindWEBP, nil
		}
		if bytes.Equal(header[4:8], ftypSig) {
			return KindMP4, nil
		}
	}

	return KindUnknown, nil
}

// Detect classifies an in-memory buffer. Short buffers are reported as unknown.
func Detect(data []byte) Kind {
	if len(data) > HeaderSize {
		data = data[:HeaderSize]
	}
	kind, err := DetectHeader(data)
	if err != nil {
		return KindUnknown
	}
	return kind
}

// SniffFile reads the leading bytes of a file to determine its type.
func SniffFile(path string) (Kind, error) {
	f, err := os.Open(path)
	if err != nil {
		return KindUnknown, err
	}
	defer f.Close()

	return SniffReader(f)
}

// SniffReader reads up to HeaderSize bytes from r and determines its type.
func SniffReader(r io.Reader) (Kind, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return KindUnknown, err
	}

	return DetectHeader(header[:n])
}
