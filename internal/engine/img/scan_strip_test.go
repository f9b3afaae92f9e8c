package img

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"allinone/internal/engine"
)

func TestScanStripJPEG(t *testing.T) {
	src := engine.Input{Name: "sample.jpg", Data: buildJPEGWithExif()}

	report := scan(t, src)
	if !hasDetail(report, CategoryDevice) || !hasDetail(report, CategoryTimestamp) {
		t.Fatalf("expected model and timestamp details, got: %#v", report.Details)
	}
	if !hasInsight(report, "Device: TestCam") {
		t.Fatalf("expected device insight, got: %#v", report.Insights)
	}

	blob, stats, err := StripMetadata(context.Background(), src, StripOptions{})
	if err != nil {
		t.Fatalf("strip JPEG: %v", err)
	}
	if stats.Removed != 1 || stats.BytesSaved <= 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if blob.Type != "image/jpeg" {
		t.Fatalf("unexpected type %q", blob.Type)
	}

	cleaned := scan(t, engine.Input{Name: "sample.jpg", Data: blob.Data})
	if !cleaned.Clean() {
		t.Fatalf("expected no details after strip, got: %#v", cleaned.Details)
	}
}

func TestScanEncodedJPEG(t *testing.T) {
	m := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range m.Pix {
		m.Pix[i] = byte(i)
	}
	var enc bytes.Buffer
	if err := jpeg.Encode(&enc, m, &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var buf bytes.Buffer
	buf.Write(enc.Bytes()[:2])
	writeSegment(&buf, 0xe1, append([]byte("Exif\x00\x00"), buildExifTIFF()...))
	buf.Write(enc.Bytes()[2:])
	src := engine.Input{Name: "camera.jpg", Data: buf.Bytes()}

	report := scan(t, src)
	if report.Clean() {
		t.Fatalf("EXIF segment present but no details reported")
	}
	if !hasInsight(report, "Device: TestCam") || !hasDetail(report, CategoryTimestamp) {
		t.Fatalf("expected device and timestamp, got: %#v %#v", report.Details, report.Insights)
	}

	plain := scan(t, engine.Input{Name: "plain.jpg", Data: enc.Bytes()})
	if !plain.Clean() {
		t.Fatalf("expected clean report for JPEG without EXIF, got: %#v", plain.Details)
	}

	blob, _, err := StripMetadata(context.Background(), src, StripOptions{})
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if !scan(t, engine.Input{Name: "camera.jpg", Data: blob.Data}).Clean() {
		t.Fatalf("expected clean report after strip")
	}
	if _, err := jpeg.Decode(bytes.NewReader(blob.Data)); err != nil {
		t.Fatalf("stripped JPEG no longer decodes: %v", err)
	}
}

func TestScanStripPNG(t *testing.T) {
	src := engine.Input{Name: "sample.png", Data: buildPNGWithMetadata(t)}

	report := scan(t, src)
	if !hasDetail(report, CategoryDevice) || !hasDetail(report, CategoryTimestamp) {
		t.Fatalf("expected model and timestamp details, got: %#v", report.Details)
	}

	blob, stats, err := StripMetadata(context.Background(), src, StripOptions{})
	if err != nil {
		t.Fatalf("strip PNG: %v", err)
	}
	if stats.Removed != 3 {
		t.Fatalf("expected 3 chunks removed, got %d", stats.Removed)
	}

	cleaned := scan(t, engine.Input{Name: "sample.png", Data: blob.Data})
	if !cleaned.Clean() {
		t.Fatalf("expected no details after strip, got: %#v", cleaned.Details)
	}
	if _, err := png.Decode(bytes.NewReader(blob.Data)); err != nil {
		t.Fatalf("stripped PNG no longer decodes: %v", err)
	}
}

func TestStripPreservesICC(t *testing.T) {
	icc := append([]byte("ICC_PROFILE\x00"), 1, 1, 0xAA)
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xd8})
	writeSegment(&buf, 0xe2, icc)
	writeSegment(&buf, 0xfe, []byte("fixture"))
	buf.Write([]byte{0xff, 0xd9})
	in := engine.Input{Name: "icc.jpg", Data: buf.Bytes()}

	kept, _, err := StripMetadata(context.Background(), in, StripOptions{PreserveICC: true})
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if !bytes.Contains(kept.Data, []byte("ICC_PROFILE")) {
		t.Fatalf("ICC profile dropped despite PreserveICC")
	}

	dropped, _, err := StripMetadata(context.Background(), in, StripOptions{})
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if bytes.Contains(dropped.Data, []byte("ICC_PROFILE")) {
		t.Fatalf("ICC profile kept without PreserveICC")
	}
}

func TestStripRejectsUnsupported(t *testing.T) {
	_, _, err := StripMetadata(context.Background(), engine.Input{Name: "a.gif", Data: []byte("GIF89a\x01\x00\x01\x00")}, StripOptions{})
	if engine.CodeOf(err) != CodeUnsupportedFormat {
		t.Fatalf("expected UNSUPPORTED_FORMAT, got %v", err)
	}

	_, _, err = StripMetadata(context.Background(), engine.Input{Name: "empty.png"}, StripOptions{})
	if engine.CodeOf(err) != CodeEmptyFile {
		t.Fatalf("expected EMPTY_FILE, got %v", err)
	}
}

func TestInsightsFromGPS(t *testing.T) {
	insights := buildInsights([]Detail{{
		Category: CategoryGPS,
		Values: []string{
			"GPSLatitude=[51/1 30/1 0/1]",
			"GPSLatitudeRef=N",
			"GPSLongitude=[0/1 7/1 30/1]",
			"GPSLongitudeRef=W",
		},
	}})
	if len(insights) != 2 || insights[0].Message != "Approx location: 51.50000, -0.12500" {
		t.Fatalf("unexpected insights: %#v", insights)
	}
}

func scan(t *testing.T, in engine.Input) Report {
	t.Helper()
	report, err := Scan(context.Background(), in)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	return report
}

func hasDetail(r Report, category string) bool {
	for _, d := range r.Details {
		if d.Category == category && len(d.Values) > 0 {
			return true
		}
	}
	return false
}

func hasInsight(r Report, prefix string) bool {
	for _, in := range r.Insights {
		if strings.HasPrefix(in.Message, prefix) {
			return true
		}
	}
	return false
}

func writeSegment(buf *bytes.Buffer, marker byte, payload []byte) {
	buf.Write([]byte{0xff, marker})
	_ = binary.Write(buf, binary.BigEndian, uint16(len(payload)+2))
	buf.Write(payload)
}

func buildJPEGWithExif() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xd8})
	writeSegment(&buf, 0xe1, append([]byte("Exif\x00\x00"), buildExifTIFF()...))
	writeSegment(&buf, 0xfe, []byte("fixture"))
	buf.Write([]byte{0xff, 0xd9})
	return buf.Bytes()
}

// buildExifTIFF returns a little-endian IFD0 holding Model and DateTime.
func buildExifTIFF() []byte {
	var tiff bytes.Buffer
	le := binary.LittleEndian
	tiff.Write([]byte{0x49, 0x49, 0x2a, 0x00})
	_ = binary.Write(&tiff, le, uint32(8))
	_ = binary.Write(&tiff, le, uint16(2))
	_ = binary.Write(&tiff, le, uint16(0x0110))
	_ = binary.Write(&tiff, le, uint16(2))
	_ = binary.Write(&tiff, le, uint32(8))
	_ = binary.Write(&tiff, le, uint32(38))
	_ = binary.Write(&tiff, le, uint16(0x0132))
	_ = binary.Write(&tiff, le, uint16(2))
	_ = binary.Write(&tiff, le, uint32(20))
	_ = binary.Write(&tiff, le, uint32(46))
	_ = binary.Write(&tiff, le, uint32(0))
	tiff.Write([]byte("TestCam\x00"))
	tiff.Write([]byte("2024:01:02 03:04:05\x00"))
	return tiff.Bytes()
}

func buildPNGWithMetadata(t *testing.T) []byte {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, 1, 1))
	m.Set(0, 0, color.RGBA{R: 0xff, A: 0xff})

	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := buf.Bytes()
	if len(data) < 12 || string(data[len(data)-8:len(data)-4]) != "IEND" {
		t.Fatalf("unexpected PNG layout")
	}

	insertAt := len(data) - 12
	out := append([]byte{}, data[:insertAt]...)
	out = append(out, buildPNGChunk("tEXt", []byte("Model\x00TestCam"))...)
	out = append(out, buildPNGChunk("tIME", []byte{0x07, 0xE8, 0x01, 0x02, 0x03, 0x04, 0x05})...)
	out = append(out, buildPNGChunk("eXIf", buildExifTIFF())...)
	return append(out, data[insertAt:]...)
}

func buildPNGChunk(chunkType string, data []byte) []byte {
	chunk := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	chunk = append(chunk, chunkType...)
	chunk = append(chunk, data...)
	return binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(append([]byte(chunkType), data...)))
}
