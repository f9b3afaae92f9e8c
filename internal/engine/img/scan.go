package img

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"

	"allinone/internal/engine"
	"allinone/pkg/sniff"
)

const (
	CategoryGPS        = "GPS"
	CategoryDevice     = "Device Model"
	CategoryTimestamp  = "Timestamp"
	CategoryIdentifier = "Identifier"
)

var categoryOrder = []string{CategoryGPS, CategoryDevice, CategoryTimestamp, CategoryIdentifier}

// Detail lists the metadata found in one category as "Tag=value" entries.
type Detail struct {
	Category string
	Values   []string
}

type Insight struct {
	Kind    string
	Message string
}

type Report struct {
	Name     string
	Kind     sniff.Kind
	Details  []Detail
	Insights []Insight
	// Leaks counts location and unique-identifier tags.
	Leaks int
}

func (r Report) Clean() bool {
	return len(r.Details) == 0
}

// Scan reports privacy-relevant metadata in in. Formats without a metadata
// reader yield an empty report.
func Scan(ctx context.Context, in engine.Input) (Report, error) {
	kind, err := sniffInput(in)
	if err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	c := newCollector()
	switch kind {
	case sniff.KindJPEG, sniff.KindTIFF:
		if kind == sniff.KindJPEG && !bytes.Contains(in.Data, jpegExifHeader) {
			break
		}
		tags, err := readExif(in.Data)
		if err != nil {
			return Report{}, fail(CodeInvalidImage, in.Name, err)
		}
		c.addExif(tags)
	case sniff.KindPNG:
		if err := scanPNG(bytes.NewReader(in.Data), c); err != nil {
			return Report{}, fail(CodeInvalidImage, in.Name, err)
		}
	}

	details := c.details()
	return Report{
		Name:     in.Name,
		Kind:     kind,
		Details:  details,
		Insights: buildInsights(details),
		Leaks:    c.leaks,
	}, nil
}

// readExif locates the TIFF-structured EXIF block inside a JPEG or TIFF file
// and flattens its tags. A file without EXIF yields no tags.
func readExif(data []byte) ([]exif.ExifTag, error) {
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if noExif(err) {
			return nil, nil
		}
		return nil, err
	}
	tags, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil && !noExif(err) {
		return nil, err
	}
	return tags, nil
}

func noExif(err error) bool {
	return errors.Is(err, exif.ErrNoExif) || strings.Contains(strings.ToLower(err.Error()), "no exif")
}

type collector struct {
	values map[string][]string
	leaks  int
}

func newCollector() *collector {
	return &collector{values: make(map[string][]string)}
}

func (c *collector) add(category, key, value string) {
	c.values[category] = append(c.values[category], key+"="+value)
	if category == CategoryGPS || category == CategoryIdentifier {
		c.leaks++
	}
}

func (c *collector) addExif(tags []exif.ExifTag) {
	for _, tag := range tags {
		if cat := exifCategory(tag.TagName, tag.IfdPath); cat != "" {
			c.add(cat, tag.TagName, strings.TrimSpace(tag.Formatted))
		}
	}
}

func (c *collector) details() []Detail {
	var out []Detail
	for _, cat := range categoryOrder {
		if vals := c.values[cat]; len(vals) > 0 {
			out = append(out, Detail{Category: cat, Values: vals})
		}
	}
	return out
}

func exifCategory(name, ifdPath string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "GPS") || strings.Contains(ifdPath, "GPS"):
		return CategoryGPS
	case strings.Contains(lower, "serial"):
		return CategoryIdentifier
	case name == "Make" || name == "Model" || name == "CameraModelName" || name == "LensModel":
		return CategoryDevice
	case name == "DateTimeOriginal" || name == "DateTimeDigitized" || name == "DateTime":
		return CategoryTimestamp
	default:
		return ""
	}
}

func textCategory(key string) string {
	lower := strings.ToLower(key)
	switch {
	case strings.Contains(lower, "gps") || strings.Contains(lower, "latitude") || strings.Contains(lower, "longitude"):
		return CategoryGPS
	case strings.Contains(lower, "serial"):
		return CategoryIdentifier
	case strings.Contains(lower, "model") || strings.Contains(lower, "make"):
		return CategoryDevice
	case strings.Contains(lower, "date") || strings.Contains(lower, "time"):
		return CategoryTimestamp
	default:
		return ""
	}
}

// scanPNG walks the chunk list collecting text keys, tIME and embedded EXIF.
func scanPNG(r io.Reader, c *collector) error {
	br := bufio.NewReader(r)

	sig := make([]byte, 8)
	if _, err := io.ReadFull(br, sig); err != nil {
		return err
	}
	if !bytes.Equal(sig, pngSignature) {
		return errors.New("invalid PNG signature")
	}

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		length := binary.BigEndian.Uint32(header[:4])
		name := string(header[4:])

		switch name {
		case "tEXt", "zTXt", "iTXt", "tIME", "eXIf":
			data := make([]byte, length)
			if _, err := io.ReadFull(br, data); err != nil {
				return err
			}
			if _, err := br.Discard(4); err != nil {
				return err
			}
			c.addPNGChunk(name, data)
		default:
			if _, err := io.CopyN(io.Discard, br, int64(length)+4); err != nil {
				return err
			}
		}

		if name == "IEND" {
			return nil
		}
	}
}

func (c *collector) addPNGChunk(name string, data []byte) {
	switch name {
	case "tIME":
		if len(data) == 7 {
			c.add(CategoryTimestamp, "tIME", fmt.Sprintf("%04d:%02d:%02d %02d:%02d:%02d",
				binary.BigEndian.Uint16(data[:2]), data[2], data[3], data[4], data[5], data[6]))
		}
	case "eXIf":
		if tags, _, err := exif.GetFlatExifData(data, nil); err == nil {
			c.addExif(tags)
		}
	default:
		key, value, ok := pngText(name, data)
		if !ok {
			return
		}
		if cat := textCategory(key); cat != "" {
			c.add(cat, key, value)
		}
	}
}

// pngText extracts the keyword and, where stored uncompressed, the text of a
// tEXt, zTXt or iTXt chunk.
func pngText(name string, data []byte) (string, string, bool) {
	key, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(key) == 0 {
		return "", "", false
	}
	switch name {
	case "tEXt":
		return string(key), string(rest), true
	case "iTXt":
		// compression flag, method, language\0, translated keyword\0, text
		if len(rest) >= 2 && rest[0] == 0 {
			parts := bytes.SplitN(rest[2:], []byte{0}, 3)
			if len(parts) == 3 {
				return string(key), string(parts[2]), true
			}
		}
		return string(key), "", true
	default:
		return string(key), "", true
	}
}
