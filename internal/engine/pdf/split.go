package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"allinone/internal/engine"
)

const ZipMIME = "application/zip"

type SplitOptions struct {
	Ranges    string
	EveryPage bool
}

// Split extracts one document per range. A single range yields a plain PDF;
// several yield a zip archive of PDFs. Progress is reported per range.
func Split(ctx context.Context, in engine.Input, opts SplitOptions, progress engine.ProgressFunc) (*engine.Blob, error) {
	if !opts.EveryPage && strings.TrimSpace(opts.Ranges) == "" {
		return nil, fail(CodeInvalidOptions, in.Name, fmt.Errorf("either ranges or every-page must be set"))
	}
	n, err := open(in)
	if err != nil {
		return nil, err
	}

	ranges := EveryPage(n)
	if !opts.EveryPage {
		if ranges, err = ParseRanges(opts.Ranges, n); err != nil {
			return nil, fail(CodeInvalidPageRange, in.Name, err)
		}
	}

	parts := make([]namedPart, 0, len(ranges))
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := api.Trim(bytes.NewReader(in.Data), &buf, []string{r.String()}, newConfig()); err != nil {
			return nil, fail(CodeProcessingFailed, in.Name, fmt.Errorf("extract pages %s: %w", r, err))
		}
		parts = append(parts, namedPart{
			name: fmt.Sprintf("%s_%s.pdf", baseName(in.Name), strings.ReplaceAll(r.String(), "-", "_to_")),
			data: buf.Bytes(),
		})
		engine.Report(progress, i+1, len(ranges))
	}

	if len(parts) == 1 {
		return &engine.Blob{Data: parts[0].data, Type: MIME}, nil
	}
	data, err := zipParts(parts)
	if err != nil {
		return nil, fail(CodeProcessingFailed, in.Name, err)
	}
	return &engine.Blob{Data: data, Type: ZipMIME}, nil
}

type namedPart struct {
	name string
	data []byte
}

func zipParts(parts []namedPart) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now()
	for _, p := range parts {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate, Modified: now})
		if err != nil {
			return nil, fmt.Errorf("add %s to archive: %w", p.name, err)
		}
		if _, err := w.Write(p.data); err != nil {
			return nil, fmt.Errorf("write %s to archive: %w", p.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func baseName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		return "document"
	}
	return base
}
