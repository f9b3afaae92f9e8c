package intake

import (
	"bytes"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"allinone/pkg/sniff"
)

// Source is a raw file offered for admission.
type Source interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type pathSource struct {
	path string
	name string
	size int64
}

// FromPath stats path and returns a Source reading from it. display is the
// name reported back to the user; an empty display uses the base name.
func FromPath(path, display string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if display == "" {
		display = filepath.Base(path)
	}
	return &pathSource{path: path, name: display, size: info.Size()}, nil
}

func (s *pathSource) Name() string { return s.name }
func (s *pathSource) Size() int64  { return s.size }
func (s *pathSource) Open() (io.ReadCloser, error) {
	return os.Open(s.path)
}

type byteSource struct {
	name string
	data []byte
}

// FromBytes wraps an in-memory buffer, e.g. a multipart upload.
func FromBytes(name string, data []byte) Source {
	return &byteSource{name: name, data: data}
}

func (s *byteSource) Name() string { return s.name }
func (s *byteSource) Size() int64  { return int64(len(s.data)) }
func (s *byteSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

// DetectType returns the sniffed kind and media type for a buffered file.
// Magic bytes win over the extension.
func DetectType(name string, data []byte) (sniff.Kind, string) {
	kind := sniff.Detect(data)
	if kind != sniff.KindUnknown {
		return kind, kind.MIME()
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		return kind, byExt
	}
	return kind, "application/octet-stream"
}

// Collect expands root into sources. A regular file yields itself; a
// directory is walked and every regular file whose sniffed kind is accepted is
// returned. skipDir, when inside root, is not descended into. An empty accept
// list accepts every known kind.
func Collect(root string, accept []sniff.Kind, skipDir string) ([]Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		src, err := FromPath(absRoot, "")
		if err != nil {
			return nil, err
		}
		return []Source{src}, nil
	}

	var skipAbs string
	if skipDir != "" {
		if abs, err := filepath.Abs(skipDir); err == nil && filepath.Clean(abs) != filepath.Clean(absRoot) && isWithin(abs, absRoot) {
			skipAbs = abs
		}
	}

	var out []Source
	err = fs.WalkDir(os.DirFS(absRoot), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		fullPath := filepath.Join(absRoot, path)
		if d.IsDir() {
			if skipAbs != "" && isWithin(fullPath, skipAbs) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		kind, err := sniff.SniffFile(fullPath)
		if err != nil || !accepts(accept, kind) {
			return nil
		}

		src, err := FromPath(fullPath, path)
		if err != nil {
			return err
		}
		out = append(out, src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func accepts(accept []sniff.Kind, kind sniff.Kind) bool {
	if kind == sniff.KindUnknown {
		return false
	}
	if len(accept) == 0 {
		return true
	}
	for _, k := range accept {
		if k == kind {
			return true
		}
	}
	return false
}

func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
