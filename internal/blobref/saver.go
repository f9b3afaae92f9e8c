package blobref

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSaver writes resolved blobs into Dir. It plays the part of the
// browser's download prompt. Names saved earlier by the same FileSaver are
// never overwritten; a later save of the same name gets a numbered suffix.
type FileSaver struct {
	Registry *Registry
	Dir      string

	mu      sync.Mutex
	claimed map[string]bool
}

// Save resolves handle and writes its blob to Dir/filename via a temp file and rename.
func (s *FileSaver) Save(ctx context.Context, handle, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	blob, ok := s.Registry.Resolve(handle)
	if !ok {
		return "", fmt.Errorf("handle %s is not live", handle)
	}

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid download filename %q", filename)
	}

	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	destPath := s.claim(filepath.Join(dir, name))

	tmpFile, err := os.CreateTemp(dir, "allinone-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(blob.Data); err != nil {
		_ = tmpFile.Close()
		return "", err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		return "", err
	}

	if err := replaceFile(tmpFile.Name(), destPath); err != nil {
		return "", err
	}
	return destPath, nil
}

// claim reserves path, or the first free "name_N.ext" variant of it.
func (s *FileSaver) claim(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed == nil {
		s.claimed = make(map[string]bool)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	candidate := path
	for n := 2; s.claimed[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	s.claimed[candidate] = true
	return candidate
}

func replaceFile(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, destPath)
}
