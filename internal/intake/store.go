// Package intake buffers user-supplied files in memory and owns the lifetime of
// their preview handles and of the processing result's download handle.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"allinone/internal/engine"
	"allinone/pkg/sniff"
)

const (
	DefaultMaxFileSize int64 = 100 * 1024 * 1024
	DefaultMaxFiles          = 10
)

const (
	CodeFileTooLarge engine.Code = "FILE_TOO_LARGE"
	CodeReadFailed   engine.Code = "READ_FAILED"
)

var (
	ErrNotFound        = errors.New("buffered file not found")
	ErrIndexOutOfRange = errors.New("index out of range")
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Handles issues and releases download/preview handles.
type Handles interface {
	Create(b *engine.Blob) string
	Revoke(handle string)
}

// Saver persists the blob behind handle under filename and returns where it went.
type Saver interface {
	Save(ctx context.Context, handle, filename string) (string, error)
}

type AdmitConfig struct {
	Multiple    bool
	MaxFiles    int
	MaxFileSize int64
}

func (c AdmitConfig) withDefaults() AdmitConfig {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	return c
}

// BufferedFile is one admitted file. It is never mutated after admission.
type BufferedFile struct {
	ID      string
	Name    string
	Size    int64
	Type    string
	Kind    sniff.Kind
	Data    []byte
	Preview string
}

// Result is the output of a successful run together with its download handle.
type Result struct {
	Blob   *engine.Blob
	Handle string
}

type Store struct {
	handles Handles

	mu       sync.RWMutex
	files    []*BufferedFile
	status   Status
	err      error
	progress float64
	result   *Result
}

func NewStore(handles Handles) *Store {
	return &Store{handles: handles, status: StatusIdle}
}

// Admit reads sources into memory. The whole call fails, leaving the store
// untouched, if any source is larger than cfg.MaxFileSize or cannot be read.
func (s *Store) Admit(ctx context.Context, sources []Source, cfg AdmitConfig) error {
	cfg = cfg.withDefaults()

	for _, src := range sources {
		if src.Size() > cfg.MaxFileSize {
			return tooLarge(src.Name(), src.Size(), cfg.MaxFileSize)
		}
	}

	if !cfg.Multiple && len(sources) > 1 {
		sources = sources[:1]
	}

	admitted := make([]*BufferedFile, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			s.release(admitted)
			return err
		}
		bf, err := s.buffer(src, cfg.MaxFileSize)
		if err != nil {
			s.release(admitted)
			return err
		}
		admitted = append(admitted, bf)
	}

	s.mu.Lock()
	var dropped []*BufferedFile
	if cfg.Multiple {
		combined := append(append([]*BufferedFile{}, s.files...), admitted...)
		if len(combined) > cfg.MaxFiles {
			dropped = combined[cfg.MaxFiles:]
			combined = combined[:cfg.MaxFiles]
		}
		s.files = combined
	} else {
		dropped = s.files
		s.files = admitted
	}
	prev := s.result
	s.result = nil
	s.status = StatusIdle
	s.err = nil
	s.progress = 0
	s.mu.Unlock()

	s.release(dropped)
	s.releaseResult(prev)
	return nil
}

func (s *Store) buffer(src Source, limit int64) (*BufferedFile, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, readFailed(src.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, readFailed(src.Name(), err)
	}
	if int64(len(data)) > limit {
		return nil, tooLarge(src.Name(), int64(len(data)), limit)
	}

	kind, mimeType := DetectType(src.Name(), data)
	bf := &BufferedFile{
		ID:   uuid.NewString(),
		Name: src.Name(),
		Size: int64(len(data)),
		Type: mimeType,
		Kind: kind,
		Data: data,
	}
	if strings.HasPrefix(mimeType, "image/") {
		bf.Preview = s.handles.Create(&engine.Blob{Data: data, Type: mimeType})
	}
	return bf, nil
}

// Remove drops the file with id and releases its preview.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	idx := -1
	for i, f := range s.files {
		if f.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	removed := s.files[idx]
	s.files = append(s.files[:idx:idx], s.files[idx+1:]...)
	s.mu.Unlock()

	s.release([]*BufferedFile{removed})
	return nil
}

// Clear releases every buffered file and the current result.
func (s *Store) Clear() {
	s.mu.Lock()
	files, result := s.files, s.result
	s.files = nil
	s.result = nil
	s.mu.Unlock()

	s.release(files)
	s.releaseResult(result)
}

// Reset is Clear plus zeroing status, error and progress.
func (s *Store) Reset() {
	s.mu.Lock()
	files, result := s.files, s.result
	s.files = nil
	s.result = nil
	s.status = StatusIdle
	s.err = nil
	s.progress = 0
	s.mu.Unlock()

	s.release(files)
	s.releaseResult(result)
}

// Reorder moves the file at from to position to.
func (s *Store) Reorder(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.files)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}

	moved := s.files[from]
	files := append(s.files[:from:from], s.files[from+1:]...)
	files = append(files[:to], append([]*BufferedFile{moved}, files[to:]...)...)
	s.files = files
	return nil
}

// SetResult stores blob as the current result with a fresh download handle.
func (s *Store) SetResult(blob *engine.Blob) {
	handle := s.handles.Create(blob)

	s.mu.Lock()
	prev := s.result
	s.result = &Result{Blob: blob, Handle: handle}
	s.status = StatusSuccess
	s.err = nil
	s.progress = 100
	s.mu.Unlock()

	s.releaseResult(prev)
}

// DownloadResult hands a transient handle for the current result to saver and
// revokes it once saver returns. It returns "" without error if there is no result.
func (s *Store) DownloadResult(ctx context.Context, filename string, saver Saver) (string, error) {
	s.mu.RLock()
	result := s.result
	s.mu.RUnlock()
	if result == nil {
		return "", nil
	}

	handle := s.handles.Create(result.Blob)
	defer s.handles.Revoke(handle)

	path, err := saver.Save(ctx, handle, filename)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", filename, err)
	}
	return path, nil
}

func (s *Store) SetProcessing() {
	s.mu.Lock()
	s.status = StatusProcessing
	s.err = nil
	s.mu.Unlock()
}

func (s *Store) SetProgress(p float64) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// Interrupt returns a processing store to idle, keeping files and result.
func (s *Store) Interrupt() {
	s.mu.Lock()
	if s.status == StatusProcessing {
		s.status = StatusIdle
		s.progress = 0
	}
	s.mu.Unlock()
}

// Fail records err and moves the store to the error status.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	s.status = StatusError
	s.err = err
	s.progress = 0
	s.mu.Unlock()
}

// Files returns a snapshot of the buffered files in order.
func (s *Store) Files() []*BufferedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*BufferedFile(nil), s.files...)
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Store) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *Store) Result() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

func (s *Store) release(files []*BufferedFile) {
	for _, f := range files {
		if f.Preview != "" {
			s.handles.Revoke(f.Preview)
		}
	}
}

func (s *Store) releaseResult(r *Result) {
	if r != nil && r.Handle != "" {
		s.handles.Revoke(r.Handle)
	}
}

func tooLarge(name string, size, limit int64) error {
	err := fmt.Errorf("%d bytes exceeds limit of %d bytes", size, limit)
	return engine.NewError(engine.DomainIntake, CodeFileTooLarge, err).WithFile(name)
}

func readFailed(name string, err error) error {
	return engine.NewError(engine.DomainIntake, CodeReadFailed, err).WithFile(name)
}
