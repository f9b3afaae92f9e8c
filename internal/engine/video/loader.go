// Package video converts video clips with an external ffmpeg runtime that is
// located and checked lazily on first use.
package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"allinone/internal/engine"
)

const (
	CodeEmptyFile        engine.Code = "EMPTY_FILE"
	CodeInvalidOptions   engine.Code = "INVALID_OPTIONS"
	CodeFFmpegLoadFailed engine.Code = "FFMPEG_LOAD_FAILED"
	CodeConversionFailed engine.Code = "CONVERSION_FAILED"
)

// Runtime is a located, working ffmpeg binary.
type Runtime struct {
	Path    string
	Version string
}

// FindFunc locates and checks a runtime.
type FindFunc func(ctx context.Context) (*Runtime, error)

// Loader initializes the runtime once. Concurrent callers share a single
// in-flight load. A successful runtime is kept for the life of the Loader; a
// failed load is retried by the next caller.
type Loader struct {
	find  FindFunc
	log   zerolog.Logger
	group singleflight.Group

	mu sync.Mutex
	rt *Runtime
}

// NewLoader returns a loader for the ffmpeg binary at path, or the one on
// PATH when path is empty.
func NewLoader(path string, log zerolog.Logger) *Loader {
	return NewLoaderFunc(locate(path), log)
}

func NewLoaderFunc(find FindFunc, log zerolog.Logger) *Loader {
	return &Loader{find: find, log: log.With().Str("component", "ffmpeg").Logger()}
}

func (l *Loader) Load(ctx context.Context) (*Runtime, error) {
	l.mu.Lock()
	rt := l.rt
	l.mu.Unlock()
	if rt != nil {
		return rt, nil
	}

	v, err, shared := l.group.Do("runtime", func() (any, error) {
		l.mu.Lock()
		if l.rt != nil {
			defer l.mu.Unlock()
			return l.rt, nil
		}
		l.mu.Unlock()

		rt, err := l.find(ctx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.rt = rt
		l.mu.Unlock()
		l.log.Info().Str("path", rt.Path).Str("version", rt.Version).Msg("ffmpeg runtime loaded")
		return rt, nil
	})
	if err != nil {
		l.log.Warn().Err(err).Bool("shared", shared).Msg("ffmpeg runtime load failed")
		return nil, engine.NewError(engine.DomainVideo, CodeFFmpegLoadFailed, err)
	}
	return v.(*Runtime), nil
}

// Loaded reports whether a runtime has been memoized.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt != nil
}

func locate(path string) FindFunc {
	return func(ctx context.Context) (*Runtime, error) {
		if path == "" {
			path = "ffmpeg"
		}
		bin, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("locate ffmpeg: %w", err)
		}

		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, "-hide_banner", "-version")
		cmd.Stdout = &out
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("check %s: %w", bin, err)
		}
		return &Runtime{Path: bin, Version: parseVersion(out.String())}, nil
	}
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(banner string) string {
	line, _, _ := strings.Cut(banner, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return "unknown"
}
