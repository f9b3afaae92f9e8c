package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"allinone/internal/engine"
)

const GIFMIME = "image/gif"

type GIFOptions struct {
	FPS      int
	Width    int // output width in pixels; height keeps the aspect ratio
	Start    time.Duration
	Duration time.Duration
}

func DefaultGIF() GIFOptions {
	return GIFOptions{FPS: 10, Width: 480, Duration: 5 * time.Second}
}

func (o GIFOptions) validate() error {
	switch {
	case o.FPS < 1 || o.FPS > 30:
		return fmt.Errorf("fps must be within 1-30")
	case o.Width < 16 || o.Width > 1920:
		return fmt.Errorf("width must be within 16-1920")
	case o.Start < 0:
		return fmt.Errorf("start must not be negative")
	case o.Duration <= 0 || o.Duration > time.Minute:
		return fmt.Errorf("duration must be within (0, 1m]")
	}
	return nil
}

func (o GIFOptions) frames() int {
	return max(1, int(o.Duration.Seconds()*float64(o.FPS)))
}

func (o GIFOptions) filter() string {
	return fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos,split[a][b];[a]palettegen[p];[b][p]paletteuse", o.FPS, o.Width)
}

func fail(code engine.Code, name string, err error) error {
	return engine.NewError(engine.DomainVideo, code, err).WithFile(name)
}

// ToGIF converts a clip of in to an animated GIF using a generated palette.
// Progress is reported per encoded frame as ffmpeg emits it.
func ToGIF(ctx context.Context, loader *Loader, in engine.Input, opts GIFOptions, progress engine.ProgressFunc) (*engine.Blob, error) {
	if len(in.Data) == 0 {
		return nil, fail(CodeEmptyFile, in.Name, nil)
	}
	if err := opts.validate(); err != nil {
		return nil, fail(CodeInvalidOptions, in.Name, err)
	}

	rt, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "allinone-video-*")
	if err != nil {
		return nil, fail(CodeConversionFailed, in.Name, err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input"+filepath.Ext(in.Name))
	dst := filepath.Join(dir, "output.gif")
	if err := os.WriteFile(src, in.Data, 0o600); err != nil {
		return nil, fail(CodeConversionFailed, in.Name, err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-ss", seconds(opts.Start), "-t", seconds(opts.Duration),
		"-i", src,
		"-vf", opts.filter(),
		"-loop", "0",
		"-progress", "pipe:1",
		dst,
	}
	cmd := exec.CommandContext(ctx, rt.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fail(CodeConversionFailed, in.Name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fail(CodeConversionFailed, in.Name, err)
	}

	total := opts.frames()
	readProgress(stdout, total, progress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fail(CodeConversionFailed, in.Name, fmt.Errorf("%w: %s", err, lastLine(stderr.String())))
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, fail(CodeConversionFailed, in.Name, err)
	}
	if len(data) == 0 {
		return nil, fail(CodeConversionFailed, in.Name, fmt.Errorf("ffmpeg produced an empty file"))
	}
	return &engine.Blob{Data: data, Type: GIFMIME}, nil
}

// readProgress consumes ffmpeg's key=value progress stream until EOF.
func readProgress(r io.Reader, total int, progress engine.ProgressFunc) {
	last := 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			n, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			if n = min(n, total); n > last {
				last = n
				engine.Report(progress, last, total)
			}
		case "progress":
			if value == "end" && last < total {
				last = total
				engine.Report(progress, total, total)
			}
		}
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
