// Package tools binds format engines to the intake store and the staged
// controller. Each Tool is one user-facing operation.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"allinone/internal/engine"
	"allinone/internal/engine/video"
	"allinone/internal/staged"
	"allinone/pkg/sniff"
)

// Env carries the process-wide collaborators a tool may need.
type Env struct {
	Video *video.Loader
	Log   zerolog.Logger
}

// Job is one invocation of a tool's engine.
type Job struct {
	Files    []engine.Input
	Params   Params
	Progress engine.ProgressFunc
	Env      Env
}

type Tool struct {
	ID       string
	Title    string
	Category string
	Domain   engine.Domain
	Multiple bool
	Accept   []sniff.Kind
	Stages   []staged.Stage
	// Output names the result; "{name}" expands to the first input's base name.
	Output  string
	Options []Option
	Process func(ctx context.Context, job Job) (*engine.Blob, error)
}

// Option documents one accepted parameter.
type Option struct {
	Key     string `json:"key"`
	Default string `json:"default,omitempty"`
	Help    string `json:"help,omitempty"`
}

// OutputName returns the download filename for blob produced from inputs.
func (t *Tool) OutputName(inputs []string, blob *engine.Blob) string {
	base := "output"
	if len(inputs) > 0 {
		base = strings.TrimSuffix(filepath.Base(inputs[0]), filepath.Ext(inputs[0]))
	}
	name := strings.ReplaceAll(t.Output, "{name}", base)
	if name == "" {
		name = base
	}
	if blob != nil {
		name += extension(blob.Type)
	}
	return name
}

// Accepts reports whether kind is an input this tool takes.
func (t *Tool) Accepts(kind sniff.Kind) bool {
	for _, k := range t.Accept {
		if k == kind {
			return true
		}
	}
	return false
}

func extension(mime string) string {
	switch mime {
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	default:
		return ".bin"
	}
}

type Registry struct {
	tools []*Tool
	byID  map[string]*Tool
}

func NewRegistry(tools ...*Tool) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		if t.ID == "" || t.Process == nil {
			return nil, fmt.Errorf("tool %q is incomplete", t.ID)
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.ID)
		}
		r.byID[t.ID] = t
		r.tools = append(r.tools, t)
	}
	return r, nil
}

func (r *Registry) Lookup(id string) (*Tool, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []*Tool {
	return append([]*Tool(nil), r.tools...)
}
