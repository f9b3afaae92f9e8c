package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"allinone/internal/engine"
)

const (
	CodeInvalidOptions engine.Code = "INVALID_OPTIONS"
	CodeNoFiles        engine.Code = "NO_FILES"
)

// Params are the string options of one run, e.g. from --set key=value flags
// or multipart form fields.
type Params map[string]string

// ParseParams parses key=value pairs. Keys are case-insensitive.
func ParseParams(pairs []string) (Params, error) {
	p := Params{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return nil, fmt.Errorf("option %q is not key=value", pair)
		}
		p[key] = strings.TrimSpace(value)
	}
	return p, nil
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) reader(domain engine.Domain) *paramReader {
	return &paramReader{p: p, domain: domain}
}

// paramReader decodes typed values and keeps the first failure.
type paramReader struct {
	p      Params
	domain engine.Domain
	err    error
}

func (r *paramReader) lookup(key string) (string, bool) {
	v, ok := r.p[key]
	return v, ok && v != ""
}

func (r *paramReader) fail(key, value, want string) {
	if r.err == nil {
		r.err = engine.NewError(r.domain, CodeInvalidOptions, fmt.Errorf("option %s=%q is not %s", key, value, want))
	}
}

func (r *paramReader) String(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *paramReader) Int(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, "an integer")
		return def
	}
	return n
}

func (r *paramReader) Float(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, "a number")
		return def
	}
	return f
}

func (r *paramReader) Bool(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, "a boolean")
		return def
	}
	return b
}

// Duration accepts Go durations ("1500ms") or plain seconds ("1.5").
func (r *paramReader) Duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, "a duration")
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func (r *paramReader) Err() error {
	return r.err
}
