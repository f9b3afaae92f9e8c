// Package engine holds the contract shared by every format engine: the output
// blob, fractional progress reporting, and the tagged error type.
package engine

import "math"

// Blob is an immutable output buffer with its media type.
type Blob struct {
	Data []byte
	Type string
}

// NewBlob copies data so the blob never aliases an engine's working buffers.
func NewBlob(data []byte, mime string) *Blob {
	out := make([]byte, len(data))
	copy(out, data)
	return &Blob{Data: out, Type: mime}
}

func (b *Blob) Size() int64 {
	if b == nil {
		return 0
	}
	return int64(len(b.Data))
}

// Input is one file handed to an engine. Engines read Data but never keep it.
type Input struct {
	Name string
	Data []byte
}

// Progress is reported after each discrete unit (page, frame, file) completes.
type Progress struct {
	Current    int
	Total      int
	Percentage float64
}

type ProgressFunc func(Progress)

// Report calls fn with the progress for current of total units. A nil fn is ignored.
func Report(fn ProgressFunc, current, total int) {
	if fn == nil || total <= 0 {
		return
	}
	pct := math.Round(float64(current)/float64(total)*1000) / 10
	fn(Progress{Current: current, Total: total, Percentage: pct})
}
