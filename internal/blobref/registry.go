// Package blobref issues short-lived string handles for in-memory blobs, the
// way a browser issues object URLs. A handle resolves until it is revoked.
package blobref

import (
	"sync"

	"github.com/google/uuid"

	"allinone/internal/engine"
)

const scheme = "blob:"

type Registry struct {
	mu    sync.RWMutex
	blobs map[string]*engine.Blob
}

func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string]*engine.Blob)}
}

// Create registers b and returns a fresh handle for it.
func (r *Registry) Create(b *engine.Blob) string {
	handle := scheme + uuid.NewString()
	r.mu.Lock()
	r.blobs[handle] = b
	r.mu.Unlock()
	return handle
}

// Revoke releases handle. Unknown or already revoked handles are ignored.
func (r *Registry) Revoke(handle string) {
	r.mu.Lock()
	delete(r.blobs, handle)
	r.mu.Unlock()
}

func (r *Registry) Resolve(handle string) (*engine.Blob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[handle]
	return b, ok
}

// Live returns the number of handles not yet revoked.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
