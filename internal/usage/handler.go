package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Counter keeps per-tool, per-locale usage counts in memory.
type Counter struct {
	mu     sync.Mutex
	counts map[Event]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[Event]int)}
}

func (c *Counter) Add(e Event) {
	c.mu.Lock()
	c.counts[e]++
	c.mu.Unlock()
}

// Track records the event locally, so a server can count its own runs.
func (c *Counter) Track(_ context.Context, toolID, locale string) error {
	c.Add(Event{ToolID: toolID, Locale: locale})
	return nil
}

// Count is one row of the usage summary.
type Count struct {
	ToolID string `json:"toolId"`
	Locale string `json:"locale"`
	Count  int    `json:"count"`
}

// Counts returns every row ordered by tool then locale.
func (c *Counter) Counts() []Count {
	c.mu.Lock()
	out := make([]Count, 0, len(c.counts))
	for e, n := range c.counts {
		out = append(out, Count{ToolID: e.ToolID, Locale: e.Locale, Count: n})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ToolID != out[j].ToolID {
			return out[i].ToolID < out[j].ToolID
		}
		return out[i].Locale < out[j].Locale
	})
	return out
}

// Routes mounts the tracking endpoint on r.
func Routes(r chi.Router, counter *Counter, log zerolog.Logger) {
	r.Post(Path, func(w http.ResponseWriter, req *http.Request) {
		var e Event
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 4<<10)).Decode(&e); err != nil {
			http.Error(w, "invalid usage payload", http.StatusBadRequest)
			return
		}
		if e.ToolID == "" {
			http.Error(w, "toolId is required", http.StatusBadRequest)
			return
		}
		counter.Add(e)
		log.Debug().Str("tool", e.ToolID).Str("locale", e.Locale).Msg("usage recorded")
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get(Path, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(counter.Counts())
	})
}
