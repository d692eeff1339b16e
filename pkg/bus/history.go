package bus

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity bounds the event history when Config leaves it
// unset.
const DefaultHistoryCapacity = 1000

// HistoryFilter narrows History results. Zero values mean "no constraint".
// Name may be a wildcard pattern. Limit keeps only the most recent N entries
// of the filtered set, oldest-first order preserved.
type HistoryFilter struct {
	Name   string
	Source string
	Since  time.Time
	Limit  int
}

// HistoryStats aggregates the recorded history. Total and the maps describe
// the entries currently retained; Dropped counts entries evicted by the
// capacity bound since construction.
type HistoryStats struct {
	Total    int            `json:"total"`
	Dropped  uint64         `json:"dropped"`
	ByName   map[string]int `json:"by_name"`
	BySource map[string]int `json:"by_source"`
	OldestAt time.Time      `json:"oldest_at,omitzero"`
	NewestAt time.Time      `json:"newest_at,omitzero"`
}

// history is a fixed-capacity ring. Appends past capacity evict the oldest
// entry first.
type history struct {
	mu      sync.Mutex
	buf     []Event
	start   int
	size    int
	dropped uint64
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}

	return &history{buf: make([]Event, capacity)}
}

func (h *history) append(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size == len(h.buf) {
		h.buf[h.start] = evt
		h.start = (h.start + 1) % len(h.buf)
		h.dropped++

		return
	}

	h.buf[(h.start+h.size)%len(h.buf)] = evt
	h.size++
}

// snapshot returns the retained entries oldest-first.
func (h *history) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := range h.size {
		out = append(out, h.buf[(h.start+i)%len(h.buf)])
	}

	return out
}

func (h *history) filtered(filter HistoryFilter) []Event {
	entries := h.snapshot()

	var matcher func(string) bool

	switch {
	case filter.Name == "":
		matcher = func(string) bool { return true }
	case isPattern(filter.Name):
		re := compilePattern(filter.Name)
		matcher = re.MatchString
	default:
		matcher = func(name string) bool { return name == filter.Name }
	}

	out := make([]Event, 0, len(entries))

	for _, evt := range entries {
		if !matcher(evt.Name) {
			continue
		}

		if filter.Source != "" && evt.Source != filter.Source {
			continue
		}

		if !filter.Since.IsZero() && evt.Timestamp.Before(filter.Since) {
			continue
		}

		out = append(out, evt)
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}

	return out
}

func (h *history) stats() HistoryStats {
	entries := h.snapshot()

	h.mu.Lock()
	dropped := h.dropped
	h.mu.Unlock()

	stats := HistoryStats{
		Total:    len(entries),
		Dropped:  dropped,
		ByName:   make(map[string]int, len(entries)),
		BySource: make(map[string]int),
	}

	for _, evt := range entries {
		stats.ByName[evt.Name]++
		if evt.Source != "" {
			stats.BySource[evt.Source]++
		}
	}

	if len(entries) > 0 {
		stats.OldestAt = entries[0].Timestamp
		stats.NewestAt = entries[len(entries)-1].Timestamp
	}

	return stats
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.start = 0
	h.size = 0
}
