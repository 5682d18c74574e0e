package agent

import "droid-pilot/internal/action"

const (
	minHistory = 5
	maxHistory = 8
)

// history is a fixed size ring of step summaries fed back to the model.
type history struct {
	entries []string
	size    int
}

func newHistory(size int) *history {
	size = max(minHistory, min(maxHistory, size))
	return &history{size: size, entries: make([]string, 0, size)}
}

func (h *history) add(in action.Intent, ok bool) {
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	entry := mark + " " + in.Summary()
	if len(h.entries) == h.size {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.size-1]
	}
	h.entries = append(h.entries, entry)
}

func (h *history) snapshot() []string {
	return append([]string(nil), h.entries...)
}
