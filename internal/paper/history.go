package paper

import "github.com/alanyoungcy/polyarb/internal/domain"

// history is a fixed-capacity ring of opportunities. Once full, each push
// overwrites the oldest entry.
type history struct {
	buf   []domain.Opportunity
	start int
	n     int
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 500
	}
	return &history{buf: make([]domain.Opportunity, size)}
}

func (h *history) push(opps ...domain.Opportunity) {
	for _, o := range opps {
		if h.n < len(h.buf) {
			h.buf[(h.start+h.n)%len(h.buf)] = o
			h.n++
			continue
		}
		h.buf[h.start] = o
		h.start = (h.start + 1) % len(h.buf)
	}
}

// items returns the entries oldest first in a fresh slice.
func (h *history) items() []domain.Opportunity {
	out := make([]domain.Opportunity, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *history) clear() {
	clear(h.buf)
	h.start = 0
	h.n = 0
}
