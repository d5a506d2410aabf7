package marketdata

import "sync"

// History keeps a bounded ring of (price, volume) samples per instrument.
type History struct {
	mu     sync.Mutex
	size   int
	series map[string]*ring
}

type ring struct {
	prices  []float64
	volumes []float64
	index   int
}

// NewHistory creates a history holding at most size samples per instrument.
func NewHistory(size int) *History {
	if size < 2 {
		size = 2
	}
	return &History{size: size, series: make(map[string]*ring)}
}

// Add appends a sample and returns copies of the instrument's series,
// oldest first.
func (h *History) Add(instrument string, price, volume float64) ([]float64, []float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.series[instrument]
	if !ok {
		r = &ring{}
		h.series[instrument] = r
	}
	if len(r.prices) < h.size {
		r.prices = append(r.prices, price)
		r.volumes = append(r.volumes, volume)
	} else {
		r.prices[r.index] = price
		r.volumes[r.index] = volume
	}
	r.index = (r.index + 1) % h.size

	return r.ordered(r.prices, h.size), r.ordered(r.volumes, h.size)
}

// Len returns the number of samples held for instrument.
func (h *History) Len(instrument string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.series[instrument]; ok {
		return len(r.prices)
	}
	return 0
}

// Last returns the most recent price for instrument.
func (h *History) Last(instrument string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.series[instrument]
	if !ok || len(r.prices) == 0 {
		return 0, false
	}
	i := (r.index - 1 + len(r.prices)) % len(r.prices)
	return r.prices[i], true
}

// ordered unrolls buf so the oldest sample comes first. Until the ring is
// full the write index equals the length and buf is already in order.
func (r *ring) ordered(buf []float64, size int) []float64 {
	start := 0
	if len(buf) == size {
		start = r.index
	}
	out := make([]float64, 0, len(buf))
	out = append(out, buf[start:]...)
	out = append(out, buf[:start]...)
	return out
}
