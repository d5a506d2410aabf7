// Package performance keeps the in-memory call history and its summary statistics.
package performance

import (
	"sync"

	"github.com/rewired-gh/strikewatch/internal/models"
)

// Tracker is a bounded, concurrency-safe list of outcomes. The oldest entry is
// evicted once max is reached.
type Tracker struct {
	mu       sync.RWMutex
	max      int
	outcomes []models.Outcome
	last     *models.Candidate
}

// NewTracker creates a tracker holding at most max outcomes.
func NewTracker(max int) *Tracker {
	if max < 1 {
		max = 1
	}
	return &Tracker{max: max}
}

// Record appends o.
func (t *Tracker) Record(o models.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = append(t.outcomes, o)
	if over := len(t.outcomes) - t.max; over > 0 {
		t.outcomes = append(t.outcomes[:0:0], t.outcomes[over:]...)
	}
}

// Warm loads previously persisted outcomes, oldest first.
func (t *Tracker) Warm(outcomes []models.Outcome) {
	for _, o := range outcomes {
		t.Record(o)
	}
}

// SetLastCandidate remembers the most recent accepted candidate.
func (t *Tracker) SetLastCandidate(c models.Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &c
}

// LastCandidate returns the most recent accepted candidate, if any.
func (t *Tracker) LastCandidate() (models.Candidate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return models.Candidate{}, false
	}
	return *t.last, true
}

// Recent returns up to n outcomes, newest first.
func (t *Tracker) Recent(n int) []models.Outcome {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > len(t.outcomes) {
		n = len(t.outcomes)
	}
	out := make([]models.Outcome, 0, n)
	for i := len(t.outcomes) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, t.outcomes[i])
	}
	return out
}

// Len returns the number of tracked outcomes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.outcomes)
}

// Stats summarises every tracked outcome.
func (t *Tracker) Stats() models.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.ComputeStats(t.outcomes)
}

// StatsFor summarises the outcomes of one instrument.
func (t *Tracker) StatsFor(instrument string) models.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var subset []models.Outcome
	for _, o := range t.outcomes {
		if o.Instrument == instrument {
			subset = append(subset, o)
		}
	}
	return models.ComputeStats(subset)
}

// ByInstrument returns per-instrument stats for every instrument seen.
func (t *Tracker) ByInstrument() map[string]models.Stats {
	t.mu.RLock()
	groups := make(map[string][]models.Outcome)
	for _, o := range t.outcomes {
		groups[o.Instrument] = append(groups[o.Instrument], o)
	}
	t.mu.RUnlock()

	out := make(map[string]models.Stats, len(groups))
	for inst, os := range groups {
		out[inst] = models.ComputeStats(os)
	}
	return out
}
