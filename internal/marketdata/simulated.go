package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rewired-gh/strikewatch/internal/indicators"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// SimulatedConfig controls the mock feed.
type SimulatedConfig struct {
	BasePrices map[string]float64
	Seed       int64
	StepPct    float64 // stdev of the per-sample move, percent
	BaseVolume float64
	WarmUp     int // samples generated before the first snapshot
}

// DefaultBasePrices are the reference levels of the supported indices.
func DefaultBasePrices() map[string]float64 {
	return map[string]float64{
		"NIFTY":     24500,
		"BANKNIFTY": 52000,
		"SENSEX":    81000,
	}
}

// SimulatedSource is a seeded random-walk feed around configured base prices.
// The same seed yields the same sequence of snapshots.
type SimulatedSource struct {
	cfg     SimulatedConfig
	history *History
	params  indicators.Params
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSource creates a simulated feed writing into history.
func NewSimulatedSource(cfg SimulatedConfig, history *History, params indicators.Params) *SimulatedSource {
	if len(cfg.BasePrices) == 0 {
		cfg.BasePrices = DefaultBasePrices()
	}
	if cfg.StepPct <= 0 {
		cfg.StepPct = 0.05
	}
	if cfg.BaseVolume <= 0 {
		cfg.BaseVolume = 100000
	}
	return &SimulatedSource{
		cfg:     cfg,
		history: history,
		params:  params,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (s *SimulatedSource) Name() string { return "simulated" }

// Snapshot advances the walk one step for instrument and returns the result.
func (s *SimulatedSource) Snapshot(ctx context.Context, instrument string) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.Snapshot{}, err
	}
	base, ok := s.cfg.BasePrices[instrument]
	if !ok {
		return models.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.history.Len(instrument) == 0 {
		price := base
		for i := 0; i < s.cfg.WarmUp; i++ {
			price = s.step(price)
			s.history.Add(instrument, price, s.volume())
		}
	}

	last, ok := s.history.Last(instrument)
	if !ok {
		last = base
	}
	price := s.step(last)
	return buildSnapshot(s.history, s.params, s.Name(), instrument, price, s.volume(), s.now()), nil
}

func (s *SimulatedSource) step(price float64) float64 {
	next := price * (1 + s.rng.NormFloat64()*s.cfg.StepPct/100)
	if next <= 0 {
		return price
	}
	return next
}

func (s *SimulatedSource) volume() float64 {
	return s.cfg.BaseVolume * (0.5 + s.rng.Float64())
}
