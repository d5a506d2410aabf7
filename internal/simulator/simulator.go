// Package simulator resolves accepted candidates into simulated outcomes.
//
// The success probability is derived from the candidate's own confidence, so
// win rates reflect the configured constants and not any real strategy.
package simulator

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/shopspring/decimal"
)

// ErrNotAccepted is returned when asked to resolve a rejected candidate.
var ErrNotAccepted = errors.New("candidate was not accepted")

// Config holds the probability mapping and position sizing.
type Config struct {
	Seed     int64
	Slope    float64
	Base     float64
	MinProb  float64
	MaxProb  float64
	Lots     int
	LotSizes map[string]int
}

// DefaultLotSizes are the exchange lot sizes of the supported index options.
func DefaultLotSizes() map[string]int {
	return map[string]int{
		"NIFTY":     75,
		"BANKNIFTY": 35,
		"SENSEX":    20,
	}
}

// DefaultConfig returns p = (confidence-50)/50 bounded to [0.05, 0.95], one lot.
func DefaultConfig() Config {
	return Config{
		Seed:     1,
		Slope:    1,
		Base:     0,
		MinProb:  0.05,
		MaxProb:  0.95,
		Lots:     1,
		LotSizes: DefaultLotSizes(),
	}
}

// Simulator draws outcomes from a seeded source. It is safe for concurrent use.
type Simulator struct {
	cfg   Config
	newID func() string
	now   func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a simulator seeded from cfg.Seed.
func New(cfg Config) *Simulator {
	if cfg.Lots < 1 {
		cfg.Lots = 1
	}
	if cfg.LotSizes == nil {
		cfg.LotSizes = DefaultLotSizes()
	}
	if cfg.MaxProb <= 0 || cfg.MaxProb > 1 {
		cfg.MaxProb = 1
	}
	if cfg.MinProb < 0 || cfg.MinProb > cfg.MaxProb {
		cfg.MinProb = 0
	}
	return &Simulator{
		cfg:   cfg,
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SuccessProbability maps confidence linearly onto [MinProb, MaxProb].
func (s *Simulator) SuccessProbability(confidence float64) float64 {
	p := (confidence-50)/50*s.cfg.Slope + s.cfg.Base
	if p < s.cfg.MinProb {
		return s.cfg.MinProb
	}
	if p > s.cfg.MaxProb {
		return s.cfg.MaxProb
	}
	return p
}

// Quantity is lot size times lots for instrument.
func (s *Simulator) Quantity(instrument string) int64 {
	size, ok := s.cfg.LotSizes[instrument]
	if !ok || size < 1 {
		size = 1
	}
	return int64(size * s.cfg.Lots)
}

// Resolve draws a win or loss for c. A win books the distance to target, a
// loss the distance to stop, both times Quantity.
func (s *Simulator) Resolve(c models.Candidate) (models.Outcome, error) {
	if !c.Accepted {
		return models.Outcome{}, fmt.Errorf("%w: %s", ErrNotAccepted, c.ID)
	}

	p := s.SuccessProbability(c.Confidence)

	s.mu.Lock()
	draw := s.rng.Float64()
	s.mu.Unlock()

	win := draw < p
	qty := decimal.NewFromInt(s.Quantity(c.Instrument()))

	var pnl decimal.Decimal
	if win {
		pnl = c.Target.Sub(c.Entry).Abs().Mul(qty)
	} else {
		pnl = c.Entry.Sub(c.StopLoss).Abs().Mul(qty).Neg()
	}

	return models.Outcome{
		ID:                 s.newID(),
		CandidateID:        c.ID,
		Instrument:         c.Instrument(),
		Direction:          c.Direction,
		Confidence:         c.Confidence,
		SuccessProbability: p,
		Draw:               draw,
		Win:                win,
		PnL:                pnl.Round(2),
		ResolvedAt:         s.now(),
	}, nil
}
