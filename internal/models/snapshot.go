// Package models defines the core domain entities: snapshots, candidates and outcomes.
package models

import (
	"errors"
	"time"
)

// Indicators holds the named numeric readings derived from an instrument's recent history.
type Indicators struct {
	RSI         float64 `json:"rsi"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	EMAFast     float64 `json:"ema_fast"`
	EMASlow     float64 `json:"ema_slow"`
	Momentum    float64 `json:"momentum"`     // percent change over the lookback
	VolumeRatio float64 `json:"volume_ratio"` // current volume / average volume
	Volatility  float64 `json:"volatility"`   // annualised stdev of returns, percent
}

// Snapshot is a point-in-time view of one instrument. It is created per poll
// and never mutated afterwards.
type Snapshot struct {
	Instrument string     `json:"instrument"`
	Source     string     `json:"source"`
	Timestamp  time.Time  `json:"timestamp"`
	Price      float64    `json:"price"`
	Volume     float64    `json:"volume"`
	Indicators Indicators `json:"indicators"`
}

// Validate checks snapshot field constraints.
func (s *Snapshot) Validate() error {
	if s.Instrument == "" {
		return errors.New("instrument must not be empty")
	}
	if s.Price <= 0 {
		return errors.New("price must be positive")
	}
	if s.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if s.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if s.Indicators.RSI < 0 || s.Indicators.RSI > 100 {
		return errors.New("rsi must be between 0 and 100")
	}
	return nil
}
