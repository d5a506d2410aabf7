// Package scoring turns a snapshot into a scored, directional candidate and
// decides whether the candidate clears a profile's threshold.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// Weights are the bonus points and indicator cutoffs of the confidence sum.
type Weights struct {
	Base float64 `mapstructure:"base" validate:"gte=0,lte=100"`

	RSIBand         float64 `mapstructure:"rsi_band" validate:"gte=0"`
	RSIBandUpper    float64 `mapstructure:"rsi_band_upper" validate:"gte=50,lte=100"`
	RSIBandLower    float64 `mapstructure:"rsi_band_lower" validate:"gte=0,lte=50"`
	RSIExtreme      float64 `mapstructure:"rsi_extreme" validate:"gte=0"`
	RSIExtremeUpper float64 `mapstructure:"rsi_extreme_upper" validate:"gtefield=RSIBandUpper,lte=100"`
	RSIExtremeLower float64 `mapstructure:"rsi_extreme_lower" validate:"gte=0,ltefield=RSIBandLower"`

	MACDStrength float64 `mapstructure:"macd_strength" validate:"gte=0"`
	MACDMinPct   float64 `mapstructure:"macd_min_pct" validate:"gte=0"`
	MACDCross    float64 `mapstructure:"macd_cross" validate:"gte=0"`

	EMATrend     float64 `mapstructure:"ema_trend" validate:"gte=0"`
	EMAMinGapPct float64 `mapstructure:"ema_min_gap_pct" validate:"gte=0"`

	Momentum       float64 `mapstructure:"momentum" validate:"gte=0"`
	MomentumMinPct float64 `mapstructure:"momentum_min_pct" validate:"gte=0"`

	Volume         float64 `mapstructure:"volume" validate:"gte=0"`
	VolumeMinRatio float64 `mapstructure:"volume_min_ratio" validate:"gte=0"`

	Volatility    float64 `mapstructure:"volatility" validate:"gte=0"`
	VolatilityMin float64 `mapstructure:"volatility_min" validate:"gte=0"`
	VolatilityMax float64 `mapstructure:"volatility_max" validate:"gtefield=VolatilityMin"`
}

// DefaultWeights returns the stock bonus table.
func DefaultWeights() Weights {
	return Weights{
		Base:            40,
		RSIBand:         12,
		RSIBandUpper:    60,
		RSIBandLower:    40,
		RSIExtreme:      6,
		RSIExtremeUpper: 70,
		RSIExtremeLower: 30,
		MACDStrength:    8,
		MACDMinPct:      0.01,
		MACDCross:       10,
		EMATrend:        12,
		EMAMinGapPct:    0.02,
		Momentum:        10,
		MomentumMinPct:  0.3,
		Volume:          8,
		VolumeMinRatio:  1.2,
		Volatility:      6,
		VolatilityMin:   8,
		VolatilityMax:   30,
	}
}

// WeightedScorer sums independent threshold bonuses and clamps the total to [0, Cap].
type WeightedScorer struct {
	Profile string
	Weights Weights
	Cap     float64
	Levels  LevelConfig

	NewID func() string
	Now   func() time.Time
}

// NewWeightedScorer creates a scorer with uuid IDs and wall-clock timestamps.
func NewWeightedScorer(profile string, w Weights, cap float64, levels LevelConfig) *WeightedScorer {
	return &WeightedScorer{
		Profile: profile,
		Weights: w,
		Cap:     cap,
		Levels:  levels,
		NewID:   func() string { return uuid.New().String() },
		Now:     time.Now,
	}
}

// Score builds a candidate from snapshot. It never fails; degenerate readings
// simply earn no bonus.
func (s *WeightedScorer) Score(snap models.Snapshot) models.Candidate {
	breakdown := s.breakdown(snap)

	total := 0.0
	for _, f := range breakdown {
		total += f.Points
	}

	direction := DecideDirection(snap.Indicators)
	c := models.Candidate{
		ID:         s.NewID(),
		Snapshot:   snap,
		Profile:    s.Profile,
		Direction:  direction,
		Confidence: Clamp(total, s.Cap),
		Breakdown:  breakdown,
		CreatedAt:  s.Now(),
	}
	ApplyLevels(&c, s.Levels)
	return c
}

func (s *WeightedScorer) breakdown(snap models.Snapshot) []models.FactorScore {
	w := s.Weights
	ind := snap.Indicators
	out := []models.FactorScore{{Name: "base", Points: w.Base, Reason: "baseline"}}

	add := func(name string, points float64, reason string, args ...interface{}) {
		if points != 0 {
			out = append(out, models.FactorScore{Name: name, Points: points, Reason: fmt.Sprintf(reason, args...)})
		}
	}

	if ind.RSI > w.RSIBandUpper || ind.RSI < w.RSIBandLower {
		add("rsi_band", w.RSIBand, "RSI %.1f outside %.0f-%.0f", ind.RSI, w.RSIBandLower, w.RSIBandUpper)
	}
	if ind.RSI > w.RSIExtremeUpper || ind.RSI < w.RSIExtremeLower {
		add("rsi_extreme", w.RSIExtreme, "RSI %.1f beyond %.0f/%.0f", ind.RSI, w.RSIExtremeLower, w.RSIExtremeUpper)
	}

	if snap.Price > 0 && math.Abs(ind.MACD)/snap.Price*100 > w.MACDMinPct {
		add("macd_strength", w.MACDStrength, "|MACD| %.2f above %.3f%% of price", math.Abs(ind.MACD), w.MACDMinPct)
	}
	if (ind.MACD > ind.MACDSignal && ind.MACD > 0) || (ind.MACD < ind.MACDSignal && ind.MACD < 0) {
		add("macd_cross", w.MACDCross, "MACD %.2f confirms signal %.2f", ind.MACD, ind.MACDSignal)
	}

	if snap.Price > 0 && math.Abs(ind.EMAFast-ind.EMASlow)/snap.Price*100 > w.EMAMinGapPct {
		add("ema_trend", w.EMATrend, "EMA gap %.2f", ind.EMAFast-ind.EMASlow)
	}

	if math.Abs(ind.Momentum) > w.MomentumMinPct {
		add("momentum", w.Momentum, "momentum %.2f%%", ind.Momentum)
	}

	if ind.VolumeRatio > w.VolumeMinRatio {
		add("volume", w.Volume, "volume ratio %.2f", ind.VolumeRatio)
	}

	if ind.Volatility >= w.VolatilityMin && ind.Volatility <= w.VolatilityMax {
		add("volatility", w.Volatility, "volatility %.1f%% in band", ind.Volatility)
	}

	return out
}

// Clamp bounds confidence to [0, cap]; cap itself is bounded to (0, 100].
func Clamp(v, cap float64) float64 {
	if cap <= 0 || cap > 100 {
		cap = 100
	}
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > cap {
		return cap
	}
	return v
}

// DecideDirection votes over the same readings used for scoring: RSI side,
// MACD sign, MACD against signal, EMA trend and momentum sign.
func DecideDirection(ind models.Indicators) models.Direction {
	var bull, bear int
	vote := func(up, down bool) {
		if up {
			bull++
		} else if down {
			bear++
		}
	}

	vote(ind.RSI > 50, ind.RSI < 50)
	vote(ind.MACD > 0, ind.MACD < 0)
	vote(ind.MACD > ind.MACDSignal, ind.MACD < ind.MACDSignal)
	vote(ind.EMAFast > ind.EMASlow, ind.EMAFast < ind.EMASlow)
	vote(ind.Momentum > 0, ind.Momentum < 0)

	switch {
	case bull > bear:
		return models.Bullish
	case bear > bull:
		return models.Bearish
	default:
		return models.Neutral
	}
}
