package scoring

import (
	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/shopspring/decimal"
)

// LevelConfig holds the fixed ratios used to derive trade levels from price.
type LevelConfig struct {
	StrikeStep  float64
	TargetRatio float64
	StopRatio   float64
}

// DefaultStrikeSteps are the listed strike intervals of the supported indices.
func DefaultStrikeSteps() map[string]float64 {
	return map[string]float64{
		"NIFTY":     50,
		"BANKNIFTY": 100,
		"SENSEX":    100,
	}
}

// ApplyLevels sets strike, option type, entry, target and stop on c.
// Bullish targets sit above entry, bearish below. Neutral candidates get a
// symmetric band and no option leg.
func ApplyLevels(c *models.Candidate, lc LevelConfig) {
	price := decimal.NewFromFloat(c.Snapshot.Price)
	one := decimal.NewFromInt(1)
	up := one.Add(decimal.NewFromFloat(lc.TargetRatio))
	down := one.Sub(decimal.NewFromFloat(lc.StopRatio))

	c.Entry = price.Round(2)
	c.Strike = roundToStep(price, lc.StrikeStep)

	switch c.Direction {
	case models.Bullish:
		c.OptionType = models.Call
		c.Target = price.Mul(up).Round(2)
		c.StopLoss = price.Mul(down).Round(2)
	case models.Bearish:
		c.OptionType = models.Put
		c.Target = price.Mul(one.Sub(decimal.NewFromFloat(lc.TargetRatio))).Round(2)
		c.StopLoss = price.Mul(one.Add(decimal.NewFromFloat(lc.StopRatio))).Round(2)
	default:
		c.OptionType = models.None
		c.Target = price.Mul(up).Round(2)
		c.StopLoss = price.Mul(down).Round(2)
	}
}

// roundToStep rounds price to the nearest multiple of step (the ATM strike).
func roundToStep(price decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return price.Round(0)
	}
	s := decimal.NewFromFloat(step)
	return price.Div(s).Round(0).Mul(s)
}
