// Package indicators computes technical readings from a price/volume history.
// Every function returns a number for any input; short or degenerate series
// produce neutral values rather than errors.
package indicators

import (
	"math"

	"github.com/rewired-gh/strikewatch/internal/models"
)

// Params selects the lookback periods used by Compute.
type Params struct {
	RSIPeriod        int
	EMAFast          int
	EMASlow          int
	MACDFast         int
	MACDSlow         int
	MACDSignal       int
	MomentumLookback int
	VolumePeriod     int
	PeriodsPerYear   float64
}

// DefaultParams returns the conventional periods.
func DefaultParams() Params {
	return Params{
		RSIPeriod:        14,
		EMAFast:          9,
		EMASlow:          21,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		MomentumLookback: 10,
		VolumePeriod:     20,
		PeriodsPerYear:   252 * 375, // one sample per trading minute
	}
}

// Compute builds the indicator set for the latest sample of prices/volumes.
func Compute(prices, volumes []float64, p Params) models.Indicators {
	macd, signal := MACD(prices, p.MACDFast, p.MACDSlow, p.MACDSignal)
	return models.Indicators{
		RSI:         RSI(prices, p.RSIPeriod),
		MACD:        macd,
		MACDSignal:  signal,
		EMAFast:     LastEMA(prices, p.EMAFast),
		EMASlow:     LastEMA(prices, p.EMASlow),
		Momentum:    Momentum(prices, p.MomentumLookback),
		VolumeRatio: VolumeRatio(volumes, p.VolumePeriod),
		Volatility:  Volatility(prices, p.PeriodsPerYear),
	}
}

// EMA computes the exponential moving average series, seeded with the simple
// average of the first period values. Entries before period-1 are zero.
func EMA(data []float64, period int) []float64 {
	ema := make([]float64, len(data))
	if period < 1 || len(data) < period {
		return ema
	}

	k := 2.0 / (float64(period) + 1.0)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		ema[i] = data[i]*k + ema[i-1]*(1-k)
	}
	return ema
}

// LastEMA returns the latest EMA value, falling back to the plain mean when
// the series is shorter than period.
func LastEMA(data []float64, period int) float64 {
	if len(data) == 0 {
		return 0
	}
	if period < 1 || len(data) < period {
		return mean(data)
	}
	ema := EMA(data, period)
	return ema[len(ema)-1]
}

// RSI returns the latest Wilder-smoothed relative strength index.
// It is 50 when the history is too short and 100 when there were no losses.
func RSI(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period+1 {
		return 50
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the latest MACD line and its signal line. Both are zero until
// there are at least slow+signal-1 samples.
func MACD(closes []float64, fast, slow, signal int) (float64, float64) {
	if fast < 1 || slow <= fast || signal < 1 || len(closes) < slow+signal-1 {
		return 0, 0
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	line := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		line = append(line, fastEMA[i]-slowEMA[i])
	}
	sig := EMA(line, signal)
	return line[len(line)-1], sig[len(sig)-1]
}

// Momentum is the percent change between the latest close and the close
// lookback samples earlier (or the oldest available).
func Momentum(closes []float64, lookback int) float64 {
	if len(closes) < 2 || lookback < 1 {
		return 0
	}
	from := len(closes) - 1 - lookback
	if from < 0 {
		from = 0
	}
	base := closes[from]
	if base == 0 {
		return 0
	}
	return (closes[len(closes)-1] - base) / base * 100
}

// VolumeRatio compares the latest volume with the average of up to period
// preceding volumes. It returns 1 when no average is available.
func VolumeRatio(volumes []float64, period int) float64 {
	if len(volumes) < 2 || period < 1 {
		return 1
	}
	n := period
	if n > len(volumes)-1 {
		n = len(volumes) - 1
	}
	avg := mean(volumes[len(volumes)-1-n : len(volumes)-1])
	if avg == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / avg
}

// Volatility is the annualised standard deviation of simple returns, in percent.
func Volatility(closes []float64, periodsPerYear float64) float64 {
	var w Welford
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		w.Add(closes[i]/closes[i-1] - 1)
	}
	if periodsPerYear <= 0 {
		periodsPerYear = 1
	}
	return w.Stdev() * math.Sqrt(periodsPerYear) * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
