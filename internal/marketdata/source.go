// Package marketdata supplies market snapshots for named instruments.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/strikewatch/internal/indicators"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// ErrUnknownInstrument is returned for instruments a source has no mapping for.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Source produces a fresh snapshot per call.
type Source interface {
	Name() string
	Snapshot(ctx context.Context, instrument string) (models.Snapshot, error)
}

// buildSnapshot records the sample and derives indicators from the updated history.
func buildSnapshot(h *History, params indicators.Params, source, instrument string, price, volume float64, ts time.Time) models.Snapshot {
	prices, volumes := h.Add(instrument, price, volume)
	return models.Snapshot{
		Instrument: instrument,
		Source:     source,
		Timestamp:  ts,
		Price:      price,
		Volume:     volume,
		Indicators: indicators.Compute(prices, volumes, params),
	}
}
