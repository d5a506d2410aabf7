package main

import (
	"context"
	"time"

	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/rewired-gh/strikewatch/internal/pipeline"
)

type statsSender interface {
	SendStats(ctx context.Context, title string, total models.Stats, byInstrument map[string]models.Stats) error
}

type statsProvider interface {
	Stats() models.Stats
	ByInstrument() map[string]models.Stats
}

// statsDigest posts the running stats to Telegram each time a daily report
// is cut.
type statsDigest struct {
	pipeline.DailyWriter
	sender  statsSender
	stats   statsProvider
	loc     *time.Location
	timeout time.Duration
}

// Rollover implements pipeline.DailyWriter. A failed send is logged and does
// not fail the rollover.
func (d *statsDigest) Rollover(now time.Time) (string, error) {
	path, err := d.DailyWriter.Rollover(now)
	if err != nil || path == "" {
		return path, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	title := "Daily digest " + now.In(d.loc).AddDate(0, 0, -1).Format("2006-01-02")
	if sendErr := d.sender.SendStats(ctx, title, d.stats.Stats(), d.stats.ByInstrument()); sendErr != nil {
		logger.Error("Failed to send daily digest: %v", sendErr)
	}
	return path, nil
}
