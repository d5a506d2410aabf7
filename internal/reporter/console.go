package reporter

import (
	"context"

	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// ConsoleReporter writes a human-readable summary through the logger.
// Rejected candidates are logged at debug level.
type ConsoleReporter struct{}

// Name implements Reporter.
func (ConsoleReporter) Name() string { return "console" }

// Report implements Reporter.
func (ConsoleReporter) Report(_ context.Context, c models.Candidate, o *models.Outcome) error {
	if !c.Accepted {
		logger.Debug("%s %s %.1f%% rejected: %s", c.Instrument(), c.Direction, c.Confidence, c.RejectReason)
		return nil
	}
	logger.Info("CALL %s %s %s%s conf=%.1f%% entry=%s target=%s sl=%s",
		c.Instrument(), c.Direction, c.Strike.String(), string(c.OptionType), c.Confidence,
		c.Entry.StringFixed(2), c.Target.StringFixed(2), c.StopLoss.StringFixed(2))
	if o != nil {
		logger.Info("RESULT %s %s pnl=%s p=%.2f draw=%.3f",
			o.Instrument, o.Result(), o.PnL.StringFixed(2), o.SuccessProbability, o.Draw)
	}
	return nil
}
