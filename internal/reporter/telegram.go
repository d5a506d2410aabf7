package reporter

import (
	"context"
	"errors"

	"github.com/rewired-gh/strikewatch/internal/models"
)

// Notifier is the part of the Telegram client used for reporting.
type Notifier interface {
	SendCandidate(ctx context.Context, c models.Candidate) error
	SendOutcome(ctx context.Context, o models.Outcome) error
}

// TelegramReporter sends accepted candidates and their outcomes to a chat.
type TelegramReporter struct {
	n              Notifier
	notifyRejected bool
}

// NewTelegramReporter wraps n. With notifyRejected set, rejected candidates
// are sent as well.
func NewTelegramReporter(n Notifier, notifyRejected bool) *TelegramReporter {
	return &TelegramReporter{n: n, notifyRejected: notifyRejected}
}

// Name implements Reporter.
func (t *TelegramReporter) Name() string { return "telegram" }

// Report implements Reporter.
func (t *TelegramReporter) Report(ctx context.Context, c models.Candidate, o *models.Outcome) error {
	if !c.Accepted && !t.notifyRejected {
		return nil
	}
	err := t.n.SendCandidate(ctx, c)
	if o != nil {
		err = errors.Join(err, t.n.SendOutcome(ctx, *o))
	}
	return err
}
