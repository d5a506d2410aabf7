// Package reporter delivers candidates and their simulated outcomes to log
// files, the console, Telegram, Redis and Kafka.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/models"
)

// Reporter renders a candidate and, when it was resolved, its outcome.
// o is nil for rejected candidates.
type Reporter interface {
	Name() string
	Report(ctx context.Context, c models.Candidate, o *models.Outcome) error
}

// Multi fans out to every reporter. A failing reporter does not stop the others.
type Multi struct {
	reporters []Reporter
}

// NewMulti creates a fan-out reporter.
func NewMulti(reporters ...Reporter) *Multi {
	return &Multi{reporters: reporters}
}

// Name implements Reporter.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of wrapped reporters.
func (m *Multi) Len() int { return len(m.reporters) }

// Report implements Reporter and joins the errors of all failing reporters.
func (m *Multi) Report(ctx context.Context, c models.Candidate, o *models.Outcome) error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Report(ctx, c, o); err != nil {
			logger.Warn("Reporter %s failed for %s: %v", r.Name(), c.Instrument(), err)
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every reporter that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, r := range m.reporters {
		if cl, ok := r.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
