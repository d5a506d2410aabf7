package pipeline

import (
	"context"
	"time"

	"github.com/rewired-gh/strikewatch/internal/logger"
)

// Cycler runs one pipeline cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (CycleSummary, error)
}

// Alerter is notified when cycles start failing and when they recover.
type Alerter interface {
	SendError(ctx context.Context, err error) error
	SendRecovery(ctx context.Context, failureCount int) error
}

// DailyWriter writes the per-day report.
type DailyWriter interface {
	Rollover(now time.Time) (string, error)
	Flush(now time.Time) (string, error)
}

// ServiceConfig configures the ticker loop.
type ServiceConfig struct {
	Interval time.Duration
	// FailureThreshold is the number of consecutive failed cycles that
	// triggers the error notification.
	FailureThreshold int
}

// Service runs cycles on a ticker. Alerter and Daily are optional.
type Service struct {
	cfg     ServiceConfig
	cycler  Cycler
	alerter Alerter
	daily   DailyWriter
	now     func() time.Time

	consecutiveFailures int
}

// NewService creates the loop around c.
func NewService(cfg ServiceConfig, c Cycler, alerter Alerter, daily DailyWriter) *Service {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	return &Service{cfg: cfg, cycler: c, alerter: alerter, daily: daily, now: time.Now}
}

// Run executes an initial cycle, then one per interval until ctx is cancelled.
// The daily report is flushed on the way out.
func (s *Service) Run(ctx context.Context) error {
	logger.Info("Starting pipeline loop (interval: %v)", s.cfg.Interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Pipeline loop stopped")
			s.flushDaily()
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one cycle and tracks the failure streak. One error notification
// is sent when the streak reaches the threshold and one recovery notice when
// it ends.
func (s *Service) tick(ctx context.Context) {
	_, err := s.cycler.RunCycle(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.consecutiveFailures++
		logger.Error("Cycle failed (%d consecutive): %v", s.consecutiveFailures, err)
		if s.consecutiveFailures == s.cfg.FailureThreshold && s.alerter != nil {
			if sendErr := s.alerter.SendError(ctx, err); sendErr != nil {
				logger.Error("Failed to send error notification: %v", sendErr)
			}
		}
	} else {
		if s.consecutiveFailures >= s.cfg.FailureThreshold && s.alerter != nil {
			if sendErr := s.alerter.SendRecovery(ctx, s.consecutiveFailures); sendErr != nil {
				logger.Error("Failed to send recovery notification: %v", sendErr)
			}
		}
		s.consecutiveFailures = 0
	}

	if s.daily != nil {
		path, err := s.daily.Rollover(s.now())
		if err != nil {
			logger.Error("Failed to write daily report: %v", err)
		} else if path != "" {
			logger.Info("Daily report written to %s", path)
		}
	}
}

func (s *Service) flushDaily() {
	if s.daily == nil {
		return
	}
	path, err := s.daily.Flush(s.now())
	if err != nil {
		logger.Error("Failed to write daily report: %v", err)
		return
	}
	logger.Info("Daily report written to %s", path)
}

// ConsecutiveFailures returns the length of the current failure streak.
func (s *Service) ConsecutiveFailures() int { return s.consecutiveFailures }
