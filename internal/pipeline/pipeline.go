// Package pipeline runs the snapshot, score, filter, simulate and report loop
// over the configured instruments.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/marketdata"
	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/rewired-gh/strikewatch/internal/performance"
	"github.com/rewired-gh/strikewatch/internal/reporter"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// ErrAllInstrumentsFailed is returned when no instrument completed a cycle.
var ErrAllInstrumentsFailed = errors.New("every instrument failed")

// Scorer turns a snapshot into a candidate.
type Scorer interface {
	Score(snap models.Snapshot) models.Candidate
}

// Filter marks a candidate accepted or rejected.
type Filter interface {
	Apply(c *models.Candidate)
}

// Resolver simulates the outcome of an accepted candidate.
type Resolver interface {
	Resolve(c models.Candidate) (models.Outcome, error)
}

// Store persists candidates and outcomes.
type Store interface {
	SaveCandidate(c *models.Candidate) error
	SaveOutcome(o *models.Outcome) error
}

// Metrics receives pipeline events.
type Metrics interface {
	RecordCandidate(c models.Candidate)
	RecordOutcome(o models.Outcome)
	RecordSourceError(source string)
	RecordReportError(instrument string)
	RecordCycle(err error, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordCandidate(models.Candidate) {}
func (nopMetrics) RecordOutcome(models.Outcome) {}
func (nopMetrics) RecordSourceError(string) {}
func (nopMetrics) RecordReportError(string) {}
func (nopMetrics) RecordCycle(error, time.Duration) {}

// Strategy binds an instrument to the scorer and filter of its profile.
type Strategy struct {
	Instrument string
	Scorer     Scorer
	Filter     Filter
}

// Config holds loop behavior.
type Config struct {
	Workers               int
	Cooldown              time.Duration
	CooldownOverrideDelta float64
}

// Deps are the collaborators of a pipeline. Store and Metrics are optional.
type Deps struct {
	Source     marketdata.Source
	Strategies []Strategy
	Simulator  Resolver
	Reporter   reporter.Reporter
	Tracker    *performance.Tracker
	Store      Store
	Metrics    Metrics
}

type notifiedRecord struct {
	Direction  models.Direction
	Confidence float64
	SentAt     time.Time
}

// Pipeline processes every strategy once per cycle.
type Pipeline struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu        sync.Mutex
	notified  map[string]notifiedRecord
	cycles    int
	lastCycle *CycleSummary
	startedAt time.Time
}

// New creates a pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Tracker == nil {
		deps.Tracker = performance.NewTracker(1000)
	}
	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		notified:  make(map[string]notifiedRecord),
		startedAt: time.Now(),
	}
}

// InstrumentResult is what one instrument produced in a cycle.
type InstrumentResult struct {
	Instrument string
	Candidate  *models.Candidate
	Outcome    *models.Outcome
	Suppressed bool  // accepted but inside the cooldown window
	Err        error // snapshot or simulation failure
	ReportErr  error // reporter or storage failure; the instrument still counts
}

// CycleSummary aggregates one cycle, with results in strategy order.
type CycleSummary struct {
	StartedAt  time.Time
	Duration   time.Duration
	Results    []InstrumentResult
	Scored     int
	Accepted   int
	Rejected   int
	Suppressed int
	Failed     int
	Wins       int
	Losses     int
	PnL        decimal.Decimal
}

// Errors joins the per-instrument failures of the cycle.
func (s *CycleSummary) Errors() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// RunCycle processes every strategy on a bounded worker pool. It fails only
// when every instrument failed.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleSummary, error) {
	start := p.now()
	summary := CycleSummary{StartedAt: start, PnL: decimal.Zero}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	results := make([]InstrumentResult, len(p.deps.Strategies))
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i, s := range p.deps.Strategies {
		g.Go(func() error {
			results[i] = p.process(ctx, s)
			return nil
		})
	}
	_ = g.Wait() // workers report through results

	summary.Results = results
	for _, r := range results {
		switch {
		case r.Err != nil:
			summary.Failed++
			continue
		case r.Suppressed:
			summary.Suppressed++
		case r.Candidate.Accepted:
			summary.Accepted++
		default:
			summary.Rejected++
		}
		summary.Scored++
		if r.Outcome != nil {
			if r.Outcome.Win {
				summary.Wins++
			} else {
				summary.Losses++
			}
			summary.PnL = summary.PnL.Add(r.Outcome.PnL)
		}
	}
	summary.Duration = p.now().Sub(start)

	var err error
	if n := len(results); n > 0 && summary.Failed == n {
		err = fmt.Errorf("%w: %w", ErrAllInstrumentsFailed, summary.Errors())
	} else if summary.Failed > 0 {
		logger.Warn("%d of %d instruments failed: %v", summary.Failed, n, summary.Errors())
	}

	p.mu.Lock()
	p.cycles++
	p.lastCycle = &summary
	p.mu.Unlock()

	p.deps.Metrics.RecordCycle(err, summary.Duration)
	logger.Info("Cycle done in %s: scored=%d accepted=%d rejected=%d suppressed=%d failed=%d pnl=%s",
		summary.Duration.Round(time.Millisecond), summary.Scored, summary.Accepted, summary.Rejected,
		summary.Suppressed, summary.Failed, summary.PnL.StringFixed(2))
	return summary, err
}

func (p *Pipeline) process(ctx context.Context, s Strategy) InstrumentResult {
	res := InstrumentResult{Instrument: s.Instrument}

	snap, err := p.deps.Source.Snapshot(ctx, s.Instrument)
	if err != nil {
		p.deps.Metrics.RecordSourceError(p.deps.Source.Name())
		res.Err = fmt.Errorf("%s: snapshot: %w", s.Instrument, err)
		return res
	}

	c := s.Scorer.Score(snap)
	s.Filter.Apply(&c)
	p.deps.Metrics.RecordCandidate(c)
	res.Candidate = &c

	if c.Accepted && p.inCooldown(c) {
		logger.Debug("%s %s %.1f%% suppressed by cooldown", s.Instrument, c.Direction, c.Confidence)
		res.Suppressed = true
		return res
	}

	var outcome *models.Outcome
	if c.Accepted {
		o, err := p.deps.Simulator.Resolve(c)
		if err != nil {
			res.Err = fmt.Errorf("%s: simulate: %w", s.Instrument, err)
			return res
		}
		outcome = &o
		res.Outcome = outcome
		p.recordNotified(c)
	}

	var sideErrs []error
	if p.deps.Store != nil {
		if err := p.deps.Store.SaveCandidate(&c); err != nil {
			sideErrs = append(sideErrs, fmt.Errorf("save candidate: %w", err))
		} else if outcome != nil {
			if err := p.deps.Store.SaveOutcome(outcome); err != nil {
				sideErrs = append(sideErrs, fmt.Errorf("save outcome: %w", err))
			}
		}
	}

	if outcome != nil {
		p.deps.Tracker.Record(*outcome)
		p.deps.Tracker.SetLastCandidate(c)
		p.deps.Metrics.RecordOutcome(*outcome)
	}

	if p.deps.Reporter != nil {
		if err := p.deps.Reporter.Report(ctx, c, outcome); err != nil {
			p.deps.Metrics.RecordReportError(s.Instrument)
			sideErrs = append(sideErrs, fmt.Errorf("report: %w", err))
		}
	}
	if len(sideErrs) > 0 {
		res.ReportErr = errors.Join(sideErrs...)
		logger.Warn("%s: %v", s.Instrument, res.ReportErr)
	}
	return res
}

// inCooldown reports whether c repeats the last signal of its instrument
// within the cooldown window without enough confidence gain to override it.
func (p *Pipeline) inCooldown(c models.Candidate) bool {
	if p.cfg.Cooldown <= 0 {
		return false
	}
	p.mu.Lock()
	rec, exists := p.notified[c.Instrument()]
	p.mu.Unlock()

	if !exists || p.now().Sub(rec.SentAt) >= p.cfg.Cooldown {
		return false
	}
	if rec.Direction != c.Direction {
		return false
	}
	improved := p.cfg.CooldownOverrideDelta > 0 && c.Confidence >= rec.Confidence+p.cfg.CooldownOverrideDelta
	return !improved
}

func (p *Pipeline) recordNotified(c models.Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified[c.Instrument()] = notifiedRecord{
		Direction:  c.Direction,
		Confidence: c.Confidence,
		SentAt:     p.now(),
	}
}

// Stats summarises every tracked outcome.
func (p *Pipeline) Stats() models.Stats { return p.deps.Tracker.Stats() }

// ByInstrument returns per-instrument stats.
func (p *Pipeline) ByInstrument() map[string]models.Stats { return p.deps.Tracker.ByInstrument() }

// LastCandidate returns the most recent accepted candidate.
func (p *Pipeline) LastCandidate() (models.Candidate, bool) { return p.deps.Tracker.LastCandidate() }

// Status renders a one-line health summary.
func (p *Pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	uptime := p.now().Sub(p.startedAt).Round(time.Second)
	if p.lastCycle == nil {
		return fmt.Sprintf("source %s, %d instruments, up %s, no cycle yet",
			p.deps.Source.Name(), len(p.deps.Strategies), uptime)
	}
	last := p.lastCycle
	return fmt.Sprintf("source %s, %d instruments, up %s, %d cycles; last at %s: accepted %d, rejected %d, suppressed %d, failed %d",
		p.deps.Source.Name(), len(p.deps.Strategies), uptime, p.cycles,
		last.StartedAt.Format(time.RFC3339), last.Accepted, last.Rejected, last.Suppressed, last.Failed)
}
