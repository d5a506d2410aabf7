package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/rewired-gh/strikewatch/internal/performance"
	"github.com/rewired-gh/strikewatch/internal/scoring"
	"github.com/rewired-gh/strikewatch/internal/simulator"
	"github.com/rewired-gh/strikewatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	prices map[string]float64
	errs   map[string]error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Snapshot(_ context.Context, instrument string) (models.Snapshot, error) {
	if err := f.errs[instrument]; err != nil {
		return models.Snapshot{}, err
	}
	price, ok := f.prices[instrument]
	if !ok {
		return models.Snapshot{}, fmt.Errorf("unknown instrument %s", instrument)
	}
	return models.Snapshot{Instrument: instrument, Source: "fake", Timestamp: time.Now(), Price: price, Volume: 1000}, nil
}

// stubScorer emits a fixed direction and a confidence that can be changed between cycles.
type stubScorer struct {
	mu         sync.Mutex
	direction  models.Direction
	confidence float64
	seq        *int64
}

func (s *stubScorer) set(d models.Direction, conf float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direction, s.confidence = d, conf
}

func (s *stubScorer) Score(snap models.Snapshot) models.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := models.Candidate{
		ID:         fmt.Sprintf("c-%d", atomic.AddInt64(s.seq, 1)),
		Snapshot:   snap,
		Profile:    "test",
		Direction:  s.direction,
		Confidence: s.confidence,
		CreatedAt:  time.Now(),
	}
	scoring.ApplyLevels(&c, scoring.LevelConfig{StrikeStep: 50, TargetRatio: 0.006, StopRatio: 0.004})
	return c
}

type recordingReporter struct {
	mu    sync.Mutex
	calls []models.Candidate
	outs  []*models.Outcome
	err   error
}

func (r *recordingReporter) Name() string { return "recording" }

func (r *recordingReporter) Report(_ context.Context, c models.Candidate, o *models.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	r.outs = append(r.outs, o)
	return r.err
}

type harness struct {
	p        *Pipeline
	scorers  map[string]*stubScorer
	source   *fakeSource
	reporter *recordingReporter
	tracker  *performance.Tracker
	store    *storage.Storage
	clock    *time.Time
}

func newHarness(t *testing.T, cfg Config, instruments ...string) *harness {
	t.Helper()
	store, err := storage.New(100, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	simCfg := simulator.DefaultConfig()
	simCfg.MinProb, simCfg.MaxProb = 1, 1 // every accepted candidate wins

	var seq int64
	h := &harness{
		scorers:  make(map[string]*stubScorer),
		source:   &fakeSource{prices: map[string]float64{}, errs: map[string]error{}},
		reporter: &recordingReporter{},
		tracker:  performance.NewTracker(100),
		store:    store,
	}
	var strategies []Strategy
	for i, inst := range instruments {
		sc := &stubScorer{direction: models.Bullish, confidence: 80, seq: &seq}
		h.scorers[inst] = sc
		h.source.prices[inst] = 24500 + float64(i)*1000
		strategies = append(strategies, Strategy{
			Instrument: inst,
			Scorer:     sc,
			Filter:     &scoring.ThresholdFilter{Threshold: 75},
		})
	}
	h.p = New(cfg, Deps{
		Source:     h.source,
		Strategies: strategies,
		Simulator:  simulator.New(simCfg),
		Reporter:   h.reporter,
		Tracker:    h.tracker,
		Store:      store,
	})
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	h.clock = &now
	h.p.now = func() time.Time { return *h.clock }
	return h
}

func (h *harness) advance(d time.Duration) { *h.clock = h.clock.Add(d) }

func TestRunCycle_AcceptedAndRejected(t *testing.T) {
	h := newHarness(t, Config{Workers: 2}, "NIFTY", "BANKNIFTY", "SENSEX")
	h.scorers["BANKNIFTY"].set(models.Bearish, 60)

	summary, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Scored)
	assert.Equal(t, 2, summary.Accepted)
	assert.Equal(t, 1, summary.Rejected)
	assert.Equal(t, 2, summary.Wins)
	assert.True(t, summary.PnL.IsPositive())

	require.Len(t, summary.Results, 3)
	for i, inst := range []string{"NIFTY", "BANKNIFTY", "SENSEX"} {
		assert.Equal(t, inst, summary.Results[i].Instrument, "results keep strategy order")
	}
	assert.Nil(t, summary.Results[1].Outcome, "rejected candidate never reaches the simulator")
	assert.NotEmpty(t, summary.Results[1].Candidate.RejectReason)

	assert.Len(t, h.reporter.calls, 3, "every scored candidate is reported")
	assert.Equal(t, 2, h.tracker.Len())

	n, err := h.store.CountCandidates()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	outs, err := h.store.RecentOutcomes(10)
	require.NoError(t, err)
	assert.Len(t, outs, 2)

	last, ok := h.p.LastCandidate()
	require.True(t, ok)
	assert.True(t, last.Accepted)
}

func TestRunCycle_PartialFailure(t *testing.T) {
	h := newHarness(t, Config{Workers: 4}, "NIFTY", "SENSEX")
	h.source.errs["SENSEX"] = errors.New("upstream 502")

	summary, err := h.p.RunCycle(context.Background())
	require.NoError(t, err, "one healthy instrument keeps the cycle alive")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Accepted)
	assert.ErrorContains(t, summary.Errors(), "SENSEX: snapshot: upstream 502")
}

func TestRunCycle_AllFail(t *testing.T) {
	h := newHarness(t, Config{Workers: 4}, "NIFTY", "SENSEX")
	h.source.errs["NIFTY"] = errors.New("timeout")
	h.source.errs["SENSEX"] = errors.New("timeout")

	summary, err := h.p.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllInstrumentsFailed)
	assert.Equal(t, 2, summary.Failed)
	assert.Empty(t, h.reporter.calls, "no fabricated candidates on source failure")
}

func TestRunCycle_CancelledContext(t *testing.T) {
	h := newHarness(t, Config{}, "NIFTY")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.p.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCycle_Cooldown(t *testing.T) {
	h := newHarness(t, Config{Workers: 1, Cooldown: 15 * time.Minute, CooldownOverrideDelta: 5}, "NIFTY")
	ctx := context.Background()

	s, err := h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Accepted)

	// same direction, same confidence, inside the window
	h.advance(time.Minute)
	s, err = h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Suppressed)
	assert.Nil(t, s.Results[0].Outcome)

	// confidence gain above the override delta
	h.scorers["NIFTY"].set(models.Bullish, 86)
	h.advance(time.Minute)
	s, err = h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Accepted)

	// direction flip is never suppressed
	h.scorers["NIFTY"].set(models.Bearish, 80)
	h.advance(time.Minute)
	s, err = h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Accepted)

	// window elapsed
	h.advance(16 * time.Minute)
	s, err = h.p.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Accepted)

	assert.Equal(t, 4, h.tracker.Len())
}

func TestRunCycle_ReporterFailureDoesNotFailInstrument(t *testing.T) {
	h := newHarness(t, Config{}, "NIFTY")
	h.reporter.err = errors.New("telegram down")

	s, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Failed)
	assert.Error(t, s.Results[0].ReportErr)
	assert.Equal(t, 1, h.tracker.Len())
}

func TestStatus(t *testing.T) {
	h := newHarness(t, Config{}, "NIFTY")
	assert.Contains(t, h.p.Status(), "no cycle yet")
	_, err := h.p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Contains(t, h.p.Status(), "1 cycles")
	assert.Contains(t, h.p.Status(), "accepted 1")
}

type scriptedCycler struct {
	errs  []error
	calls int
}

func (s *scriptedCycler) RunCycle(context.Context) (CycleSummary, error) {
	err := s.errs[s.calls%len(s.errs)]
	s.calls++
	return CycleSummary{}, err
}

type fakeAlerter struct {
	errors     int
	recoveries []int
}

func (f *fakeAlerter) SendError(context.Context, error) error { f.errors++; return nil }
func (f *fakeAlerter) SendRecovery(_ context.Context, n int) error {
	f.recoveries = append(f.recoveries, n)
	return nil
}

func TestService_FailureAndRecoveryNotifications(t *testing.T) {
	boom := errors.New("boom")
	c := &scriptedCycler{errs: []error{boom, boom, boom, nil, nil}}
	a := &fakeAlerter{}
	s := NewService(ServiceConfig{Interval: time.Minute, FailureThreshold: 1}, c, a, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.tick(ctx)
	}
	assert.Equal(t, 1, a.errors, "one error notification per streak")
	assert.Equal(t, []int{3}, a.recoveries)
	assert.Equal(t, 0, s.ConsecutiveFailures())
}

func TestService_FailureThreshold(t *testing.T) {
	boom := errors.New("boom")
	c := &scriptedCycler{errs: []error{boom, nil}}
	a := &fakeAlerter{}
	s := NewService(ServiceConfig{Interval: time.Minute, FailureThreshold: 2}, c, a, nil)

	s.tick(context.Background())
	s.tick(context.Background())
	assert.Zero(t, a.errors, "a single failure stays below the threshold")
	assert.Empty(t, a.recoveries)
}

type fakeDaily struct {
	rollovers atomic.Int32
	flushes   atomic.Int32
}

func (f *fakeDaily) Rollover(time.Time) (string, error) { f.rollovers.Add(1); return "", nil }
func (f *fakeDaily) Flush(time.Time) (string, error)    { f.flushes.Add(1); return "report.txt", nil }

func TestService_RunStopsOnCancel(t *testing.T) {
	c := &scriptedCycler{errs: []error{nil}}
	d := &fakeDaily{}
	s := NewService(ServiceConfig{Interval: time.Hour}, c, nil, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return d.rollovers.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		require.FailNow(t, "Run did not return after cancel")
	}
	assert.Equal(t, 1, c.calls, "initial cycle only")
	assert.Equal(t, int32(1), d.flushes.Load())
}
