package reporter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testCandidate() models.Candidate {
	return models.Candidate{
		ID:         "cand-1",
		Snapshot:   models.Snapshot{Instrument: "NIFTY", Price: 24512.35, Timestamp: time.Now()},
		Profile:    "default",
		Direction:  models.Bullish,
		Confidence: 82.5,
		Strike:     dec("24500"),
		OptionType: models.Call,
		Entry:      dec("24512.35"),
		Target:     dec("24659.42"),
		StopLoss:   dec("24414.3"),
		Accepted:   true,
		CreatedAt:  time.Date(2026, 1, 5, 9, 30, 0, 123456789, time.FixedZone("IST", 19800)),
	}
}

func testOutcome() models.Outcome {
	return models.Outcome{
		ID:                 "out-1",
		CandidateID:        "cand-1",
		Instrument:         "NIFTY",
		Direction:          models.Bullish,
		Confidence:         82.5,
		SuccessProbability: 0.65,
		Draw:               0.123456789,
		Win:                true,
		PnL:                dec("11030.25"),
		ResolvedAt:         time.Date(2026, 1, 5, 9, 31, 0, 0, time.UTC),
	}
}

func TestCallRecord_RoundTrip(t *testing.T) {
	cases := map[string]func(c *models.Candidate){
		"accepted": func(c *models.Candidate) {},
		"rejected": func(c *models.Candidate) {
			c.Accepted = false
			c.RejectReason = "confidence 60.0% below threshold 75.0%"
		},
		"neutral without leg": func(c *models.Candidate) {
			c.Direction = models.Neutral
			c.OptionType = models.None
		},
		"separator in text": func(c *models.Candidate) {
			c.Accepted = false
			c.Profile = `swing|"wide"`
			c.RejectReason = "a|b\nc"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := testCandidate()
			mutate(&c)
			want := CallRecordOf(c)

			line := FormatCall(want)
			got, err := ParseCall(line)
			require.NoError(t, err, line)

			assert.True(t, want.Time.Equal(got.Time))
			assert.True(t, want.Strike.Equal(got.Strike))
			assert.True(t, want.Entry.Equal(got.Entry))
			assert.True(t, want.Target.Equal(got.Target))
			assert.True(t, want.StopLoss.Equal(got.StopLoss))
			want.Time, got.Time = time.Time{}, time.Time{}
			want.Strike, got.Strike = decimal.Zero, decimal.Zero
			want.Entry, got.Entry = decimal.Zero, decimal.Zero
			want.Target, got.Target = decimal.Zero, decimal.Zero
			want.StopLoss, got.StopLoss = decimal.Zero, decimal.Zero
			assert.Equal(t, want, got)
		})
	}
}

func TestFormatCall_Layout(t *testing.T) {
	line := FormatCall(CallRecordOf(testCandidate()))
	assert.Equal(t,
		"2026-01-05T09:30:00.123456789+05:30|cand-1|NIFTY|default|BULLISH|82.5|24512.35|24500|CE|24512.35|24659.42|24414.3|ACCEPTED|",
		line)
}

func TestResult_RoundTrip(t *testing.T) {
	for _, win := range []bool{true, false} {
		o := testOutcome()
		o.Win = win
		if !win {
			o.PnL = dec("-7351.5")
		}
		got, err := ParseResult(FormatResult(o))
		require.NoError(t, err)
		assert.True(t, o.ResolvedAt.Equal(got.ResolvedAt))
		assert.True(t, o.PnL.Equal(got.PnL))
		assert.Equal(t, o.Win, got.Win)
		assert.Equal(t, o.Draw, got.Draw)
		assert.Equal(t, o.SuccessProbability, got.SuccessProbability)
		assert.Equal(t, o.ID, got.ID)
		assert.Equal(t, o.CandidateID, got.CandidateID)
		assert.Equal(t, o.Direction, got.Direction)
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := ParseCall("only|three|fields")
	assert.Error(t, err)

	line := strings.Replace(FormatResult(testOutcome()), "|WIN|", "|DRAW|", 1)
	_, err = ParseResult(line)
	assert.Error(t, err)

	line = strings.Replace(FormatResult(testOutcome()), "BULLISH", "UPWARD", 1)
	_, err = ParseResult(line)
	assert.Error(t, err)
}

func TestLogReporter_AppendsLines(t *testing.T) {
	dir := t.TempDir()
	lr, err := NewLogReporter(dir, "trading_calls.log", "trade_results.log")
	require.NoError(t, err)

	ctx := context.Background()
	o := testOutcome()
	require.NoError(t, lr.Report(ctx, testCandidate(), &o))

	rejected := testCandidate()
	rejected.ID = "cand-2"
	rejected.Accepted = false
	rejected.RejectReason = "below threshold"
	require.NoError(t, lr.Report(ctx, rejected, nil))
	require.NoError(t, lr.Close())

	calls := readLines(t, filepath.Join(dir, "trading_calls.log"))
	require.Len(t, calls, 2)
	second, err := ParseCall(calls[1])
	require.NoError(t, err)
	assert.Equal(t, "cand-2", second.ID)
	assert.False(t, second.Accepted)

	results := readLines(t, filepath.Join(dir, "trade_results.log"))
	require.Len(t, results, 1)
	parsed, err := ParseResult(results[0])
	require.NoError(t, err)
	assert.Equal(t, "out-1", parsed.ID)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

type stubReporter struct {
	name  string
	err   error
	calls int
}

func (s *stubReporter) Name() string { return s.name }
func (s *stubReporter) Report(context.Context, models.Candidate, *models.Outcome) error {
	s.calls++
	return s.err
}

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	a := &stubReporter{name: "a", err: boom}
	b := &stubReporter{name: "b"}
	m := NewMulti(a, b)

	err := m.Report(context.Background(), testCandidate(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Equal(t, 1, b.calls, "second reporter must still run")
	assert.NoError(t, m.Close())
}

type fakeNotifier struct {
	candidates []models.Candidate
	outcomes   []models.Outcome
}

func (f *fakeNotifier) SendCandidate(_ context.Context, c models.Candidate) error {
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeNotifier) SendOutcome(_ context.Context, o models.Outcome) error {
	f.outcomes = append(f.outcomes, o)
	return nil
}

func TestTelegramReporter(t *testing.T) {
	ctx := context.Background()
	n := &fakeNotifier{}
	r := NewTelegramReporter(n, false)

	rejected := testCandidate()
	rejected.Accepted = false
	require.NoError(t, r.Report(ctx, rejected, nil))
	assert.Empty(t, n.candidates)

	o := testOutcome()
	require.NoError(t, r.Report(ctx, testCandidate(), &o))
	assert.Len(t, n.candidates, 1)
	assert.Len(t, n.outcomes, 1)

	verbose := NewTelegramReporter(n, true)
	require.NoError(t, verbose.Report(ctx, rejected, nil))
	assert.Len(t, n.candidates, 2)
}

func TestRedisReporter(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedisReporter(db, "strikewatch:outcomes", "strikewatch:recent", 100)
	ctx := context.Background()

	c, o := testCandidate(), testOutcome()
	payload, err := json.Marshal(NewEvent(c, o))
	require.NoError(t, err)

	mock.ExpectPublish("strikewatch:outcomes", string(payload)).SetVal(1)
	mock.ExpectLPush("strikewatch:recent", string(payload)).SetVal(1)
	mock.ExpectLTrim("strikewatch:recent", 0, 99).SetVal("OK")

	require.NoError(t, r.Report(ctx, c, &o))
	assert.NoError(t, mock.ExpectationsWereMet())

	// rejected candidates issue no commands
	require.NoError(t, r.Report(ctx, c, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisReporter_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := NewRedisReporter(db, "ch", "list", 10)
	c, o := testCandidate(), testOutcome()
	payload, _ := json.Marshal(NewEvent(c, o))

	mock.ExpectPublish("ch", string(payload)).SetErr(errors.New("connection refused"))
	err := r.Report(context.Background(), c, &o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish to ch")
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaReporter(t *testing.T) {
	fw := &fakeWriter{}
	k := &KafkaReporter{w: fw}
	c, o := testCandidate(), testOutcome()

	require.NoError(t, k.Report(context.Background(), c, nil))
	require.NoError(t, k.Report(context.Background(), c, &o))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, "NIFTY", string(fw.msgs[0].Key))

	var ev Event
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &ev))
	assert.Equal(t, "WIN", ev.Result)
	assert.True(t, ev.PnL.Equal(o.PnL))

	require.NoError(t, k.Close())
	assert.True(t, fw.closed)

	_, err := NewKafkaReporter(nil, "topic")
	assert.Error(t, err)
}

type staticOutcomes []models.Outcome

func (s staticOutcomes) Recent(int) []models.Outcome { return s }

func TestDailyReport_Rollover(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	win := testOutcome()
	win.ResolvedAt = day1
	loss := testOutcome()
	loss.ID, loss.Win, loss.PnL, loss.Instrument = "out-2", false, dec("-500"), "SENSEX"
	loss.ResolvedAt = day1.Add(time.Hour)
	other := testOutcome()
	other.ResolvedAt = day2

	d := NewDailyReport(dir, "strikewatch", time.UTC, staticOutcomes{other, loss, win})

	path, err := d.Rollover(day1)
	require.NoError(t, err)
	assert.Empty(t, path, "first call only records the day")

	path, err = d.Rollover(day1.Add(2 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = d.Rollover(day2)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "strikewatch_report_2026-01-05.txt"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "Daily report 2026-01-05")
	assert.Contains(t, text, "calls=2 wins=1 losses=1 win_rate=50.0%")
	assert.Contains(t, text, "SENSEX")

	path, err = d.Flush(day2)
	require.NoError(t, err)
	assert.FileExists(t, path)
}
