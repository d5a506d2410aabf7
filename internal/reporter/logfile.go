package reporter

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/shopspring/decimal"
)

const (
	callFields   = 14
	resultFields = 10
)

// CallRecord is one line of the calls log.
type CallRecord struct {
	Time         time.Time
	ID           string
	Instrument   string
	Profile      string
	Direction    models.Direction
	Confidence   float64
	Price        float64
	Strike       decimal.Decimal
	OptionType   models.OptionType
	Entry        decimal.Decimal
	Target       decimal.Decimal
	StopLoss     decimal.Decimal
	Accepted     bool
	RejectReason string
}

// CallRecordOf extracts the logged fields of c.
func CallRecordOf(c models.Candidate) CallRecord {
	return CallRecord{
		Time:         c.CreatedAt,
		ID:           c.ID,
		Instrument:   c.Instrument(),
		Profile:      c.Profile,
		Direction:    c.Direction,
		Confidence:   c.Confidence,
		Price:        c.Snapshot.Price,
		Strike:       c.Strike,
		OptionType:   c.OptionType,
		Entry:        c.Entry,
		Target:       c.Target,
		StopLoss:     c.StopLoss,
		Accepted:     c.Accepted,
		RejectReason: c.RejectReason,
	}
}

// FormatCall renders r as a pipe-separated line without the trailing newline.
func FormatCall(r CallRecord) string {
	status := "REJECTED"
	if r.Accepted {
		status = "ACCEPTED"
	}
	return joinFields([]string{
		r.Time.Format(time.RFC3339Nano),
		r.ID,
		r.Instrument,
		r.Profile,
		string(r.Direction),
		formatFloat(r.Confidence),
		formatFloat(r.Price),
		r.Strike.String(),
		string(r.OptionType),
		r.Entry.String(),
		r.Target.String(),
		r.StopLoss.String(),
		status,
		r.RejectReason,
	})
}

// ParseCall is the inverse of FormatCall.
func ParseCall(line string) (CallRecord, error) {
	f, err := splitFields(line, callFields)
	if err != nil {
		return CallRecord{}, err
	}
	p := fieldParser{}
	r := CallRecord{
		Time:         p.time(f[0]),
		ID:           f[1],
		Instrument:   f[2],
		Profile:      f[3],
		Direction:    p.direction(f[4]),
		Confidence:   p.float(f[5]),
		Price:        p.float(f[6]),
		Strike:       p.decimal(f[7]),
		OptionType:   models.OptionType(f[8]),
		Entry:        p.decimal(f[9]),
		Target:       p.decimal(f[10]),
		StopLoss:     p.decimal(f[11]),
		RejectReason: f[13],
	}
	switch f[12] {
	case "ACCEPTED":
		r.Accepted = true
	case "REJECTED":
	default:
		p.fail(fmt.Errorf("unknown status %q", f[12]))
	}
	if p.err != nil {
		return CallRecord{}, fmt.Errorf("parse call: %w", p.err)
	}
	return r, nil
}

// FormatResult renders o as a pipe-separated line without the trailing newline.
func FormatResult(o models.Outcome) string {
	return joinFields([]string{
		o.ResolvedAt.Format(time.RFC3339Nano),
		o.ID,
		o.CandidateID,
		o.Instrument,
		string(o.Direction),
		formatFloat(o.Confidence),
		formatFloat(o.SuccessProbability),
		formatFloat(o.Draw),
		o.Result(),
		o.PnL.String(),
	})
}

// ParseResult is the inverse of FormatResult.
func ParseResult(line string) (models.Outcome, error) {
	f, err := splitFields(line, resultFields)
	if err != nil {
		return models.Outcome{}, err
	}
	p := fieldParser{}
	o := models.Outcome{
		ResolvedAt:         p.time(f[0]),
		ID:                 f[1],
		CandidateID:        f[2],
		Instrument:         f[3],
		Direction:          p.direction(f[4]),
		Confidence:         p.float(f[5]),
		SuccessProbability: p.float(f[6]),
		Draw:               p.float(f[7]),
		PnL:                p.decimal(f[9]),
	}
	switch f[8] {
	case "WIN":
		o.Win = true
	case "LOSS":
	default:
		p.fail(fmt.Errorf("unknown result %q", f[8]))
	}
	if p.err != nil {
		return models.Outcome{}, fmt.Errorf("parse result: %w", p.err)
	}
	return o, nil
}

// joinFields writes one csv record with '|' as separator. Fields holding a
// pipe, quote or newline are quoted, so any text survives the round trip.
func joinFields(fields []string) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = '|'
	_ = w.Write(fields) // strings.Builder never fails
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func splitFields(line string, want int) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = '|'
	r.FieldsPerRecord = want
	r.LazyQuotes = false
	f, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	return f, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// fieldParser keeps the first error so a record can be decoded in one expression.
type fieldParser struct{ err error }

func (p *fieldParser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *fieldParser) time(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		p.fail(err)
	}
	return t
}

func (p *fieldParser) float(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(err)
	}
	return v
}

func (p *fieldParser) decimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.fail(err)
	}
	return d
}

func (p *fieldParser) direction(s string) models.Direction {
	d, err := models.ParseDirection(s)
	if err != nil {
		p.fail(err)
	}
	return d
}

// LogReporter appends calls and results to two plain-text logs.
type LogReporter struct {
	mu      sync.Mutex
	calls   *os.File
	results *os.File
	cw      *bufio.Writer
	rw      *bufio.Writer
}

// NewLogReporter opens (or creates) the two log files under dir.
func NewLogReporter(dir, callsFile, resultsFile string) (*LogReporter, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	calls, err := openAppend(filepath.Join(dir, callsFile))
	if err != nil {
		return nil, err
	}
	results, err := openAppend(filepath.Join(dir, resultsFile))
	if err != nil {
		_ = calls.Close()
		return nil, err
	}
	return &LogReporter{
		calls:   calls,
		results: results,
		cw:      bufio.NewWriter(calls),
		rw:      bufio.NewWriter(results),
	}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// Name implements Reporter.
func (l *LogReporter) Name() string { return "logfile" }

// Report appends one call line and, when o is set, one result line.
func (l *LogReporter) Report(_ context.Context, c models.Candidate, o *models.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.cw.WriteString(FormatCall(CallRecordOf(c)) + "\n"); err != nil {
		return fmt.Errorf("failed to write call: %w", err)
	}
	if err := l.cw.Flush(); err != nil {
		return fmt.Errorf("failed to flush calls log: %w", err)
	}
	if o == nil {
		return nil
	}
	if _, err := l.rw.WriteString(FormatResult(*o) + "\n"); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := l.rw.Flush(); err != nil {
		return fmt.Errorf("failed to flush results log: %w", err)
	}
	return nil
}

// Close flushes and closes both files.
func (l *LogReporter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Join(l.cw.Flush(), l.rw.Flush(), l.calls.Close(), l.results.Close())
}
