package reporter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/strikewatch/internal/models"
)

// OutcomeSource lists recent outcomes, newest first.
type OutcomeSource interface {
	Recent(n int) []models.Outcome
}

// DailyReport writes <prefix>_report_<YYYY-MM-DD>.txt once per calendar day.
type DailyReport struct {
	dir    string
	prefix string
	loc    *time.Location
	src    OutcomeSource

	mu      sync.Mutex
	current string // day being accumulated
}

// NewDailyReport creates a report writer. Days are cut in loc.
func NewDailyReport(dir, prefix string, loc *time.Location, src OutcomeSource) *DailyReport {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyReport{dir: dir, prefix: prefix, loc: loc, src: src}
}

func (d *DailyReport) day(t time.Time) string {
	return t.In(d.loc).Format("2006-01-02")
}

// Path returns the report file for the day containing t.
func (d *DailyReport) Path(t time.Time) string {
	return filepath.Join(d.dir, fmt.Sprintf("%s_report_%s.txt", d.prefix, d.day(t)))
}

// Rollover writes the report of the previous day once now has moved past it.
// It returns the written path, or "" when the day has not changed.
func (d *DailyReport) Rollover(now time.Time) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := d.day(now)
	if d.current == "" {
		d.current = today
		return "", nil
	}
	if d.current == today {
		return "", nil
	}
	prev, err := time.ParseInLocation("2006-01-02", d.current, d.loc)
	if err != nil {
		return "", fmt.Errorf("parse day %q: %w", d.current, err)
	}
	d.current = today
	return d.write(prev)
}

// Flush writes the report of the day containing now, e.g. at shutdown.
func (d *DailyReport) Flush(now time.Time) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(now)
}

func (d *DailyReport) write(day time.Time) (string, error) {
	if d.dir != "" {
		if err := os.MkdirAll(d.dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	path := d.Path(day)
	content := RenderDailyReport(d.day(day), d.outcomesOn(day))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// outcomesOn returns the outcomes resolved on day, oldest first.
func (d *DailyReport) outcomesOn(day time.Time) []models.Outcome {
	want := d.day(day)
	recent := d.src.Recent(0)
	var out []models.Outcome
	for i := len(recent) - 1; i >= 0; i-- {
		o := recent[i]
		o.ResolvedAt = o.ResolvedAt.In(d.loc)
		if d.day(o.ResolvedAt) == want {
			out = append(out, o)
		}
	}
	return out
}

// RenderDailyReport formats the plain-text summary of one day's outcomes.
func RenderDailyReport(day string, outcomes []models.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily report %s\n", day)
	b.WriteString(strings.Repeat("=", 40) + "\n")

	total := models.ComputeStats(outcomes)
	writeStats(&b, "ALL", total)

	groups := make(map[string][]models.Outcome)
	for _, o := range outcomes {
		groups[o.Instrument] = append(groups[o.Instrument], o)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeStats(&b, name, models.ComputeStats(groups[name]))
	}

	if len(outcomes) > 0 {
		b.WriteString("\nResults\n")
		for _, o := range outcomes {
			fmt.Fprintf(&b, "%s %-10s %-8s %5.1f%% %-4s %s\n",
				o.ResolvedAt.Format("15:04:05"), o.Instrument, o.Direction,
				o.Confidence, o.Result(), o.PnL.StringFixed(2))
		}
	}
	return b.String()
}

func writeStats(b *strings.Builder, label string, s models.Stats) {
	fmt.Fprintf(b, "%-10s calls=%d wins=%d losses=%d win_rate=%.1f%% pnl=%s avg=%s best=%s worst=%s\n",
		label, s.Total, s.Wins, s.Losses, s.WinRate,
		s.TotalPnL.StringFixed(2), s.AvgPnL.StringFixed(2), s.BestPnL.StringFixed(2), s.WorstPnL.StringFixed(2))
}
