// Package storage provides SQLite-backed persistence for candidates and outcomes.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db         *sql.DB
	maxRecords int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/strikewatch/data.db.
func New(maxRecords int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "strikewatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db, maxRecords: maxRecords}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candidates (
			id            TEXT PRIMARY KEY,
			instrument    TEXT NOT NULL,
			source        TEXT,
			profile       TEXT,
			price         REAL NOT NULL,
			volume        REAL NOT NULL DEFAULT 0,
			indicators    TEXT NOT NULL DEFAULT '{}',
			direction     TEXT NOT NULL,
			confidence    REAL NOT NULL,
			breakdown     TEXT NOT NULL DEFAULT '[]',
			strike        TEXT NOT NULL,
			option_type   TEXT,
			entry         TEXT NOT NULL,
			target        TEXT NOT NULL,
			stop_loss     TEXT NOT NULL,
			accepted      INTEGER NOT NULL DEFAULT 0,
			reject_reason TEXT,
			snapshot_at   INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id            TEXT PRIMARY KEY,
			candidate_id  TEXT NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
			instrument    TEXT NOT NULL,
			direction     TEXT NOT NULL,
			confidence    REAL NOT NULL,
			success_prob  REAL NOT NULL,
			draw          REAL NOT NULL,
			win           INTEGER NOT NULL,
			pnl           TEXT NOT NULL,
			resolved_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_created_at ON candidates(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_resolved_at ON outcomes(resolved_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveCandidate inserts c and trims the table to the newest maxRecords rows.
func (s *Storage) SaveCandidate(c *models.Candidate) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid candidate: %w", err)
	}
	indJSON, err := json.Marshal(c.Snapshot.Indicators)
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}
	breakdownJSON, err := json.Marshal(c.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO candidates
			(id, instrument, source, profile, price, volume, indicators, direction, confidence,
			 breakdown, strike, option_type, entry, target, stop_loss, accepted, reject_reason,
			 snapshot_at, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Snapshot.Instrument, c.Snapshot.Source, c.Profile, c.Snapshot.Price, c.Snapshot.Volume,
		string(indJSON), string(c.Direction), c.Confidence, string(breakdownJSON),
		c.Strike.String(), string(c.OptionType), c.Entry.String(), c.Target.String(), c.StopLoss.String(),
		boolToInt(c.Accepted), c.RejectReason,
		c.Snapshot.Timestamp.UnixNano(), c.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert candidate: %w", err)
	}

	if err := rotate(tx, s.maxRecords); err != nil {
		return err
	}
	return tx.Commit()
}

// GetCandidate loads a candidate by ID.
func (s *Storage) GetCandidate(id string) (*models.Candidate, error) {
	row := s.db.QueryRow(`
		SELECT id, instrument, source, profile, price, volume, indicators, direction, confidence,
		       breakdown, strike, option_type, entry, target, stop_loss, accepted, reject_reason,
		       snapshot_at, created_at
		FROM candidates WHERE id = ?`, id)

	var c models.Candidate
	var indJSON, breakdownJSON, direction, optionType string
	var strike, entry, target, stop string
	var source, profile, reason sql.NullString
	var accepted int
	var snapshotAt, createdAt int64

	err := row.Scan(
		&c.ID, &c.Snapshot.Instrument, &source, &profile, &c.Snapshot.Price, &c.Snapshot.Volume,
		&indJSON, &direction, &c.Confidence, &breakdownJSON,
		&strike, &optionType, &entry, &target, &stop, &accepted, &reason,
		&snapshotAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("candidate %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}

	if err := json.Unmarshal([]byte(indJSON), &c.Snapshot.Indicators); err != nil {
		return nil, fmt.Errorf("failed to unmarshal indicators: %w", err)
	}
	if err := json.Unmarshal([]byte(breakdownJSON), &c.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
	}
	c.Snapshot.Source = source.String
	c.Profile = profile.String
	c.RejectReason = reason.String
	c.Direction = models.Direction(direction)
	c.OptionType = models.OptionType(optionType)
	c.Accepted = accepted != 0
	c.Snapshot.Timestamp = time.Unix(0, snapshotAt)
	c.CreatedAt = time.Unix(0, createdAt)

	for _, p := range []struct {
		dst *decimal.Decimal
		src string
	}{{&c.Strike, strike}, {&c.Entry, entry}, {&c.Target, target}, {&c.StopLoss, stop}} {
		d, err := decimal.NewFromString(p.src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse price %q: %w", p.src, err)
		}
		*p.dst = d
	}
	return &c, nil
}

// CountCandidates returns the number of stored candidates.
func (s *Storage) CountCandidates() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM candidates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count candidates: %w", err)
	}
	return n, nil
}

// SaveOutcome inserts o. Its candidate must already be stored.
func (s *Storage) SaveOutcome(o *models.Outcome) error {
	_, err := s.db.Exec(`
		INSERT INTO outcomes
			(id, candidate_id, instrument, direction, confidence, success_prob, draw, win, pnl, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.CandidateID, o.Instrument, string(o.Direction), o.Confidence,
		o.SuccessProbability, o.Draw, boolToInt(o.Win), o.PnL.String(), o.ResolvedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns up to k outcomes, newest first.
func (s *Storage) RecentOutcomes(k int) ([]models.Outcome, error) {
	return s.queryOutcomes(`
		SELECT id, candidate_id, instrument, direction, confidence, success_prob, draw, win, pnl, resolved_at
		FROM outcomes ORDER BY resolved_at DESC LIMIT ?`, k)
}

// LoadStats summarises outcomes resolved at or after since. A zero since
// covers every stored outcome.
func (s *Storage) LoadStats(since time.Time) (models.Stats, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	outcomes, err := s.queryOutcomes(`
		SELECT id, candidate_id, instrument, direction, confidence, success_prob, draw, win, pnl, resolved_at
		FROM outcomes WHERE resolved_at >= ? ORDER BY resolved_at`, from)
	if err != nil {
		return models.Stats{}, err
	}
	return models.ComputeStats(outcomes), nil
}

func (s *Storage) queryOutcomes(query string, args ...any) ([]models.Outcome, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.Outcome
	for rows.Next() {
		var o models.Outcome
		var direction, pnl string
		var win int
		var resolvedAt int64
		if err := rows.Scan(
			&o.ID, &o.CandidateID, &o.Instrument, &direction, &o.Confidence,
			&o.SuccessProbability, &o.Draw, &win, &pnl, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Direction = models.Direction(direction)
		o.Win = win != 0
		o.ResolvedAt = time.Unix(0, resolvedAt)
		if o.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("failed to parse pnl %q: %w", pnl, err)
		}
		outcomes = append(outcomes, o)
	}
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}
	return outcomes, rows.Err()
}

// Rotate keeps at most maxRecords newest candidates by created_at.
// Cascading deletes remove their outcomes.
func (s *Storage) Rotate() error {
	return rotate(s.db, s.maxRecords)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func rotate(e execer, max int) error {
	_, err := e.Exec(`
		DELETE FROM candidates WHERE id NOT IN (
			SELECT id FROM candidates ORDER BY created_at DESC LIMIT ?
		)`, max)
	if err != nil {
		return fmt.Errorf("failed to rotate candidates: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
