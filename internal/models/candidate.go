package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the directional label assigned to a candidate.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// ParseDirection accepts the canonical labels plus the SIDEWAYS alias.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BULLISH":
		return Bullish, nil
	case "BEARISH":
		return Bearish, nil
	case "NEUTRAL", "SIDEWAYS":
		return Neutral, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) String() string { return string(d) }

// Valid reports whether d is one of the three known labels.
func (d Direction) Valid() bool {
	return d == Bullish || d == Bearish || d == Neutral
}

// OptionType is CE (call) or PE (put). Neutral candidates carry no option leg.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
	None OptionType = ""
)

// FactorScore is one line of the confidence sum.
type FactorScore struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
	Reason string  `json:"reason"`
}

// Candidate is a proposed signal pending acceptance. Its lifetime is one cycle.
type Candidate struct {
	ID         string        `json:"id"`
	Snapshot   Snapshot      `json:"snapshot"`
	Profile    string        `json:"profile"`
	Direction  Direction     `json:"direction"`
	Confidence float64       `json:"confidence"`
	Breakdown  []FactorScore `json:"breakdown,omitempty"`

	Strike     decimal.Decimal `json:"strike"`
	OptionType OptionType      `json:"option_type"`
	Entry      decimal.Decimal `json:"entry"`
	Target     decimal.Decimal `json:"target"`
	StopLoss   decimal.Decimal `json:"stop_loss"`

	Accepted     bool      `json:"accepted"`
	RejectReason string    `json:"reject_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Instrument is shorthand for c.Snapshot.Instrument.
func (c *Candidate) Instrument() string { return c.Snapshot.Instrument }

// Validate checks candidate field constraints.
func (c *Candidate) Validate() error {
	if err := c.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if c.ID == "" {
		return errors.New("candidate ID must not be empty")
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("invalid direction %q", c.Direction)
	}
	if c.Confidence < 0 || c.Confidence > 100 {
		return errors.New("confidence must be between 0 and 100")
	}
	if c.Accepted && c.RejectReason != "" {
		return errors.New("accepted candidate must not carry a reject reason")
	}
	return nil
}
