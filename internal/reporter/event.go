package reporter

import (
	"encoding/json"
	"time"

	"github.com/rewired-gh/strikewatch/internal/models"
	"github.com/shopspring/decimal"
)

// Event is the JSON document published to Redis and Kafka for each outcome.
type Event struct {
	CandidateID string            `json:"candidate_id"`
	Instrument  string            `json:"instrument"`
	Profile     string            `json:"profile"`
	Direction   models.Direction  `json:"direction"`
	Confidence  float64           `json:"confidence"`
	Strike      decimal.Decimal   `json:"strike"`
	OptionType  models.OptionType `json:"option_type"`
	Entry       decimal.Decimal   `json:"entry"`
	Target      decimal.Decimal   `json:"target"`
	StopLoss    decimal.Decimal   `json:"stop_loss"`
	Result      string            `json:"result"`
	PnL         decimal.Decimal   `json:"pnl"`
	Probability float64           `json:"success_probability"`
	OutcomeID   string            `json:"outcome_id"`
	ResolvedAt  time.Time         `json:"resolved_at"`
}

// NewEvent builds the published document for c and its outcome o.
func NewEvent(c models.Candidate, o models.Outcome) Event {
	return Event{
		CandidateID: c.ID,
		Instrument:  c.Instrument(),
		Profile:     c.Profile,
		Direction:   c.Direction,
		Confidence:  c.Confidence,
		Strike:      c.Strike,
		OptionType:  c.OptionType,
		Entry:       c.Entry,
		Target:      c.Target,
		StopLoss:    c.StopLoss,
		Result:      o.Result(),
		PnL:         o.PnL,
		Probability: o.SuccessProbability,
		OutcomeID:   o.ID,
		ResolvedAt:  o.ResolvedAt,
	}
}

func marshalEvent(c models.Candidate, o models.Outcome) ([]byte, error) {
	return json.Marshal(NewEvent(c, o))
}
