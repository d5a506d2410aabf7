package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the simulated resolution of an accepted candidate.
type Outcome struct {
	ID                 string          `json:"id"`
	CandidateID        string          `json:"candidate_id"`
	Instrument         string          `json:"instrument"`
	Direction          Direction       `json:"direction"`
	Confidence         float64         `json:"confidence"`
	SuccessProbability float64         `json:"success_probability"`
	Draw               float64         `json:"draw"`
	Win                bool            `json:"win"`
	PnL                decimal.Decimal `json:"pnl"`
	ResolvedAt         time.Time       `json:"resolved_at"`
}

// Result returns "WIN" or "LOSS".
func (o *Outcome) Result() string {
	if o.Win {
		return "WIN"
	}
	return "LOSS"
}

// Stats summarises a set of outcomes.
type Stats struct {
	Total    int             `json:"total"`
	Wins     int             `json:"wins"`
	Losses   int             `json:"losses"`
	WinRate  float64         `json:"win_rate"`
	TotalPnL decimal.Decimal `json:"total_pnl"`
	AvgPnL   decimal.Decimal `json:"avg_pnl"`
	BestPnL  decimal.Decimal `json:"best_pnl"`
	WorstPnL decimal.Decimal `json:"worst_pnl"`
}

// ComputeStats folds outcomes into Stats. An empty slice yields zero values.
func ComputeStats(outcomes []Outcome) Stats {
	var s Stats
	s.TotalPnL = decimal.Zero
	s.AvgPnL = decimal.Zero
	s.BestPnL = decimal.Zero
	s.WorstPnL = decimal.Zero
	for i, o := range outcomes {
		s.Total++
		if o.Win {
			s.Wins++
		} else {
			s.Losses++
		}
		s.TotalPnL = s.TotalPnL.Add(o.PnL)
		if i == 0 || o.PnL.GreaterThan(s.BestPnL) {
			s.BestPnL = o.PnL
		}
		if i == 0 || o.PnL.LessThan(s.WorstPnL) {
			s.WorstPnL = o.PnL
		}
	}
	if s.Total > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Total) * 100
		s.AvgPnL = s.TotalPnL.Div(decimal.NewFromInt(int64(s.Total))).Round(2)
	}
	return s
}
