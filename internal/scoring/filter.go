package scoring

import (
	"fmt"

	"github.com/rewired-gh/strikewatch/internal/models"
)

// ThresholdFilter accepts a candidate iff its confidence reaches Threshold.
type ThresholdFilter struct {
	Threshold     float64
	RejectNeutral bool
}

// Apply marks c accepted or rejected with a reason.
func (f *ThresholdFilter) Apply(c *models.Candidate) {
	c.Accepted = false
	c.RejectReason = ""

	if c.Confidence < f.Threshold {
		c.RejectReason = fmt.Sprintf("confidence %.1f%% below threshold %.1f%%", c.Confidence, f.Threshold)
		return
	}
	if !c.Direction.Valid() {
		c.RejectReason = fmt.Sprintf("invalid direction %q", c.Direction)
		return
	}
	if f.RejectNeutral && c.Direction == models.Neutral {
		c.RejectReason = "no directional bias"
		return
	}
	c.Accepted = true
}
