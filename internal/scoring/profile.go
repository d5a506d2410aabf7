package scoring

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Profile is a named strategy: a threshold, a cap and a bonus table.
type Profile struct {
	Name          string  `mapstructure:"name" validate:"required"`
	Threshold     float64 `mapstructure:"threshold" validate:"gte=0,lte=100"`
	Cap           float64 `mapstructure:"cap" validate:"gt=0,lte=100"`
	RejectNeutral bool    `mapstructure:"reject_neutral"`
	TargetRatio   float64 `mapstructure:"target_ratio" validate:"gt=0,lt=1"`
	StopRatio     float64 `mapstructure:"stop_ratio" validate:"gt=0,lt=1"`
	Weights       Weights `mapstructure:"weights"`
}

// DefaultProfile returns the stock profile.
func DefaultProfile() Profile {
	return Profile{
		Name:        "default",
		Threshold:   75,
		Cap:         95,
		TargetRatio: 0.006,
		StopRatio:   0.004,
		Weights:     DefaultWeights(),
	}
}

// Validate checks the struct tags and that the threshold is reachable.
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if p.Threshold > p.Cap {
		return fmt.Errorf("profile %q: threshold %.1f exceeds cap %.1f", p.Name, p.Threshold, p.Cap)
	}
	return nil
}

// Scorer builds the profile's scorer for an instrument with the given strike step.
func (p *Profile) Scorer(strikeStep float64) *WeightedScorer {
	return NewWeightedScorer(p.Name, p.Weights, p.Cap, LevelConfig{
		StrikeStep:  strikeStep,
		TargetRatio: p.TargetRatio,
		StopRatio:   p.StopRatio,
	})
}

// Filter builds the profile's threshold filter.
func (p *Profile) Filter() *ThresholdFilter {
	return &ThresholdFilter{Threshold: p.Threshold, RejectNeutral: p.RejectNeutral}
}
