package optimizations

import (
	"fmt"
	"math"
)

// ScheduleType selects the learning-rate schedule shape.
type ScheduleType string

const (
	ScheduleLinear             ScheduleType = "linear"
	ScheduleCosine             ScheduleType = "cosine"
	ScheduleConstant           ScheduleType = "constant"
	ScheduleConstantWithWarmup ScheduleType = "constant_with_warmup"
)

// ParseScheduleType validates a --lr_scheduler_type flag value.
func ParseScheduleType(s string) (ScheduleType, error) {
	switch ScheduleType(s) {
	case ScheduleLinear, ScheduleCosine, ScheduleConstant, ScheduleConstantWithWarmup:
		return ScheduleType(s), nil
	}
	return "", fmt.Errorf("unknown lr_scheduler_type %q", s)
}

// Schedule maps a 1-based optimizer step to a learning rate. Steps within
// WarmupSteps ramp linearly from zero to Peak; afterwards the rate decays
// according to Type until TotalSteps.
type Schedule struct {
	Type        ScheduleType
	Peak        float64
	WarmupSteps int
	TotalSteps  int
}

// At returns the learning rate for the given step.
func (s Schedule) At(step int) float64 {
	if step <= 0 {
		return 0
	}
	if s.WarmupSteps > 0 && step < s.WarmupSteps {
		return s.Peak * float64(step) / float64(s.WarmupSteps)
	}
	switch s.Type {
	case ScheduleConstant, ScheduleConstantWithWarmup:
		return s.Peak
	case ScheduleCosine:
		x := s.progress(step)
		return s.Peak * 0.5 * (1 + math.Cos(math.Pi*x))
	default: // linear
		x := s.progress(step)
		return s.Peak * (1 - x)
	}
}

// progress in [0,1] through the post-warmup portion of the run. It is
// measured in completed steps (step-1), so the update at TotalSteps still
// applies a nonzero rate; only steps past TotalSteps decay to zero.
func (s Schedule) progress(step int) float64 {
	decay := s.TotalSteps - s.WarmupSteps
	if decay <= 0 {
		return 0
	}
	x := float64(step-1-s.WarmupSteps) / float64(decay)
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
