package telemetry

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/rigwatch/server/models"
)

const (
	MaxTargetRPM = 3000
	MaxFeedLevel = 100
	DefaultRPM   = 1200
	DefaultFeed  = 40
)

var ErrUnknownCommand = errors.New("unknown control command")

// DefaultControlState is what RESET returns to.
func DefaultControlState() models.ControlState {
	return models.ControlState{
		IsRunning: false,
		TargetRPM: DefaultRPM,
		FeedLevel: DefaultFeed,
	}
}

// Normalize clamps every field into its valid range. Out-of-range input is
// never rejected.
func Normalize(cs models.ControlState) models.ControlState {
	cs.TargetRPM = clamp(cs.TargetRPM, 0, MaxTargetRPM)
	cs.FeedLevel = clamp(cs.FeedLevel, 0, MaxFeedLevel)
	return cs
}

// Apply returns the control state after cmd. Missing values on SET_* leave
// the state unchanged.
func Apply(cs models.ControlState, cmd models.Command) (models.ControlState, error) {
	switch cmd.Command {
	case models.CommandStart:
		cs.IsRunning = true
	case models.CommandStop:
		cs.IsRunning = false
	case models.CommandReset:
		cs = DefaultControlState()
	case models.CommandSetRPM:
		if cmd.Value != nil {
			cs.TargetRPM = *cmd.Value
		}
	case models.CommandSetFeed:
		if cmd.Value != nil {
			cs.FeedLevel = *cmd.Value
		}
	default:
		return Normalize(cs), fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	return Normalize(cs), nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Exertion estimates the operator's physical load in [0, 1] from the rig
// settings. An idle rig still leaves some baseline activity.
func Exertion(cs models.ControlState) float64 {
	cs = Normalize(cs)
	if !cs.IsRunning {
		return 0.1
	}
	return clamp(0.2+0.5*cs.FeedLevel/MaxFeedLevel+0.3*cs.TargetRPM/MaxTargetRPM, 0, 1)
}
