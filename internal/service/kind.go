// Package service runs the sensing services and the orchestrator that
// switches between them on control commands.
package service

import (
	"fmt"

	"github.com/wayguide/wayguide/internal/guidance"
)

// Kind identifies a sensing service.
type Kind int

const (
	KindNone Kind = iota
	KindObstacle
	KindElevator
)

// Kinds lists the runnable service kinds.
var Kinds = []Kind{KindObstacle, KindElevator}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindObstacle:
		return guidance.ModeObstacle
	case KindElevator:
		return guidance.ModeElevator
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// KindForMode maps a control-link mode to a service kind. "stop" maps to
// KindNone.
func KindForMode(mode string) (Kind, bool) {
	switch mode {
	case guidance.ModeObstacle:
		return KindObstacle, true
	case guidance.ModeElevator:
		return KindElevator, true
	case guidance.ModeStop:
		return KindNone, true
	}
	return KindNone, false
}

// State is the orchestrator's state.
type State int

const (
	Idle State = iota
	RunningObstacle
	RunningElevator
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RunningObstacle:
		return "running_obstacle"
	case RunningElevator:
		return "running_elevator"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func stateFor(k Kind) State {
	switch k {
	case KindObstacle:
		return RunningObstacle
	case KindElevator:
		return RunningElevator
	}
	return Idle
}
