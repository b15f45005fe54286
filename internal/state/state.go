package state

import (
	"fmt"
	"strings"
)

// DesiredState is the tunnel state the loop wants the endpoint to be in.
type DesiredState string

const (
	StateUnknown DesiredState = "UNKNOWN"
	StateUp      DesiredState = "UP"
	StateDown    DesiredState = "DOWN"
)

// Valid reports whether s is UP or DOWN, the only states an action can target.
func (s DesiredState) Valid() bool {
	return s == StateUp || s == StateDown
}

func (s DesiredState) String() string {
	if s == "" {
		return string(StateUnknown)
	}
	return string(s)
}

// ParseDesiredState accepts UP or DOWN in any case.
func ParseDesiredState(value string) (DesiredState, error) {
	switch DesiredState(strings.ToUpper(strings.TrimSpace(value))) {
	case StateUp:
		return StateUp, nil
	case StateDown:
		return StateDown, nil
	default:
		return StateUnknown, fmt.Errorf("invalid state: %q", value)
	}
}

// Evaluate maps a client count to the desired state.
// A count equal to the threshold keeps the previous state, including UNKNOWN.
func Evaluate(count, threshold int, previous DesiredState) DesiredState {
	switch {
	case count > threshold:
		return StateUp
	case count < threshold:
		return StateDown
	default:
		return previous
	}
}
