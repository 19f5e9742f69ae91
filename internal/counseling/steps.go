// Package counseling drives the four-step reframing exercise:
// A (situation) -> B (negative belief) -> B' (reframed belief) ->
// C' (action plan), with a terminal completion that produces the summary.
package counseling

import (
	"fmt"
	"strings"
)

// Step indexes the wizard stages 1..4.
type Step int

const (
	StepSituation Step = iota + 1 // A
	StepBelief                    // B
	StepReframed                  // B'
	StepAction                    // C'
)

const lastStep = StepAction

func (s Step) String() string {
	switch s {
	case StepSituation:
		return "A"
	case StepBelief:
		return "B"
	case StepReframed:
		return "B_prime"
	case StepAction:
		return "C_prime"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Field names the session-data field a step captures; validation errors
// carry it so the caller knows exactly what was missing.
func (s Step) Field() string {
	switch s {
	case StepSituation:
		return "situation"
	case StepBelief:
		return "belief"
	case StepReframed:
		return "reframed"
	case StepAction:
		return "action"
	default:
		return ""
	}
}

// ParseStep accepts both the letter form ("A", "B", "B_prime", "C_prime")
// and the numeric form ("1".."4").
func ParseStep(s string) (Step, error) {
	switch strings.TrimSpace(s) {
	case "A", "a", "1":
		return StepSituation, nil
	case "B", "b", "2":
		return StepBelief, nil
	case "B_prime", "b_prime", "B'", "3":
		return StepReframed, nil
	case "C_prime", "c_prime", "C'", "4":
		return StepAction, nil
	default:
		return 0, fmt.Errorf("counseling: unknown step %q", s)
	}
}
