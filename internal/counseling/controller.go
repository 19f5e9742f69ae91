package counseling

import (
	"strings"

	"reframe/internal/store"
)

// The controller rules are pure functions over the session snapshot and its
// step history; the service applies them before touching storage.

// ValidateAdvance decides whether (step, input) is an admissible transition
// for the session as it stands. It enforces, in order: the session is still
// active, the step matches the pointer (no skips, no replays), the required
// input is non-blank, and the predecessor step has a persisted record.
func ValidateAdvance(sess *store.Session, history []store.StepResponse, step Step, input string) error {
	if sess.Status == store.StatusCompleted {
		return ErrSessionCompleted
	}
	if current := Step(sess.CurrentStep); step != current {
		return &OutOfOrderError{Expected: current, Got: step}
	}
	if strings.TrimSpace(input) == "" {
		return &ValidationError{Field: step.Field()}
	}
	if step > StepSituation && !hasStepRecord(history, step-1) {
		return &OutOfOrderError{Expected: step - 1, Got: step}
	}
	return nil
}

func hasStepRecord(history []store.StepResponse, step Step) bool {
	for _, r := range history {
		if Step(r.Step) == step {
			return true
		}
	}
	return false
}

// ApplyInput returns a copy of data with the step's field set. Inputs are
// stored as captured aside from whitespace trimming.
func ApplyInput(data store.SessionData, step Step, input string) store.SessionData {
	input = strings.TrimSpace(input)
	switch step {
	case StepSituation:
		data.Situation = input
	case StepBelief:
		data.Belief = input
	case StepReframed:
		data.Reframed = input
	case StepAction:
		data.Action = input
	}
	return data
}

// NextStep moves the pointer forward by exactly one, saturating at the last
// step (completion is a separate, explicit transition).
func NextStep(step Step) Step {
	if step >= lastStep {
		return lastStep
	}
	return step + 1
}

// PrevStep moves the pointer backward by one, saturating at the first step.
// Going back never erases captured records; only the pointer moves.
func PrevStep(step Step) Step {
	if step <= StepSituation {
		return StepSituation
	}
	return step - 1
}

// Replay folds a persisted step history, in order, back into the data
// object. For any step written more than once the latest record wins; the
// append-only history supersedes, it never rewrites.
func Replay(history []store.StepResponse) store.SessionData {
	var data store.SessionData
	for _, r := range history {
		data = ApplyInput(data, Step(r.Step), r.UserInput)
	}
	return data
}

// ReadyForSummary reports the first missing field, if any. The terminal
// state is reachable only when all four are non-empty.
func ReadyForSummary(data store.SessionData) error {
	checks := []struct {
		step  Step
		value string
	}{
		{StepSituation, data.Situation},
		{StepBelief, data.Belief},
		{StepReframed, data.Reframed},
		{StepAction, data.Action},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			return &ValidationError{Field: c.step.Field()}
		}
	}
	return nil
}
