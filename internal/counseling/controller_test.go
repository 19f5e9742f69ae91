package counseling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reframe/internal/store"
)

func activeSession(step Step) *store.Session {
	return &store.Session{
		ID:          "s1",
		UserID:      "u1",
		Status:      store.StatusActive,
		CurrentStep: int(step),
	}
}

func record(step Step, input string) store.StepResponse {
	return store.StepResponse{SessionID: "s1", Step: int(step), UserInput: input}
}

func TestValidateAdvanceOrder(t *testing.T) {
	sess := activeSession(StepSituation)

	require.NoError(t, ValidateAdvance(sess, nil, StepSituation, "got a bad grade"))

	err := ValidateAdvance(sess, nil, StepBelief, "I'm stupid")
	var ooo *OutOfOrderError
	require.ErrorAs(t, err, &ooo)
	assert.Equal(t, StepSituation, ooo.Expected)
	assert.Equal(t, StepBelief, ooo.Got)
}

func TestValidateAdvanceBlankInput(t *testing.T) {
	sess := activeSession(StepBelief)
	history := []store.StepResponse{record(StepSituation, "got a bad grade")}

	err := ValidateAdvance(sess, history, StepBelief, "   \n ")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "belief", ve.Field)
}

func TestValidateAdvanceMissingPredecessorRecord(t *testing.T) {
	// Pointer says B but A never landed a row: reject.
	sess := activeSession(StepBelief)

	err := ValidateAdvance(sess, nil, StepBelief, "I'm stupid")
	var ooo *OutOfOrderError
	require.ErrorAs(t, err, &ooo)
	assert.Equal(t, StepSituation, ooo.Expected)
}

func TestValidateAdvanceCompletedSession(t *testing.T) {
	sess := activeSession(StepAction)
	sess.Status = store.StatusCompleted

	err := ValidateAdvance(sess, nil, StepAction, "ask the teacher for help")
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestApplyInputTrims(t *testing.T) {
	data := ApplyInput(store.SessionData{}, StepSituation, "  received a low test score \n")
	assert.Equal(t, "received a low test score", data.Situation)
}

func TestNextStepSaturates(t *testing.T) {
	assert.Equal(t, StepBelief, NextStep(StepSituation))
	assert.Equal(t, StepAction, NextStep(StepAction))
}

func TestReplayLatestWins(t *testing.T) {
	history := []store.StepResponse{
		record(StepSituation, "received a low test score"),
		record(StepBelief, "I'm dumb"),
		record(StepBelief, "I'm stupid"), // correction row
		record(StepReframed, "everyone makes mistakes sometimes"),
	}
	data := Replay(history)
	assert.Equal(t, "received a low test score", data.Situation)
	assert.Equal(t, "I'm stupid", data.Belief)
	assert.Equal(t, "everyone makes mistakes sometimes", data.Reframed)
	assert.Empty(t, data.Action)
}

func TestReadyForSummaryNamesFirstMissing(t *testing.T) {
	data := store.SessionData{
		Situation: "received a low test score",
		Belief:    "I'm stupid",
	}
	err := ReadyForSummary(data)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reframed", ve.Field)

	data.Reframed = "everyone makes mistakes sometimes"
	data.Action = "ask the teacher for help"
	assert.NoError(t, ReadyForSummary(data))
}

func TestParseStep(t *testing.T) {
	for in, want := range map[string]Step{
		"A": StepSituation, "1": StepSituation,
		"B": StepBelief, "2": StepBelief,
		"B_prime": StepReframed, "B'": StepReframed, "3": StepReframed,
		"C_prime": StepAction, "4": StepAction,
	} {
		got, err := ParseStep(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStep("C")
	assert.Error(t, err)
}
