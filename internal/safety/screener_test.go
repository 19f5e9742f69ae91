package safety

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"reframe/internal/llm"
	"reframe/internal/store"
)

func TestScan_TierPriorityAndFirstMatch(t *testing.T) {
	k := DefaultKeywords()

	cases := []struct {
		name string
		text string
		want Level
	}{
		{"high phrase", "I feel like I want to disappear", LevelHigh},
		{"medium phrase", "they keep bullying me at school", LevelMedium},
		{"low phrase", "I have been so anxious lately", LevelLow},
		{"clean", "we played soccer at lunch", LevelNone},
		{"case insensitive", "I WANT TO DISAPPEAR", LevelHigh},
		{"korean high", "요즘 죽고 싶어", LevelHigh},
		{"high outranks low in same text", "I'm anxious and I want to disappear", LevelHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, kw := k.Scan(tc.text)
			require.Equal(t, tc.want, level)
			if tc.want == LevelNone {
				require.Empty(t, kw)
			} else {
				require.Len(t, kw, 1, "first matching keyword in the winning tier is recorded")
			}
		})
	}
}

func TestMax_Monotonic(t *testing.T) {
	require.Equal(t, LevelHigh, Max(LevelMedium, LevelHigh))
	require.Equal(t, LevelHigh, Max(LevelHigh, LevelLow))
	require.Equal(t, LevelMedium, Max(LevelMedium, LevelNone))
	require.Equal(t, LevelLow, Max(LevelNone, LevelLow))
	// unknown never outranks a real detection
	require.Equal(t, LevelMedium, Max(LevelMedium, LevelUnknown))
}

type recordingNotifier struct {
	alerts []store.UrgentAlert
}

func (n *recordingNotifier) Notify(a store.UrgentAlert) { n.alerts = append(n.alerts, a) }

func TestAssess_HighKeywordWritesAlertEvenWhenAIDown(t *testing.T) {
	mem := store.NewMemory()
	fake := llm.NewFake()
	fake.Fail(errors.New("model offline"))
	notifier := &recordingNotifier{}
	s := NewScreener(fake, mem, nil, WithNotifier(notifier))

	res := s.Assess(context.Background(), "I feel like I want to disappear", "s1", "u1")

	require.Equal(t, LevelHigh, res.RiskLevel)
	require.False(t, res.Safe)
	require.True(t, res.NeedsAdultHelp)
	require.NotEmpty(t, res.Resources.Phone)

	pending, err := mem.ListPendingAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1, "alert must be written regardless of AI outcome")
	require.Len(t, notifier.alerts, 1)
}

func TestAssess_AIEscalatesKeywordBaseline(t *testing.T) {
	mem := store.NewMemory()
	fake := llm.NewFake()
	fake.SetResponse("safety_classify",
		`{"riskLevel":"high","concerns":["explicit plan"],"immediateActionNeeded":true,"recommendedActions":["tell an adult now"]}`)
	s := NewScreener(fake, mem, nil)

	res := s.Assess(context.Background(), "they keep bullying me", "s1", "u1")

	require.Equal(t, LevelHigh, res.RiskLevel, "AI verdict outranks the medium keyword baseline")
	require.True(t, res.NeedsAdultHelp)

	pending, err := mem.ListPendingAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestAssess_AICannotDeescalate(t *testing.T) {
	mem := store.NewMemory()
	fake := llm.NewFake()
	fake.SetResponse("safety_classify",
		`{"riskLevel":"none","concerns":[],"immediateActionNeeded":false,"recommendedActions":[]}`)
	s := NewScreener(fake, mem, nil)

	res := s.Assess(context.Background(), "I want to disappear", "s1", "u1")
	require.Equal(t, LevelHigh, res.RiskLevel, "risk only ever escalates from the keyword baseline")
}

func TestAssess_CleanTextSkipsAI(t *testing.T) {
	mem := store.NewMemory()
	fake := llm.NewFake()
	s := NewScreener(fake, mem, nil)

	res := s.Assess(context.Background(), "we played soccer at lunch", "s1", "u1")

	require.Equal(t, LevelNone, res.RiskLevel)
	require.True(t, res.Safe)
	require.False(t, res.NeedsAdultHelp)
	require.Empty(t, fake.Calls(), "no AI call for a clean keyword scan")
}

func TestAssess_UnparseableAINeverReportsSafe(t *testing.T) {
	mem := store.NewMemory()
	fake := llm.NewFake()
	fake.SetResponse("safety_classify", "sorry, I cannot help with that")
	s := NewScreener(fake, mem, nil)

	res := s.Assess(context.Background(), "I have been so anxious", "s1", "u1")

	require.False(t, res.Safe)
	require.True(t, res.NeedsAdultHelp, "errors bias toward recommending adult help")
	require.Equal(t, LevelLow, res.RiskLevel, "keyword baseline survives the failed AI read")
	require.NotEmpty(t, res.Message)
}

func TestAssess_RecordsAssessment(t *testing.T) {
	mem := store.NewMemory()
	s := NewScreener(llm.NewFake(), mem, nil)

	s.Assess(context.Background(), "they keep bullying me", "s9", "u9")

	recs := mem.RiskAssessments()
	require.Len(t, recs, 1)
	require.Equal(t, "s9", recs[0].SessionID)
	require.NotEmpty(t, recs[0].DetectedKeywords)
}
