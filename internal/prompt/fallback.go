package prompt

import "reframe/internal/store"

// Reply shapes and their pre-authored fallbacks. The fallback score of 70
// across the board is the canonical default; progression never blocks on
// model availability.

// BeliefFeedback is the expected reply to BeliefEvaluation.
type BeliefFeedback struct {
	Scores struct {
		Reframing int `json:"reframing"`
		Realism   int `json:"realism"`
		Overall   int `json:"overall"`
	} `json:"scores"`
	Strengths    []string `json:"strengths"`
	Suggestions  []string `json:"suggestions"`
	Alternatives []string `json:"alternatives"`
}

func BeliefFallback() BeliefFeedback {
	var f BeliefFeedback
	f.Scores.Reframing = 70
	f.Scores.Realism = 70
	f.Scores.Overall = 70
	f.Strengths = []string{"You noticed the harsh thought and tried to answer it"}
	f.Suggestions = []string{"Try naming one piece of evidence against the negative thought"}
	f.Alternatives = []string{"Everyone makes mistakes sometimes", "One bad moment doesn't define me"}
	return f
}

// ActionFeedback is the expected reply to ActionEvaluation.
type ActionFeedback struct {
	Feasibility   int      `json:"feasibility"`
	Strengths     []string `json:"strengths"`
	Suggestions   []string `json:"suggestions"`
	Encouragement string   `json:"encouragement"`
}

func ActionFallback() ActionFeedback {
	return ActionFeedback{
		Feasibility:   70,
		Strengths:     []string{"You made a plan instead of staying stuck"},
		Suggestions:   []string{"Pick a day and time to try your plan"},
		Encouragement: "Small steps count. You can do this!",
	}
}

// SummaryResult is the expected reply to SessionSummary.
type SummaryResult struct {
	Scores     store.SummaryScores `json:"scores"`
	Highlights []string            `json:"highlights"`
	Advice     []string            `json:"advice"`
}

func SummaryFallback() SummaryResult {
	return SummaryResult{
		Scores:     store.SummaryScores{Situation: 70, Belief: 70, Reframed: 70, Action: 70, Overall: 70},
		Highlights: []string{"You worked through every step of the exercise"},
		Advice:     []string{"Keep practicing kinder self-talk when something goes wrong"},
	}
}

// SolutionSet is the expected reply to SolutionGeneration.
type SolutionSet struct {
	PositiveThoughts []string `json:"positiveThoughts"`
	ActionSteps      []string `json:"actionSteps"`
	Encouragement    string   `json:"encouragement"`
}

func SolutionFallback() SolutionSet {
	return SolutionSet{
		PositiveThoughts: []string{"It's okay to make mistakes, I can try again"},
		ActionSteps:      []string{"Take three slow, deep breaths", "Talk to someone you trust"},
		Encouragement:    "You're doing great. Keep going!",
	}
}

// EmpathyFeedback is the expected reply to EmpathyAnalysis.
type EmpathyFeedback struct {
	Scores struct {
		Empathy     int `json:"empathy"`
		Appropriate int `json:"appropriate"`
		Overall     int `json:"overall"`
	} `json:"scores"`
	Strengths      []string `json:"strengths"`
	Suggestions    []string `json:"suggestions"`
	BetterExamples []string `json:"betterExamples"`
}

func EmpathyAnalysisFallback() EmpathyFeedback {
	var f EmpathyFeedback
	f.Scores.Empathy = 70
	f.Scores.Appropriate = 70
	f.Scores.Overall = 70
	f.Strengths = []string{"You tried to understand how your friend felt"}
	f.Suggestions = []string{"Try naming the feeling out loud before giving advice"}
	f.BetterExamples = []string{"That sounds really tough. I would have been upset too."}
	return f
}

// BeliefGuidance is the fixed, non-AI payload for the belief-naming step.
// That step is answered by the child's own reflection; no external call is
// made.
type BeliefGuidance struct {
	Message string   `json:"message"`
	Hints   []string `json:"hints"`
}

func BeliefGuidancePayload() BeliefGuidance {
	return BeliefGuidance{
		Message: "Thinking about what went through your head is a big step. There are no wrong answers here.",
		Hints: []string{
			"What did you say to yourself when it happened?",
			"Was the thought about you, about others, or about the future?",
			"Would you say that thought to a friend in the same spot?",
		},
	}
}

// EmpathyTips is the fixed tip list returned alongside a generated empathy
// suggestion.
func EmpathyTips() []string {
	return []string{
		"Let your friend finish their whole story first",
		"Show you understand the feeling before giving advice",
		"If something similar happened to you, share it",
	}
}
