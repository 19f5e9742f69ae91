// Package prompt builds the instruction strings sent to the generation
// collaborator, one constructor per task. Builders are pure: same inputs,
// same string, no I/O. Each JSON-producing task also defines its expected
// reply shape and a fixed fallback payload substituted when the live call
// fails or returns something undecodable.
package prompt

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

var reRunsOfNewlines = regexp.MustCompile(`\n{3,}`)

// Sanitize strips characters that could confuse the downstream JSON
// extraction and collapses runs of blank lines. User text is otherwise
// interpolated verbatim.
func Sanitize(input string) string {
	s := strings.NewReplacer("<", "", ">", "").Replace(input)
	s = reRunsOfNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func writeSection(buf *bytes.Buffer, name, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(buf, "[%s]\n%s\n\n", name, body)
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// jsonOnly is the constraint block shared by every JSON-producing task.
var jsonOnly = []string{
	"Respond with strict JSON only, matching the shape exactly.",
	"No markdown, no code fences, no commentary outside the JSON.",
	"All scores are integers from 0 to 100.",
}

func ageTone(age int) string {
	if age <= 0 {
		age = 10
	}
	return fmt.Sprintf(
		"The reader is a %d-year-old elementary school student. Use warm, simple, age-appropriate language. Never scold or judge.", age)
}

// BeliefInput feeds the reframed-belief evaluation (the B-prime step).
type BeliefInput struct {
	Situation  string
	Belief     string // the negative belief named in step B
	Reframed   string // the child's proposed replacement
	StudentAge int
}

// BeliefEvaluation asks the model to score a reframed belief and offer
// alternatives.
func BeliefEvaluation(in BeliefInput) string {
	var buf bytes.Buffer
	writeSection(&buf, "ROLE", "You are a child counseling educator who teaches cognitive reframing to elementary school students.")
	writeSection(&buf, "TASK", "Evaluate the student's reframed belief: does it genuinely challenge the negative thought, and is it realistic rather than forced positivity?")
	writeSection(&buf, "SITUATION", Sanitize(in.Situation))
	writeSection(&buf, "NEGATIVE_BELIEF", Sanitize(in.Belief))
	writeSection(&buf, "REFRAMED_BELIEF", Sanitize(in.Reframed))
	writeSection(&buf, "OUTPUT", `{
  "scores": {"reframing": 0-100, "realism": 0-100, "overall": 0-100},
  "strengths": ["..."],
  "suggestions": ["..."],
  "alternatives": ["..."]
}`)
	writeSection(&buf, "CONSTRAINTS", formatList(append([]string{ageTone(in.StudentAge)}, jsonOnly...)))
	return strings.TrimSpace(buf.String()) + "\n"
}

// ActionInput feeds the action-plan feasibility check (the C-prime step).
type ActionInput struct {
	Situation  string
	Reframed   string
	Action     string
	StudentAge int
}

// ActionEvaluation asks the model whether the proposed plan is concrete and
// doable for a child.
func ActionEvaluation(in ActionInput) string {
	var buf bytes.Buffer
	writeSection(&buf, "ROLE", "You are a child counseling educator reviewing a student's action plan.")
	writeSection(&buf, "TASK", "Judge whether the plan is specific, safe, and something the student can actually do this week. Suggest one small improvement if needed.")
	writeSection(&buf, "SITUATION", Sanitize(in.Situation))
	writeSection(&buf, "REFRAMED_BELIEF", Sanitize(in.Reframed))
	writeSection(&buf, "ACTION_PLAN", Sanitize(in.Action))
	writeSection(&buf, "OUTPUT", `{
  "feasibility": 0-100,
  "strengths": ["..."],
  "suggestions": ["..."],
  "encouragement": "..."
}`)
	writeSection(&buf, "CONSTRAINTS", formatList(append([]string{ageTone(in.StudentAge)}, jsonOnly...)))
	return strings.TrimSpace(buf.String()) + "\n"
}

// SummaryInput carries all four completed fields for the terminal summary.
type SummaryInput struct {
	Situation  string
	Belief     string
	Reframed   string
	Action     string
	StudentAge int
}

// SessionSummary synthesizes the whole exercise into per-field scores and an
// aggregate.
func SessionSummary(in SummaryInput) string {
	var buf bytes.Buffer
	writeSection(&buf, "ROLE", "You are a child counseling educator summarizing a completed cognitive reframing exercise.")
	writeSection(&buf, "TASK", "Score each of the four steps and give an overall score, then pick highlights and one or two pieces of advice.")
	writeSection(&buf, "SITUATION", Sanitize(in.Situation))
	writeSection(&buf, "NEGATIVE_BELIEF", Sanitize(in.Belief))
	writeSection(&buf, "REFRAMED_BELIEF", Sanitize(in.Reframed))
	writeSection(&buf, "ACTION_PLAN", Sanitize(in.Action))
	writeSection(&buf, "OUTPUT", `{
  "scores": {"situation": 0-100, "belief": 0-100, "reframed": 0-100, "action": 0-100, "overall": 0-100},
  "highlights": ["..."],
  "advice": ["..."]
}`)
	writeSection(&buf, "CONSTRAINTS", formatList(append([]string{ageTone(in.StudentAge)}, jsonOnly...)))
	return strings.TrimSpace(buf.String()) + "\n"
}

// SafetyClassification asks for a risk read of conversational text. Ran at
// low temperature by the screener.
func SafetyClassification(conversation string) string {
	var buf bytes.Buffer
	writeSection(&buf, "ROLE", "You are a child safety specialist. You detect warning signs in children's conversations and recommend action.")
	writeSection(&buf, "TASK", "Assess the safety risk in the conversation below.")
	writeSection(&buf, "CONVERSATION", Sanitize(conversation))
	writeSection(&buf, "OUTPUT", `{
  "riskLevel": "none" | "low" | "medium" | "high",
  "concerns": ["..."],
  "immediateActionNeeded": true | false,
  "recommendedActions": ["..."]
}`)
	writeSection(&buf, "CONSTRAINTS", formatList(jsonOnly))
	return strings.TrimSpace(buf.String()) + "\n"
}

// EmpathyInput feeds the empathy-suggestion helper.
type EmpathyInput struct {
	Situation  string
	Emotions   []string
	StudentAge int
}

// EmpathySuggestion asks for one natural peer-voiced empathy line. Prose
// reply, not JSON.
func EmpathySuggestion(in EmpathyInput) string {
	var buf bytes.Buffer
	writeSection(&buf, "ROLE", "You write short, natural things one elementary school student might say to comfort a friend.")
	writeSection(&buf, "TASK", "Write one warm, sincere empathy response: acknowledge what happened, name the feeling, offer support. Everyday kid language, not adult phrasing.")
	writeSection(&buf, "SITUATION", Sanitize(in.Situation))
	writeSection(&buf, "FRIEND_EMOTIONS", strings.Join(in.Emotions, ", "))
	writeSection(&buf, "CONSTRAINTS", ageTone(in.StudentAge))
	return strings.TrimSpace(buf.String()) + "\n"
}

// EmpathyReviewInput feeds the analysis of a child's own empathy expression.
type EmpathyReviewInput struct {
	Situation  string
	Response   string // what the child said to comfort their friend
	StudentAge int
}

// EmpathyAnalysis asks the model to score an empathy expression the student
// wrote themselves. Weighting: sincere empathy 40, age-appropriate language
// 30, non-judgmental supportive stance 30.
func EmpathyAnalysis(in EmpathyReviewInput) string {
	var buf bytes.Buffer
	writeSection(&buf, "ROLE", "You are a peer counseling educator for elementary school students. You evaluate empathy expressions students write and give feedback.")
	writeSection(&buf, "TASK", "Score the student's empathy expression. Weigh sincere empathy at 40 points, age-appropriate language at 30, and a non-judgmental supportive attitude at 30.")
	writeSection(&buf, "SITUATION", Sanitize(in.Situation))
	writeSection(&buf, "STUDENT_RESPONSE", Sanitize(in.Response))
	writeSection(&buf, "OUTPUT", `{
  "scores": {"empathy": 0-100, "appropriate": 0-100, "overall": 0-100},
  "strengths": ["..."],
  "suggestions": ["..."],
  "betterExamples": ["..."]
}`)
	writeSection(&buf, "CONSTRAINTS", formatList(append([]string{ageTone(in.StudentAge)}, jsonOnly...)))
	return strings.TrimSpace(buf.String()) + "\n"
}

// SolutionInput feeds CBT-style solution generation.
type SolutionInput struct {
	Problem         string
	NegativeThought string
	StudentAge      int
}

// SolutionGeneration asks for reframed thoughts plus concrete actions.
func SolutionGeneration(in SolutionInput) string {
	var buf bytes.Buffer
	writeSection(&buf, "ROLE", "You are a child psychology specialist who suggests CBT-based coping steps children can actually follow.")
	writeSection(&buf, "PROBLEM", Sanitize(in.Problem))
	writeSection(&buf, "NEGATIVE_THOUGHT", Sanitize(in.NegativeThought))
	writeSection(&buf, "OUTPUT", `{
  "positiveThoughts": ["three kinder replacement thoughts"],
  "actionSteps": ["three concrete things to actually do"],
  "encouragement": "one warm, hopeful message"
}`)
	writeSection(&buf, "CONSTRAINTS", formatList(append([]string{ageTone(in.StudentAge)}, jsonOnly...)))
	return strings.TrimSpace(buf.String()) + "\n"
}

// FriendInput feeds the practice-mode virtual friend.
type FriendInput struct {
	Personality      string // shy | talkative | emotional
	Problem          string
	CounselorMessage string
	History          []FriendTurn
}

type FriendTurn struct {
	Role    string `json:"role"` // counselor | friend
	Content string `json:"content"`
}

var personalityFrames = map[string]string{
	"shy":       "You are a shy 10-year-old elementary school student. You answer briefly and quietly, and you open up slowly.",
	"talkative": "You are a lively, talkative 10-year-old elementary school student. You answer with energy and detail.",
	"emotional": "You are an emotionally expressive 10-year-old elementary school student. Your feelings show clearly in what you say.",
}

// VirtualFriend asks for the friend's next reply in a practice conversation.
// Prose reply, not JSON.
func VirtualFriend(in FriendInput) string {
	frame, ok := personalityFrames[in.Personality]
	if !ok {
		frame = personalityFrames["talkative"]
	}
	var history strings.Builder
	for _, turn := range in.History {
		who := "Friend"
		if turn.Role == "counselor" {
			who = "Counselor"
		}
		fmt.Fprintf(&history, "%s: %s\n", who, Sanitize(turn.Content))
	}
	fmt.Fprintf(&history, "Counselor: %s", Sanitize(in.CounselorMessage))

	var buf bytes.Buffer
	writeSection(&buf, "ROLE", frame)
	writeSection(&buf, "CURRENT_WORRY", Sanitize(in.Problem))
	writeSection(&buf, "CONVERSATION", history.String())
	writeSection(&buf, "TASK", "Write the friend's natural next reply, staying in character, in a way that lets the counseling move forward.")
	return strings.TrimSpace(buf.String()) + "\n"
}
