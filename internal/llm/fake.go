package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// Fake returns deterministic payloads per task label for tests and
// DSN-less local runs. Responses can be overridden per task, and an error
// can be injected to exercise fallback paths.
type Fake struct {
	mu        sync.Mutex
	responses map[string]string
	err       error
	calls     []string
}

func NewFake() *Fake {
	return &Fake{responses: map[string]string{}}
}

// SetResponse fixes the reply for the given task label.
func (f *Fake) SetResponse(task, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[task] = body
}

// Fail makes every subsequent call return err (nil restores normal replies).
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the task labels seen so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) Name() string { return "FakeLLM" }
func (f *Fake) Close() error { return nil }

func (f *Fake) reply(ctx context.Context) (string, error) {
	task := TaskFrom(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, task)
	if f.err != nil {
		return "", f.err
	}
	if body, ok := f.responses[task]; ok {
		return body, nil
	}
	if body, ok := defaultFakeReplies[task]; ok {
		return body, nil
	}
	return `{"ok": true}`, nil
}

func (f *Fake) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	body, err := f.reply(ctx)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (f *Fake) GenerateText(ctx context.Context, prompt string) (string, error) {
	return f.reply(ctx)
}

var defaultFakeReplies = map[string]string{
	"belief_eval": `{"scores":{"reframing":80,"realism":75,"overall":78},` +
		`"strengths":["You questioned the harsh thought"],` +
		`"suggestions":["Name one piece of evidence against it"],` +
		`"alternatives":["Everyone makes mistakes sometimes"]}`,
	"action_eval": `{"feasibility":82,"strengths":["Concrete and doable"],` +
		`"suggestions":["Pick a time to try it"],"encouragement":"You can do this!"}`,
	"summary": `{"scores":{"situation":80,"belief":75,"reframed":85,"action":80,"overall":80},` +
		`"highlights":["Clear description of what happened"],` +
		`"advice":["Keep practicing kinder self-talk"]}`,
	"safety_classify": `{"riskLevel":"low","concerns":["mild distress"],` +
		`"immediateActionNeeded":false,"recommendedActions":["keep listening"]}`,
	"abc_eval": `{"scores":{"situation":78,"belief":72,"reframed":84,"action":80,"overall":79},` +
		`"highlights":["Honest about the feeling"],"advice":["Try the plan this week"]}`,
	"solutions": `{"positiveThoughts":["Mistakes help me learn"],` +
		`"actionSteps":["Take three deep breaths","Talk to someone you trust"],` +
		`"encouragement":"You are doing great!"}`,
	"empathy_analyze": `{"scores":{"empathy":88,"appropriate":82,"overall":85},` +
		`"strengths":["You named the feeling before giving advice"],` +
		`"suggestions":["Ask a follow-up question to keep them talking"],` +
		`"betterExamples":["That sounds really tough. I would have been upset too."]}`,
	"empathy_suggest": "That sounds really hard. I would feel upset too, and I'm glad you told me.",
	"practice_reply":  "Yeah... it really got to me. Thanks for asking.",
}
