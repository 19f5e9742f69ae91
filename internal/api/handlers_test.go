package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reframe/internal/counseling"
	"reframe/internal/gate"
	"reframe/internal/llm"
	"reframe/internal/profile"
	"reframe/internal/prompt"
	"reframe/internal/safety"
	"reframe/internal/store"
)

const testSecret = "test-secret"

func signToken(t *testing.T, sub string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"age": 10,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

type testAPI struct {
	handler http.Handler
	store   *store.Memory
	fake    *llm.Fake
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	fake := llm.NewFake()
	prof := profile.New(mem, nil)
	svc := counseling.New(mem, fake, prof, nil)
	screener := safety.NewScreener(fake, mem, nil)
	g := gate.New(mem, 5, nil)
	h := NewHandler(svc, screener, g, prof, fake, nil, nil)
	return &testAPI{
		handler: h.Routes(testSecret, nil),
		store:   mem,
		fake:    fake,
	}
}

func (a *testAPI) post(t *testing.T, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	rec := a.post(t, "/v1/sessions/start", "", map[string]string{"type": "real"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.post(t, "/v1/sessions/start", "garbage.token.here", map[string]string{"type": "real"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	rec = a.post(t, "/v1/sessions/start", other, map[string]string{"type": "real"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionFlowOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/sessions/start", token, map[string]string{"type": "real"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess := decodeBody[store.Session](t, rec)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, "u1", sess.UserID)

	steps := []struct {
		step  string
		input string
	}{
		{"A", "received a low test score"},
		{"B", "I'm stupid"},
		{"B_prime", "everyone makes mistakes sometimes"},
		{"C_prime", "ask the teacher for help"},
	}
	for _, s := range steps {
		rec := a.post(t, "/v1/sessions/advance", token, map[string]any{
			"sessionId": sess.ID, "step": s.step, "input": s.input,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = a.post(t, "/v1/sessions/summary", token, map[string]any{"sessionId": sess.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody[map[string]json.RawMessage](t, rec)
	var scores store.SummaryScores
	require.NoError(t, json.Unmarshal(summary["scores"], &scores))
	assert.Equal(t, 80, scores.Overall)

	rec = a.post(t, "/v1/sessions/history", token, map[string]any{"sessionId": sess.ID})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdvanceOutOfOrderRejected(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/sessions/start", token, map[string]string{"type": "real"})
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody[store.Session](t, rec)

	rec = a.post(t, "/v1/sessions/advance", token, map[string]any{
		"sessionId": sess.ID, "step": "B", "input": "I'm stupid",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.post(t, "/v1/sessions/advance", token, map[string]any{
		"sessionId": sess.ID, "step": "Z", "input": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDailyCeilingOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	worksheet := map[string]any{
		"situation": "received a low test score",
		"belief":    "I'm stupid",
		"reframed":  "everyone makes mistakes sometimes",
		"action":    "ask the teacher for help",
	}
	for i := 0; i < 5; i++ {
		rec := a.post(t, "/v1/abc/evaluate", token, worksheet)
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i)
	}

	rec := a.post(t, "/v1/abc/evaluate", token, worksheet)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decodeBody[map[string]json.RawMessage](t, rec)
	assert.Contains(t, string(body["error"]), "RESOURCE_EXHAUSTED")

	// Another user is unaffected.
	rec = a.post(t, "/v1/abc/evaluate", signToken(t, "u2"), worksheet)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSafetyCheckHighRisk(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/safety/check", token, map[string]string{
		"conversation": "I feel like I want to disappear",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[safety.Result](t, rec)
	assert.False(t, result.Safe)
	assert.Equal(t, safety.LevelHigh, result.RiskLevel)
	assert.True(t, result.NeedsAdultHelp)
	assert.NotEmpty(t, result.Resources.Phone)
}

func TestEmpathySuggestFallsBackWhenModelDown(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")
	a.fake.Fail(assert.AnError)

	rec := a.post(t, "/v1/empathy/suggest", token, map[string]any{
		"situation": "my friend lost the relay race",
		"emotions":  []string{"sad"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]json.RawMessage](t, rec)
	assert.NotEmpty(t, body["suggestion"])
	assert.NotEmpty(t, body["tips"])
}

func TestSolutionsGenerate(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/solutions/generate", token, map[string]any{
		"problem":         "I keep failing math quizzes",
		"negativeThought": "I'll never get better",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]json.RawMessage](t, rec)
	assert.NotEmpty(t, body["positiveThoughts"])
	assert.NotEmpty(t, body["actionSteps"])
}

func TestPracticeRespond(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/practice/respond", token, map[string]any{
		"personality":      "shy",
		"problem":          "got left out at recess",
		"counselorMessage": "how was your day?",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.NotEmpty(t, body["reply"])
}

func TestProfileGet(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/profile/get", token, map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]json.RawMessage](t, rec)
	assert.Equal(t, "1", string(body["level"]))
}

func TestCORSPreflight(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions/start", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSOriginAllowlist(t *testing.T) {
	mem := store.NewMemory()
	fake := llm.NewFake()
	prof := profile.New(mem, nil)
	svc := counseling.New(mem, fake, prof, nil)
	handler := NewHandler(svc, safety.NewScreener(fake, mem, nil), gate.New(mem, 5, nil), prof, fake, nil, nil).
		Routes(testSecret, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions/start", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/sessions/start", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCrossUserSessionAccessRejected(t *testing.T) {
	a := newTestAPI(t)
	owner := signToken(t, "u1")
	intruder := signToken(t, "u2")

	rec := a.post(t, "/v1/sessions/start", owner, map[string]string{"type": "real"})
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody[store.Session](t, rec)
	rec = a.post(t, "/v1/sessions/advance", owner, map[string]any{
		"sessionId": sess.ID, "step": "A", "input": "my parents argued all night",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Another authenticated user holding the session id gets not found on
	// every session operation and leaves no trace in the transcript.
	for _, path := range []string{"/v1/sessions/history", "/v1/sessions/summary", "/v1/sessions/back"} {
		rec := a.post(t, path, intruder, map[string]any{"sessionId": sess.ID})
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec = a.post(t, "/v1/sessions/advance", intruder, map[string]any{
		"sessionId": sess.ID, "step": "B", "input": "they hate me",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	history, err := a.store.ListStepResponses(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// The owner keeps full access.
	rec = a.post(t, "/v1/sessions/advance", owner, map[string]any{
		"sessionId": sess.ID, "step": "B", "input": "it's all my fault",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectedAdvanceKeepsQuota(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/sessions/start", token, map[string]string{"type": "real"})
	require.Equal(t, http.StatusOK, rec.Code)
	sess := decodeBody[store.Session](t, rec)
	rec = a.post(t, "/v1/sessions/advance", token, map[string]any{
		"sessionId": sess.ID, "step": "A", "input": "received a low test score",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Out-of-order and blank evaluated steps are rejected before the daily
	// counter is touched.
	for i := 0; i < 3; i++ {
		rec := a.post(t, "/v1/sessions/advance", token, map[string]any{
			"sessionId": sess.ID, "step": "B_prime", "input": "skipping ahead",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec = a.post(t, "/v1/sessions/advance", token, map[string]any{
		"sessionId": sess.ID, "step": "B", "input": "I'm stupid",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.post(t, "/v1/sessions/advance", token, map[string]any{
		"sessionId": sess.ID, "step": "B_prime", "input": "   ",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// The full daily allowance is still available.
	worksheet := map[string]any{
		"situation": "received a low test score",
		"belief":    "I'm stupid",
		"reframed":  "everyone makes mistakes sometimes",
		"action":    "ask the teacher for help",
	}
	for i := 0; i < 5; i++ {
		rec := a.post(t, "/v1/abc/evaluate", token, worksheet)
		require.Equal(t, http.StatusOK, rec.Code, "call %d", i)
	}
	rec = a.post(t, "/v1/abc/evaluate", token, worksheet)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestEmpathyAnalyze(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")

	rec := a.post(t, "/v1/empathy/analyze", token, map[string]any{
		"situation": "my friend lost the relay race",
		"response":  "that must have felt awful, you practiced so hard",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[prompt.EmpathyFeedback](t, rec)
	assert.Equal(t, 85, out.Scores.Overall) // canned fake analysis
	assert.NotEmpty(t, out.Strengths)

	// A strong expression earns empathy skill points asynchronously.
	assert.Eventually(t, func() bool {
		prof, err := a.store.GetOrCreateProfile(context.Background(), "u1")
		return err == nil && prof.Skills[profile.SkillEmpathy] >= 10
	}, time.Second, 10*time.Millisecond)

	rec = a.post(t, "/v1/empathy/analyze", token, map[string]any{"situation": "something"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmpathyAnalyzeFallsBackWhenModelDown(t *testing.T) {
	a := newTestAPI(t)
	token := signToken(t, "u1")
	a.fake.Fail(assert.AnError)

	rec := a.post(t, "/v1/empathy/analyze", token, map[string]any{
		"situation": "my friend lost the relay race",
		"response":  "that must have felt awful",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[prompt.EmpathyFeedback](t, rec)
	assert.Equal(t, 70, out.Scores.Overall) // canonical fallback score
	assert.NotEmpty(t, out.BetterExamples)
}
