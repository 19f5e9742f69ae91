// Package api is the HTTP JSON surface: bearer-authenticated POST
// operations plus the websocket alert feed. Handlers stay thin; domain
// decisions live in the services they call.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"reframe/internal/alert"
	"reframe/internal/counseling"
	"reframe/internal/gate"
	"reframe/internal/jsonx"
	"reframe/internal/llm"
	"reframe/internal/profile"
	"reframe/internal/prompt"
	"reframe/internal/safety"
	"reframe/internal/store"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	counseling *counseling.Service
	screener   *safety.Screener
	gate       *gate.Gate
	profiles   *profile.Service
	llm        llm.Client
	hub        *alert.Hub
	timeout    time.Duration
	log        *zap.Logger
}

func NewHandler(
	svc *counseling.Service,
	screener *safety.Screener,
	g *gate.Gate,
	profiles *profile.Service,
	client llm.Client,
	hub *alert.Hub,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		counseling: svc,
		screener:   screener,
		gate:       g,
		profiles:   profiles,
		llm:        client,
		hub:        hub,
		timeout:    10 * time.Second,
		log:        log,
	}
}

// Routes assembles the mux with the middleware pipeline applied:
// CORS, then auth, then per-operation guards in order.
func (h *Handler) Routes(jwtSecret string, origins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/sessions/start", guarded(h.startSession, postOnly))
	mux.HandleFunc("/v1/sessions/advance", guarded(h.advanceSession, postOnly))
	mux.HandleFunc("/v1/sessions/summary", guarded(h.sessionSummary, postOnly, h.dailyGate))
	mux.HandleFunc("/v1/sessions/back", guarded(h.sessionBack, postOnly))
	mux.HandleFunc("/v1/sessions/history", guarded(h.sessionHistory, postOnly))
	mux.HandleFunc("/v1/abc/evaluate", guarded(h.evaluateABC, postOnly, h.dailyGate))
	mux.HandleFunc("/v1/safety/check", guarded(h.safetyCheck, postOnly))
	mux.HandleFunc("/v1/empathy/analyze", guarded(h.analyzeEmpathy, postOnly, h.dailyGate))
	mux.HandleFunc("/v1/empathy/suggest", guarded(h.empathySuggest, postOnly, h.dailyGateLenient))
	mux.HandleFunc("/v1/solutions/generate", guarded(h.generateSolutions, postOnly, h.dailyGate))
	mux.HandleFunc("/v1/practice/respond", guarded(h.practiceRespond, postOnly, h.dailyGate))
	mux.HandleFunc("/v1/profile/get", guarded(h.getProfile, postOnly))
	if h.hub != nil {
		mux.Handle("/v1/alerts/stream", h.hub)
	}

	outer := http.NewServeMux()
	outer.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	outer.Handle("/", Auth(jwtSecret, h.log)(mux))
	return CORS(origins)(outer)
}

// dailyGate reserves one AI-backed call; fail closed.
func (h *Handler) dailyGate(w http.ResponseWriter, r *http.Request) bool {
	d, err := h.gate.CheckAndConsume(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.log.Error("usage gate check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "usage check unavailable")
		return false
	}
	return h.admit(w, d)
}

// dailyGateLenient still consumes quota but admits the call when the
// counter store is unreachable. Cosmetic operations only.
func (h *Handler) dailyGateLenient(w http.ResponseWriter, r *http.Request) bool {
	return h.admit(w, h.gate.CheckAndConsumeLenient(r.Context(), UserFrom(r.Context())))
}

func (h *Handler) admit(w http.ResponseWriter, d gate.Decision) bool {
	if d.Allowed {
		return true
	}
	retryAfter := int(d.RetryAfter.Seconds())
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error": errorDetail{
			Code:    codeResourceExhausted,
			Message: "daily AI usage limit reached",
		},
		"remaining":  d.Remaining,
		"retryAfter": retryAfter,
	})
	return false
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "malformed request body")
		return false
	}
	return true
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.counseling.Start(r.Context(), UserFrom(r.Context()), store.SessionType(req.Type))
	if err != nil {
		h.log.Error("session start failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) advanceSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"sessionId"`
		Step       string `json:"step"`
		Input      string `json:"input"`
		StudentAge int    `json:"studentAge"`
	}
	if !decode(w, r, &req) {
		return
	}
	step, err := counseling.ParseStep(req.Step)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return
	}
	user := UserFrom(r.Context())
	// Only the evaluated steps spend AI quota, and only after the
	// transition rules accept the request; a rejected advance costs nothing.
	if step == counseling.StepReframed || step == counseling.StepAction {
		if err := h.counseling.CheckAdvance(r.Context(), user, req.SessionID, step, req.Input); err != nil {
			writeServiceError(w, err)
			return
		}
		if !h.dailyGate(w, r) {
			return
		}
	}
	res, err := h.counseling.Advance(r.Context(), user, req.SessionID, step, req.Input, h.studentAge(r, req.StudentAge))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) sessionSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string `json:"sessionId"`
		StudentAge int    `json:"studentAge"`
	}
	if !decode(w, r, &req) {
		return
	}
	out, err := h.counseling.Summary(r.Context(), UserFrom(r.Context()), req.SessionID, h.studentAge(r, req.StudentAge))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) sessionBack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.counseling.Back(r.Context(), UserFrom(r.Context()), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) sessionHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !decode(w, r, &req) {
		return
	}
	history, data, err := h.counseling.History(r.Context(), UserFrom(r.Context()), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"responses": history,
		"data":      data,
	})
}

func (h *Handler) evaluateABC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Situation  string `json:"situation"`
		Belief     string `json:"belief"`
		Reframed   string `json:"reframed"`
		Action     string `json:"action"`
		StudentAge int    `json:"studentAge"`
	}
	if !decode(w, r, &req) {
		return
	}
	out, err := h.counseling.EvaluateABC(r.Context(), store.SessionData{
		Situation: req.Situation,
		Belief:    req.Belief,
		Reframed:  req.Reframed,
		Action:    req.Action,
	}, h.studentAge(r, req.StudentAge))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) safetyCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Conversation string `json:"conversation"`
		SessionID    string `json:"sessionId"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Conversation == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "conversation is required")
		return
	}
	result := h.screener.Assess(r.Context(), req.Conversation, req.SessionID, UserFrom(r.Context()))
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) analyzeEmpathy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Situation  string `json:"situation"`
		Response   string `json:"response"`
		StudentAge int    `json:"studentAge"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Response == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "response is required")
		return
	}
	p := prompt.EmpathyAnalysis(prompt.EmpathyReviewInput{
		Situation:  req.Situation,
		Response:   req.Response,
		StudentAge: h.studentAge(r, req.StudentAge),
	})
	ctx, cancel := h.taskContext(r.Context(), "empathy_analyze", 0.3)
	defer cancel()
	fb := prompt.EmpathyAnalysisFallback()
	if raw, err := h.llm.GenerateJSON(ctx, p, nil); err == nil {
		fb = jsonx.DecodeRawOr(raw, fb)
	} else {
		h.log.Warn("empathy analysis failed, using fallback", zap.Error(err))
	}
	// A strong expression earns empathy skill points, off the request path.
	if fb.Scores.Overall >= 80 {
		user := UserFrom(r.Context())
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			defer cancel()
			h.profiles.AwardSkill(ctx, user, profile.SkillEmpathy, 10)
		}()
	}
	writeJSON(w, http.StatusOK, fb)
}

func (h *Handler) empathySuggest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Situation  string   `json:"situation"`
		Emotions   []string `json:"emotions"`
		StudentAge int      `json:"studentAge"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Situation == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "situation is required")
		return
	}
	p := prompt.EmpathySuggestion(prompt.EmpathyInput{
		Situation:  req.Situation,
		Emotions:   req.Emotions,
		StudentAge: h.studentAge(r, req.StudentAge),
	})
	suggestion := h.generateText(r.Context(), "empathy_suggest", p, 0.8,
		"That sounds really hard. I'm here for you.")
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestion": suggestion,
		"tips":       prompt.EmpathyTips(),
	})
}

func (h *Handler) generateSolutions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Problem         string `json:"problem"`
		NegativeThought string `json:"negativeThought"`
		StudentAge      int    `json:"studentAge"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Problem == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "problem is required")
		return
	}
	p := prompt.SolutionGeneration(prompt.SolutionInput{
		Problem:         req.Problem,
		NegativeThought: req.NegativeThought,
		StudentAge:      h.studentAge(r, req.StudentAge),
	})
	ctx, cancel := h.taskContext(r.Context(), "solutions", 0.7)
	defer cancel()
	set := prompt.SolutionFallback()
	if raw, err := h.llm.GenerateJSON(ctx, p, nil); err == nil {
		set = jsonx.DecodeRawOr(raw, set)
	} else {
		h.log.Warn("solution generation failed, using fallback", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) practiceRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Personality      string              `json:"personality"`
		Problem          string              `json:"problem"`
		CounselorMessage string              `json:"counselorMessage"`
		History          []prompt.FriendTurn `json:"history"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.CounselorMessage == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "counselorMessage is required")
		return
	}
	p := prompt.VirtualFriend(prompt.FriendInput{
		Personality:      req.Personality,
		Problem:          req.Problem,
		CounselorMessage: req.CounselorMessage,
		History:          req.History,
	})
	reply := h.generateText(r.Context(), "practice_reply", p, 0.8,
		"Hmm... let me think about that for a second.")
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.profiles.Get(r.Context(), UserFrom(r.Context()))
	if err != nil {
		h.log.Error("profile load failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": prof,
		"level":   prof.Level(),
	})
}

func (h *Handler) studentAge(r *http.Request, requested int) int {
	if requested > 0 {
		return requested
	}
	return AgeFrom(r.Context())
}

func (h *Handler) taskContext(ctx context.Context, task string, temp float32) (context.Context, context.CancelFunc) {
	ctx = llm.WithTemperature(llm.WithTask(ctx, task), temp)
	return context.WithTimeout(ctx, h.timeout)
}

func (h *Handler) generateText(ctx context.Context, task, promptText string, temp float32, fallback string) string {
	ctx, cancel := h.taskContext(ctx, task, temp)
	defer cancel()
	out, err := h.llm.GenerateText(ctx, promptText)
	if err != nil || out == "" {
		if err != nil {
			h.log.Warn("text generation failed, using fallback",
				zap.String("task", task), zap.Error(err))
		}
		return fallback
	}
	return out
}
