package counseling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reframe/internal/jsonx"
	"reframe/internal/llm"
	"reframe/internal/profile"
	"reframe/internal/prompt"
	"reframe/internal/store"
)

// Archiver receives the report of a completed session. Archival is best
// effort; a failed upload never fails the completion.
type Archiver interface {
	PutReport(ctx context.Context, sessionID string, report any) error
}

const (
	defaultTimeout = 10 * time.Second
	skillThreshold = 80
)

// Service orchestrates the exercise end to end: session lifecycle, per-step
// evaluation calls, the terminal summary, and the gamification side effects
// that hang off each transition.
type Service struct {
	store    store.Store
	llm      llm.Client
	profile  *profile.Service
	archiver Archiver
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Service)

func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(st store.Store, client llm.Client, prof *profile.Service, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:   st,
		llm:     client,
		profile: prof,
		timeout: defaultTimeout,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a new session at step A and counts it toward the user's stats.
func (s *Service) Start(ctx context.Context, userID string, typ store.SessionType) (*store.Session, error) {
	if typ != store.SessionReal && typ != store.SessionPractice {
		typ = store.SessionReal
	}
	sess := &store.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		Status:      store.StatusActive,
		CurrentStep: int(StepSituation),
		StartedAt:   s.now().UTC(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	go s.detached(func(ctx context.Context) {
		s.profile.OnSessionStarted(ctx, userID)
	})
	s.log.Info("session started",
		zap.String("session", sess.ID),
		zap.String("user", userID),
		zap.String("type", string(typ)))
	return sess, nil
}

// ownedSession loads a session and checks it belongs to userID. A session
// owned by someone else reports not found so lookups leak nothing about
// other users' sessions.
func (s *Service) ownedSession(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// AdvanceResult is the outcome of one accepted step transition.
type AdvanceResult struct {
	Session  *store.Session  `json:"session"`
	Step     Step            `json:"-"`
	StepName string          `json:"step"`
	NextStep string          `json:"nextStep"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Degraded bool            `json:"degraded,omitempty"`
	AllSteps bool            `json:"allStepsDone"`
}

// Advance applies one step input. The step record and the pointer move are
// written before returning; evaluation payloads come from the model where
// the step calls for one, with the canonical fallback substituted whenever
// the call fails or the reply does not decode.
func (s *Service) Advance(ctx context.Context, userID, sessionID string, step Step, input string, age int) (*AdvanceResult, error) {
	sess, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListStepResponses(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := ValidateAdvance(sess, history, step, input); err != nil {
		return nil, err
	}

	data := ApplyInput(sess.Data, step, input)
	analysis, degraded := s.analyzeStep(ctx, data, step, age)

	rec := &store.StepResponse{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Step:      int(step),
		UserInput: strings.TrimSpace(input),
		Analysis:  analysis,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendStepResponse(ctx, rec); err != nil {
		return nil, fmt.Errorf("append step: %w", err)
	}

	next := NextStep(step)
	if err := s.store.UpdateSessionStep(ctx, sess.ID, int(next), data); err != nil {
		return nil, fmt.Errorf("move step pointer: %w", err)
	}
	sess.CurrentStep = int(next)
	sess.Data = data

	s.awardStepSkills(userID, step, analysis)

	return &AdvanceResult{
		Session:  sess,
		Step:     step,
		StepName: step.String(),
		NextStep: next.String(),
		Analysis: analysis,
		Degraded: degraded,
		AllSteps: step == lastStep,
	}, nil
}

// CheckAdvance runs the transition rules for a step input without writing
// anything or touching the model. Callers that charge a quota for an
// advance use it to reject bad requests before the charge.
func (s *Service) CheckAdvance(ctx context.Context, userID, sessionID string, step Step, input string) error {
	sess, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	history, err := s.store.ListStepResponses(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	return ValidateAdvance(sess, history, step, input)
}

// analyzeStep produces the per-step payload. A is captured without comment,
// B returns the fixed reflection guidance, B' and C' go to the model.
func (s *Service) analyzeStep(ctx context.Context, data store.SessionData, step Step, age int) (json.RawMessage, bool) {
	switch step {
	case StepSituation:
		return nil, false
	case StepBelief:
		raw, _ := json.Marshal(prompt.BeliefGuidancePayload())
		return raw, false
	case StepReframed:
		p := prompt.BeliefEvaluation(prompt.BeliefInput{
			Situation:  data.Situation,
			Belief:     data.Belief,
			Reframed:   data.Reframed,
			StudentAge: age,
		})
		fb, degraded := generate(s, ctx, "belief_eval", p, prompt.BeliefFallback())
		raw, _ := json.Marshal(fb)
		return raw, degraded
	case StepAction:
		p := prompt.ActionEvaluation(prompt.ActionInput{
			Situation:  data.Situation,
			Reframed:   data.Reframed,
			Action:     data.Action,
			StudentAge: age,
		})
		fb, degraded := generate(s, ctx, "action_eval", p, prompt.ActionFallback())
		raw, _ := json.Marshal(fb)
		return raw, degraded
	default:
		return nil, false
	}
}

// generate runs one JSON task against the model and decodes into T,
// substituting fallback on any failure. degraded reports whether the
// fallback was used.
func generate[T any](s *Service, ctx context.Context, task, promptText string, fallback T) (T, bool) {
	ctx, cancel := context.WithTimeout(llm.WithTask(ctx, task), s.timeout)
	defer cancel()
	raw, err := s.llm.GenerateJSON(ctx, promptText, nil)
	if err != nil {
		s.log.Warn("model call failed, using fallback",
			zap.String("task", task), zap.Error(err))
		return fallback, true
	}
	block, ok := jsonx.ExtractObject(string(raw))
	if !ok {
		s.log.Warn("model reply had no JSON object, using fallback", zap.String("task", task))
		return fallback, true
	}
	var out T
	if err := json.Unmarshal([]byte(block), &out); err != nil {
		s.log.Warn("model reply did not decode, using fallback",
			zap.String("task", task), zap.Error(err))
		return fallback, true
	}
	return out, false
}

// awardStepSkills grants skill points for strong step work. Best effort,
// off the request path.
func (s *Service) awardStepSkills(userID string, step Step, analysis json.RawMessage) {
	if len(analysis) == 0 {
		return
	}
	switch step {
	case StepReframed:
		fb := jsonx.DecodeRawOr(analysis, prompt.BeliefFeedback{})
		if fb.Scores.Overall >= skillThreshold {
			go s.detached(func(ctx context.Context) {
				s.profile.AwardSkill(ctx, userID, profile.SkillProblemSolving, 15)
			})
		}
	case StepAction:
		fb := jsonx.DecodeRawOr(analysis, prompt.ActionFeedback{})
		if fb.Feasibility >= skillThreshold {
			go s.detached(func(ctx context.Context) {
				s.profile.AwardSkill(ctx, userID, profile.SkillEncouragement, 10)
			})
		}
	}
}

// Back moves the step pointer one step toward A. Captured step records
// stay put; re-entering a step appends a new record that supersedes the
// old one on replay.
func (s *Service) Back(ctx context.Context, userID, sessionID string) (*store.Session, error) {
	sess, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status == store.StatusCompleted {
		return nil, ErrSessionCompleted
	}
	prev := PrevStep(Step(sess.CurrentStep))
	if err := s.store.UpdateSessionStep(ctx, sess.ID, int(prev), sess.Data); err != nil {
		return nil, fmt.Errorf("move step pointer: %w", err)
	}
	sess.CurrentStep = int(prev)
	return sess, nil
}

// SummaryOutcome is the terminal result of a session.
type SummaryOutcome struct {
	Session    *store.Session      `json:"session"`
	Scores     store.SummaryScores `json:"scores"`
	Highlights []string            `json:"highlights"`
	Advice     []string            `json:"advice"`
	Degraded   bool                `json:"degraded,omitempty"`
}

// Summary closes out a session: all four fields must be present, the four
// scores plus the aggregate are produced (model or fallback), and the
// completion write lands before any reward side effects fire. Calling it on
// an already-completed session returns the stored result.
func (s *Service) Summary(ctx context.Context, userID, sessionID string, age int) (*SummaryOutcome, error) {
	sess, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if sess.Status == store.StatusCompleted {
		out := &SummaryOutcome{Session: sess}
		if sess.Scores != nil {
			out.Scores = *sess.Scores
		}
		return out, nil
	}
	if err := ReadyForSummary(sess.Data); err != nil {
		return nil, err
	}

	p := prompt.SessionSummary(prompt.SummaryInput{
		Situation:  sess.Data.Situation,
		Belief:     sess.Data.Belief,
		Reframed:   sess.Data.Reframed,
		Action:     sess.Data.Action,
		StudentAge: age,
	})
	result, degraded := generate(s, ctx, "summary", p, prompt.SummaryFallback())

	completedAt := s.now().UTC()
	if err := s.store.CompleteSession(ctx, sessionID, result.Scores, completedAt); err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	sess.Status = store.StatusCompleted
	sess.Scores = &result.Scores
	sess.CompletedAt = &completedAt

	duration := completedAt.Sub(sess.StartedAt)
	uid := sess.UserID
	practice := sess.Type == store.SessionPractice
	go s.detached(func(ctx context.Context) {
		s.profile.OnSessionCompleted(ctx, uid, duration, result.Scores)
		if practice {
			s.profile.AwardSkill(ctx, uid, profile.SkillEmpathy, 10)
		}
	})
	s.archive(sess, result)

	s.log.Info("session completed",
		zap.String("session", sess.ID),
		zap.Int("overall", result.Scores.Overall),
		zap.Bool("degraded", degraded))

	return &SummaryOutcome{
		Session:    sess,
		Scores:     result.Scores,
		Highlights: result.Highlights,
		Advice:     result.Advice,
		Degraded:   degraded,
	}, nil
}

// EvaluateABC scores a standalone worksheet outside any session. Same
// contract as the session summary, no persistence.
func (s *Service) EvaluateABC(ctx context.Context, data store.SessionData, age int) (*SummaryOutcome, error) {
	if err := ReadyForSummary(data); err != nil {
		return nil, err
	}
	p := prompt.SessionSummary(prompt.SummaryInput{
		Situation:  data.Situation,
		Belief:     data.Belief,
		Reframed:   data.Reframed,
		Action:     data.Action,
		StudentAge: age,
	})
	result, degraded := generate(s, ctx, "abc_eval", p, prompt.SummaryFallback())
	return &SummaryOutcome{
		Scores:     result.Scores,
		Highlights: result.Highlights,
		Advice:     result.Advice,
		Degraded:   degraded,
	}, nil
}

// History returns the append-only step history together with the data
// object it replays to.
func (s *Service) History(ctx context.Context, userID, sessionID string) ([]store.StepResponse, store.SessionData, error) {
	if _, err := s.ownedSession(ctx, sessionID, userID); err != nil {
		return nil, store.SessionData{}, err
	}
	history, err := s.store.ListStepResponses(ctx, sessionID)
	if err != nil {
		return nil, store.SessionData{}, err
	}
	return history, Replay(history), nil
}

func (s *Service) archive(sess *store.Session, result prompt.SummaryResult) {
	if s.archiver == nil {
		return
	}
	report := map[string]any{
		"session":    sess,
		"scores":     result.Scores,
		"highlights": result.Highlights,
		"advice":     result.Advice,
	}
	go s.detached(func(ctx context.Context) {
		if err := s.archiver.PutReport(ctx, sess.ID, report); err != nil {
			s.log.Warn("report archive failed", zap.String("session", sess.ID), zap.Error(err))
		}
	})
}

// detached runs fn under a fresh timeout context so side effects outlive
// the request that spawned them.
func (s *Service) detached(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	fn(ctx)
}
