// Package safety screens conversational text for risk signals: a keyword
// tier scan first, then an AI severity read that can only escalate the
// result. Failures here must never report "safe"; ambiguity defaults
// toward recommending adult help.
package safety

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reframe/internal/jsonx"
	"reframe/internal/llm"
	"reframe/internal/prompt"
	"reframe/internal/store"
)

// Notifier receives urgent alerts after they are persisted (e.g. the
// websocket feed). Implementations must not block.
type Notifier interface {
	Notify(alert store.UrgentAlert)
}

// Resources is the help-line payload included with every safety reply,
// failure paths included.
type Resources struct {
	Phone  map[string]string `json:"phone"`
	Online map[string]string `json:"online"`
}

func helpResources() Resources {
	return Resources{
		Phone: map[string]string{
			"youthHotline": "1388",
			"lifeline":     "109",
		},
		Online: map[string]string{
			"youthCyberCounseling": "https://www.cyber1388.kr",
		},
	}
}

// Result is the user-facing outcome of a safety check.
type Result struct {
	Safe           bool      `json:"safe"`
	RiskLevel      Level     `json:"riskLevel"`
	NeedsAdultHelp bool      `json:"needsAdultHelp"`
	Message        string    `json:"message"`
	Resources      Resources `json:"resources"`
}

// classification is the expected shape of the AI severity read.
type classification struct {
	RiskLevel             string   `json:"riskLevel"`
	Concerns              []string `json:"concerns"`
	ImmediateActionNeeded bool     `json:"immediateActionNeeded"`
	RecommendedActions    []string `json:"recommendedActions"`
}

var riskMessages = map[Level]string{
	LevelHigh:   "This looks like something a trusted adult really needs to help with.",
	LevelMedium: "Your friend seems to be going through a really hard time.",
	LevelLow:    "You're listening to your friend well.",
	LevelNone:   "You're doing great!",
}

const cautiousMessage = "It's hard to tell exactly what's going on. Asking a trusted adult for help would be a good idea."

// Screener runs the two-tier assessment and records its findings.
type Screener struct {
	llm      llm.Client
	store    store.Store
	notifier Notifier
	keywords Keywords
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Screener)

func WithKeywords(k Keywords) Option {
	return func(s *Screener) { s.keywords = k }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Screener) { s.timeout = d }
}

func WithNotifier(n Notifier) Option {
	return func(s *Screener) { s.notifier = n }
}

func NewScreener(client llm.Client, st store.Store, log *zap.Logger, opts ...Option) *Screener {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Screener{
		llm:      client,
		store:    st,
		keywords: DefaultKeywords(),
		timeout:  8 * time.Second,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assess runs the full check. It always returns a usable Result; internal
// failures degrade to the keyword-only level with a cautious message, never
// to a silent "safe".
func (s *Screener) Assess(ctx context.Context, conversation, sessionID, userID string) Result {
	kwLevel, keywords := s.keywords.Scan(conversation)

	assessment := &store.RiskAssessment{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		UserID:           userID,
		Conversation:     conversation,
		DetectedKeywords: keywords,
		RiskLevel:        string(kwLevel),
		CreatedAt:        s.now(),
	}

	final := kwLevel
	immediate := false
	degraded := false

	if kwLevel != LevelNone {
		cls, raw, err := s.classify(ctx, conversation)
		if err != nil {
			// Skip escalation, keep the keyword baseline, bias toward help.
			s.log.Warn("safety classification unavailable",
				zap.String("session", sessionID), zap.Error(err))
			degraded = true
		} else {
			aiLevel := ParseLevel(cls.RiskLevel)
			final = Max(kwLevel, aiLevel)
			immediate = cls.ImmediateActionNeeded
			assessment.AIConcerns = cls.Concerns
			assessment.AIAnalysis = raw
		}

		if final == LevelHigh || immediate {
			s.raiseAlert(ctx, assessment, final)
		}
	}

	assessment.RiskLevel = string(final)
	assessment.ImmediateAction = immediate
	if err := s.store.AppendRiskAssessment(ctx, assessment); err != nil {
		s.log.Warn("risk assessment write failed", zap.String("session", sessionID), zap.Error(err))
	}

	if degraded {
		return Result{
			Safe:           false,
			RiskLevel:      final,
			NeedsAdultHelp: true,
			Message:        cautiousMessage,
			Resources:      helpResources(),
		}
	}
	return Result{
		Safe:           final == LevelNone || final == LevelLow,
		RiskLevel:      final,
		NeedsAdultHelp: final == LevelHigh || final == LevelMedium || immediate,
		Message:        riskMessages[final],
		Resources:      helpResources(),
	}
}

func (s *Screener) classify(ctx context.Context, conversation string) (classification, json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx = llm.WithTask(ctx, "safety_classify")
	ctx = llm.WithTemperature(ctx, 0.3)

	raw, err := s.llm.GenerateJSON(ctx, prompt.SafetyClassification(conversation), nil)
	if err != nil {
		return classification{}, nil, err
	}
	block, ok := jsonx.ExtractObject(string(raw))
	if !ok {
		return classification{}, nil, llm.ErrEmptyResponse
	}
	var cls classification
	if err := json.Unmarshal([]byte(block), &cls); err != nil {
		return classification{}, nil, err
	}
	return cls, json.RawMessage(block), nil
}

// raiseAlert persists the UrgentAlert and pushes it to the notifier. A
// failed write is logged and the caller still reports the elevated risk.
func (s *Screener) raiseAlert(ctx context.Context, a *store.RiskAssessment, level Level) {
	alert := store.UrgentAlert{
		ID:           uuid.NewString(),
		SessionID:    a.SessionID,
		UserID:       a.UserID,
		Conversation: a.Conversation,
		Keywords:     a.DetectedKeywords,
		RiskLevel:    string(level),
		AIAnalysis:   a.AIAnalysis,
		Status:       store.AlertPending,
		CreatedAt:    s.now(),
	}
	if err := s.store.AppendUrgentAlert(ctx, &alert); err != nil {
		s.log.Error("urgent alert write failed",
			zap.String("session", a.SessionID), zap.Error(err))
		return
	}
	if s.notifier != nil {
		s.notifier.Notify(alert)
	}
}
