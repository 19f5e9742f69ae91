// Package store persists sessions, step history, risk records, usage
// counters and user profiles. Two implementations exist: Postgres (pgx via
// database/sql) and an in-memory store for tests and DSN-less local runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrClosed   = errors.New("store: closed")
)

type SessionType string

const (
	SessionReal     SessionType = "real"
	SessionPractice SessionType = "practice"
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// SessionData holds the four ABC fields captured across the wizard.
type SessionData struct {
	Situation string `json:"situation"`
	Belief    string `json:"belief"`
	Reframed  string `json:"reframed"`
	Action    string `json:"action"`
}

// SummaryScores is the terminal result of a completed session: four
// per-field scores plus one aggregate, all 0-100.
type SummaryScores struct {
	Situation int `json:"situation"`
	Belief    int `json:"belief"`
	Reframed  int `json:"reframed"`
	Action    int `json:"action"`
	Overall   int `json:"overall"`
}

type Session struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Type        SessionType    `json:"type"`
	Status      SessionStatus  `json:"status"`
	CurrentStep int            `json:"currentStep"` // 1..4
	Data        SessionData    `json:"data"`
	Scores      *SummaryScores `json:"scores,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// StepResponse is one captured answer. Rows are append-only: a correction
// writes a new row for the same step, it never rewrites history.
type StepResponse struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"sessionId"`
	Step       int             `json:"step"`
	UserInput  string          `json:"userInput"`
	ScenarioID string          `json:"scenarioId,omitempty"`
	Analysis   json.RawMessage `json:"analysisResult,omitempty"`
	CreatedAt  time.Time       `json:"timestamp"`
}

type RiskAssessment struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"sessionId"`
	UserID           string          `json:"userId"`
	Conversation     string          `json:"conversationText"`
	DetectedKeywords []string        `json:"detectedKeywords"`
	RiskLevel        string          `json:"riskLevel"` // none|low|medium|high|unknown
	AIConcerns       []string        `json:"aiConcerns,omitempty"`
	ImmediateAction  bool            `json:"immediateActionNeeded"`
	AIAnalysis       json.RawMessage `json:"aiAnalysis,omitempty"`
	CreatedAt        time.Time       `json:"timestamp"`
}

type AlertStatus string

const (
	AlertPending  AlertStatus = "pending"
	AlertResolved AlertStatus = "resolved"
)

type UrgentAlert struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"sessionId"`
	UserID       string          `json:"userId"`
	Conversation string          `json:"conversation"`
	Keywords     []string        `json:"detectedKeywords"`
	RiskLevel    string          `json:"riskLevel"`
	AIAnalysis   json.RawMessage `json:"aiAnalysis,omitempty"`
	Status       AlertStatus     `json:"status"`
	CreatedAt    time.Time       `json:"timestamp"`
}

type ProfileStats struct {
	TotalSessions     int `json:"totalSessions"`
	CompletedSessions int `json:"completedSessions"`
	HelpedFriends     int `json:"helpedFriends"`
}

type UserProfile struct {
	UID          string               `json:"uid"`
	Nickname     string               `json:"nickname"`
	Experience   int                  `json:"experience"`
	Skills       map[string]int       `json:"skills"`
	Badges       map[string]time.Time `json:"badges"`
	Stats        ProfileStats         `json:"stats"`
	CreatedAt    time.Time            `json:"createdAt"`
	LastActiveAt time.Time            `json:"lastActiveAt"`
}

// Level is derived from experience, never stored.
func (p *UserProfile) Level() int {
	if p == nil || p.Experience < 0 {
		return 1
	}
	return p.Experience/100 + 1
}

// Store is the document-store collaborator. Step and risk writes are
// append-only; the single permitted Session update path is the step pointer
// move and the terminal completion write.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionStep(ctx context.Context, id string, step int, data SessionData) error
	CompleteSession(ctx context.Context, id string, scores SummaryScores, completedAt time.Time) error

	AppendStepResponse(ctx context.Context, r *StepResponse) error
	ListStepResponses(ctx context.Context, sessionID string) ([]StepResponse, error)

	AppendRiskAssessment(ctx context.Context, a *RiskAssessment) error
	AppendUrgentAlert(ctx context.Context, a *UrgentAlert) error
	ListPendingAlerts(ctx context.Context) ([]UrgentAlert, error)
	ResolveAlert(ctx context.Context, id string) error

	// IncrementUsage bumps the (userID, day) counter in one atomic
	// conditional step. When the counter already sits at limit the call
	// leaves it untouched and reports allowed=false. It is the sole writer
	// of usage counters.
	IncrementUsage(ctx context.Context, userID, day string, limit int) (count int, allowed bool, err error)

	GetOrCreateProfile(ctx context.Context, uid string) (*UserProfile, error)
	AddExperience(ctx context.Context, uid string, points int) (*UserProfile, error)
	AddSkillPoints(ctx context.Context, uid, skill string, points int) error
	// AwardBadge is idempotent per (uid, badge); awarded reports whether
	// this call granted it.
	AwardBadge(ctx context.Context, uid, badgeID string) (awarded bool, err error)
	// BumpSessionStats increments totalSessions on a start (completed=false)
	// and completedSessions on a completion (completed=true).
	BumpSessionStats(ctx context.Context, uid string, completed bool) error

	Close() error
}

// DayKey renders the calendar-date component of a usage-counter key.
// Counters "expire" naturally because the day is part of the key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
