package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-process Store. It backs tests and local runs
// without a database; semantics mirror the Postgres store, including the
// conditional usage increment.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	steps    map[string][]StepResponse // keyed by session id
	risks    []RiskAssessment
	alerts   map[string]*UrgentAlert
	usage    map[string]int // userID|day -> count
	profiles map[string]*UserProfile
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		steps:    make(map[string][]StepResponse),
		alerts:   make(map[string]*UrgentAlert),
		usage:    make(map[string]int),
		profiles: make(map[string]*UserProfile),
	}
}

func (m *Memory) guard() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpdateSessionStep(_ context.Context, id string, step int, data SessionData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.CurrentStep = step
	s.Data = data
	return nil
}

func (m *Memory) CompleteSession(_ context.Context, id string, scores SummaryScores, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = StatusCompleted
	s.Scores = &scores
	s.CompletedAt = &completedAt
	return nil
}

func (m *Memory) AppendStepResponse(_ context.Context, r *StepResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.steps[r.SessionID] = append(m.steps[r.SessionID], *r)
	return nil
}

func (m *Memory) ListStepResponses(_ context.Context, sessionID string) ([]StepResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	src := m.steps[sessionID]
	out := make([]StepResponse, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) AppendRiskAssessment(_ context.Context, a *RiskAssessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.risks = append(m.risks, *a)
	return nil
}

// RiskAssessments is a test helper; the API never reads these back.
func (m *Memory) RiskAssessments() []RiskAssessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RiskAssessment, len(m.risks))
	copy(out, m.risks)
	return out
}

func (m *Memory) AppendUrgentAlert(_ context.Context, a *UrgentAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	cp := *a
	m.alerts[a.ID] = &cp
	return nil
}

func (m *Memory) ListPendingAlerts(_ context.Context) ([]UrgentAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	out := make([]UrgentAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if a.Status == AlertPending {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ResolveAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = AlertResolved
	return nil
}

func (m *Memory) IncrementUsage(_ context.Context, userID, day string, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return 0, false, err
	}
	key := userID + "|" + day
	count := m.usage[key]
	if count >= limit {
		return count, false, nil
	}
	count++
	m.usage[key] = count
	return count, true, nil
}

func (m *Memory) GetOrCreateProfile(_ context.Context, uid string) (*UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	p, ok := m.profiles[uid]
	if !ok {
		p = newProfile(uid)
		m.profiles[uid] = p
	}
	p.LastActiveAt = time.Now().UTC()
	return cloneProfile(p), nil
}

func (m *Memory) AddExperience(_ context.Context, uid string, points int) (*UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	p, ok := m.profiles[uid]
	if !ok {
		p = newProfile(uid)
		m.profiles[uid] = p
	}
	p.Experience += points
	return cloneProfile(p), nil
}

func (m *Memory) AddSkillPoints(_ context.Context, uid, skill string, points int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	p, ok := m.profiles[uid]
	if !ok {
		p = newProfile(uid)
		m.profiles[uid] = p
	}
	p.Skills[skill] += points
	return nil
}

func (m *Memory) AwardBadge(_ context.Context, uid, badgeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return false, err
	}
	p, ok := m.profiles[uid]
	if !ok {
		p = newProfile(uid)
		m.profiles[uid] = p
	}
	if _, have := p.Badges[badgeID]; have {
		return false, nil
	}
	p.Badges[badgeID] = time.Now().UTC()
	return true, nil
}

func (m *Memory) BumpSessionStats(_ context.Context, uid string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	p, ok := m.profiles[uid]
	if !ok {
		p = newProfile(uid)
		m.profiles[uid] = p
	}
	if completed {
		p.Stats.CompletedSessions++
	} else {
		p.Stats.TotalSessions++
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func newProfile(uid string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UID:      uid,
		Nickname: "counselor-" + shortID(uid),
		Skills: map[string]int{
			"empathy":        0,
			"listening":      0,
			"problemSolving": 0,
			"encouragement":  0,
		},
		Badges:       map[string]time.Time{},
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

func cloneProfile(p *UserProfile) *UserProfile {
	cp := *p
	cp.Skills = make(map[string]int, len(p.Skills))
	for k, v := range p.Skills {
		cp.Skills[k] = v
	}
	cp.Badges = make(map[string]time.Time, len(p.Badges))
	for k, v := range p.Badges {
		cp.Badges[k] = v
	}
	return &cp
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
