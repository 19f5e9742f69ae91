// Package profile handles the gamification side: experience, derived
// levels, skill points and idempotent badge awards. The arithmetic is
// simple on purpose; the interesting part is that every award path is
// fire-and-forget so the exercise itself never blocks on it.
package profile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"reframe/internal/store"
)

const (
	BadgeFirstSession  = "first-session"
	BadgeFiveSessions  = "five-sessions"
	BadgeReframeMaster = "reframe-master"
)

const (
	SkillEmpathy        = "empathy"
	SkillListening      = "listening"
	SkillProblemSolving = "problemSolving"
	SkillEncouragement  = "encouragement"
)

type Service struct {
	store store.Store
	log   *zap.Logger
}

func New(st store.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, log: log}
}

func (s *Service) Get(ctx context.Context, uid string) (*store.UserProfile, error) {
	return s.store.GetOrCreateProfile(ctx, uid)
}

// AwardSkill adds skill points; failures are logged, never surfaced.
func (s *Service) AwardSkill(ctx context.Context, uid, skill string, points int) {
	if err := s.store.AddSkillPoints(ctx, uid, skill, points); err != nil {
		s.log.Warn("skill award failed", zap.String("user", uid), zap.String("skill", skill), zap.Error(err))
	}
}

// OnSessionStarted counts the session toward the user's stats.
func (s *Service) OnSessionStarted(ctx context.Context, uid string) {
	if err := s.store.BumpSessionStats(ctx, uid, false); err != nil {
		s.log.Warn("session stat bump failed", zap.String("user", uid), zap.Error(err))
	}
}

// OnSessionCompleted grants the completion experience (5 XP per minute
// spent plus a 20 XP base), updates stats, and checks badge thresholds.
func (s *Service) OnSessionCompleted(ctx context.Context, uid string, duration time.Duration, scores store.SummaryScores) {
	xp := int(duration.Minutes())*5 + 20
	prof, err := s.store.AddExperience(ctx, uid, xp)
	if err != nil {
		s.log.Warn("experience award failed", zap.String("user", uid), zap.Error(err))
		return
	}
	if err := s.store.BumpSessionStats(ctx, uid, true); err != nil {
		s.log.Warn("session stat bump failed", zap.String("user", uid), zap.Error(err))
	}

	completed := prof.Stats.CompletedSessions + 1
	if completed >= 1 {
		s.award(ctx, uid, BadgeFirstSession)
	}
	if completed >= 5 {
		s.award(ctx, uid, BadgeFiveSessions)
	}
	if scores.Overall >= 90 {
		s.award(ctx, uid, BadgeReframeMaster)
	}
}

func (s *Service) award(ctx context.Context, uid, badge string) {
	awarded, err := s.store.AwardBadge(ctx, uid, badge)
	if err != nil {
		s.log.Warn("badge award failed", zap.String("user", uid), zap.String("badge", badge), zap.Error(err))
		return
	}
	if awarded {
		s.log.Info("badge awarded", zap.String("user", uid), zap.String("badge", badge))
	}
}
