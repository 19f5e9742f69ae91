package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reframe/internal/store"
)

func TestCompletionExperience(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, nil)
	ctx := context.Background()

	svc.OnSessionCompleted(ctx, "u1", 12*time.Minute, store.SummaryScores{Overall: 75})

	prof, err := mem.GetOrCreateProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 80, prof.Experience) // 12*5 + 20
	assert.Equal(t, 1, prof.Stats.CompletedSessions)
	assert.Contains(t, prof.Badges, BadgeFirstSession)
	assert.NotContains(t, prof.Badges, BadgeReframeMaster)
}

func TestReframeMasterBadge(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, nil)
	ctx := context.Background()

	svc.OnSessionCompleted(ctx, "u1", 5*time.Minute, store.SummaryScores{Overall: 92})

	prof, err := mem.GetOrCreateProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, prof.Badges, BadgeReframeMaster)
}

func TestFiveSessionsBadge(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.OnSessionCompleted(ctx, "u1", time.Minute, store.SummaryScores{Overall: 70})
	}

	prof, err := mem.GetOrCreateProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, prof.Badges, BadgeFiveSessions)
	assert.Equal(t, 5, prof.Stats.CompletedSessions)
}

func TestSkillAwardAndLevel(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, nil)
	ctx := context.Background()

	svc.AwardSkill(ctx, "u1", SkillEmpathy, 3)
	svc.AwardSkill(ctx, "u1", SkillEmpathy, 2)

	prof, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, prof.Skills[SkillEmpathy])
	assert.Equal(t, 1, prof.Level())

	_, err = mem.AddExperience(ctx, "u1", 230)
	require.NoError(t, err)
	prof, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, prof.Level())
}

func TestStartBumpsTotalOnly(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, nil)
	ctx := context.Background()

	svc.OnSessionStarted(ctx, "u1")
	svc.OnSessionStarted(ctx, "u1")

	prof, err := mem.GetOrCreateProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, prof.Stats.TotalSessions)
	assert.Equal(t, 0, prof.Stats.CompletedSessions)
}
