package safety

import "strings"

// Level is a risk tier. Ordering: none < low < medium < high. Unknown sits
// outside the ordering and only appears when assessment itself failed.
type Level string

const (
	LevelNone    Level = "none"
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
	LevelUnknown Level = "unknown"
)

var levelRank = map[Level]int{
	LevelNone:   0,
	LevelLow:    1,
	LevelMedium: 2,
	LevelHigh:   3,
}

// Rank returns the escalation priority; unknown ranks as none so it can
// never silently outrank a real detection.
func (l Level) Rank() int { return levelRank[l] }

// Max returns the higher of two levels. Risk only ever escalates.
func Max(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseLevel normalizes a model-supplied level string; anything
// unrecognized collapses to none so a malformed reply cannot escalate.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelLow:
		return LevelLow
	case LevelMedium:
		return LevelMedium
	case LevelHigh:
		return LevelHigh
	case LevelNone:
		return LevelNone
	default:
		return LevelNone
	}
}

// Keywords holds the three severity tiers. The canonical set is bilingual
// (English and Korean) because sessions arrive in both; deployments may
// override it wholesale through config.
type Keywords struct {
	High   []string
	Medium []string
	Low    []string
}

func DefaultKeywords() Keywords {
	return Keywords{
		High: []string{
			"suicide", "kill myself", "self-harm", "hurt myself",
			"want to die", "want to disappear",
			"자살", "자해", "죽고 싶어", "사라지고 싶어",
		},
		Medium: []string{
			"violence", "hit me", "bullied", "bullying", "abuse",
			"폭력", "때리", "괴롭힘", "왕따", "학대",
		},
		Low: []string{
			"depressed", "anxious", "scared", "lonely", "so hard",
			"우울", "불안", "무서워", "힘들어", "외로워",
		},
	}
}

// Scan runs the tier-1 keyword check: case-insensitive substring
// containment, tiers in high-to-medium-to-low priority. The first tier with
// any hit decides the level and the first matching keyword in that tier is
// recorded; scanning stops there rather than collecting across tiers.
func (k Keywords) Scan(conversation string) (Level, []string) {
	text := strings.ToLower(conversation)
	tiers := []struct {
		level Level
		words []string
	}{
		{LevelHigh, k.High},
		{LevelMedium, k.Medium},
		{LevelLow, k.Low},
	}
	for _, tier := range tiers {
		for _, w := range tier.words {
			if w == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(w)) {
				return tier.level, []string{w}
			}
		}
	}
	return LevelNone, nil
}
