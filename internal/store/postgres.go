package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	type         TEXT NOT NULL,
	status       TEXT NOT NULL,
	current_step INT  NOT NULL,
	data         JSONB NOT NULL DEFAULT '{}'::jsonb,
	scores       JSONB,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id, started_at);

CREATE TABLE IF NOT EXISTS step_responses (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	step        INT  NOT NULL,
	user_input  TEXT NOT NULL,
	scenario_id TEXT,
	analysis    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_step_responses_session ON step_responses (session_id, created_at);

CREATE TABLE IF NOT EXISTS risk_assessments (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	conversation TEXT NOT NULL,
	keywords     JSONB NOT NULL DEFAULT '[]'::jsonb,
	risk_level   TEXT NOT NULL,
	concerns     JSONB NOT NULL DEFAULT '[]'::jsonb,
	immediate    BOOLEAN NOT NULL DEFAULT FALSE,
	ai_analysis  JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS urgent_alerts (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	conversation TEXT NOT NULL,
	keywords     JSONB NOT NULL DEFAULT '[]'::jsonb,
	risk_level   TEXT NOT NULL,
	ai_analysis  JSONB,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_urgent_alerts_status ON urgent_alerts (status, created_at);

CREATE TABLE IF NOT EXISTS usage_counters (
	user_id TEXT NOT NULL,
	day     TEXT NOT NULL,
	count   INT  NOT NULL,
	PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS user_profiles (
	uid            TEXT PRIMARY KEY,
	nickname       TEXT NOT NULL,
	experience     INT  NOT NULL DEFAULT 0,
	skills         JSONB NOT NULL DEFAULT '{}'::jsonb,
	badges         JSONB NOT NULL DEFAULT '{}'::jsonb,
	stats          JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at     TIMESTAMPTZ NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL
);
`

// Postgres implements Store over database/sql with the pgx stdlib driver.
// Profiles are read-heavy (every gamification touch re-reads them), so reads
// go through a small LRU that mutators invalidate.
type Postgres struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error

	profileCache *lru.Cache[string, *UserProfile]
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, *UserProfile](1024)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db, profileCache: cache}, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.db.ExecContext(ctx, schemaSQL)
	})
	return p.schemaErr
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) CreateSession(ctx context.Context, s *Session) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, type, status, current_step, data, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, string(s.Type), string(s.Status), s.CurrentStep, data, s.StartedAt)
	return err
}

func (p *Postgres) GetSession(ctx context.Context, id string) (*Session, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	row := p.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, status, current_step, data, scores, started_at, completed_at
		 FROM sessions WHERE id = $1`, id)

	var (
		s         Session
		typ, st   string
		data      []byte
		scores    []byte
		completed sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.UserID, &typ, &st, &s.CurrentStep, &data, &scores, &s.StartedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Type = SessionType(typ)
	s.Status = SessionStatus(st)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.Data); err != nil {
			return nil, fmt.Errorf("decode session data: %w", err)
		}
	}
	if len(scores) > 0 {
		var sc SummaryScores
		if err := json.Unmarshal(scores, &sc); err != nil {
			return nil, fmt.Errorf("decode session scores: %w", err)
		}
		s.Scores = &sc
	}
	if completed.Valid {
		t := completed.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

func (p *Postgres) UpdateSessionStep(ctx context.Context, id string, step int, data SessionData) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	enc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET current_step = $2, data = $3 WHERE id = $1`, id, step, enc)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) CompleteSession(ctx context.Context, id string, scores SummaryScores, completedAt time.Time) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	enc, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE sessions SET status = $2, scores = $3, completed_at = $4 WHERE id = $1`,
		id, string(StatusCompleted), enc, completedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (p *Postgres) AppendStepResponse(ctx context.Context, r *StepResponse) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO step_responses (id, session_id, step, user_input, scenario_id, analysis, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.SessionID, r.Step, r.UserInput, nullStr(r.ScenarioID), nullJSON(r.Analysis), r.CreatedAt)
	return err
}

func (p *Postgres) ListStepResponses(ctx context.Context, sessionID string) ([]StepResponse, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, session_id, step, user_input, COALESCE(scenario_id, ''), analysis, created_at
		 FROM step_responses WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepResponse
	for rows.Next() {
		var (
			r        StepResponse
			analysis []byte
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Step, &r.UserInput, &r.ScenarioID, &analysis, &r.CreatedAt); err != nil {
			return nil, err
		}
		if len(analysis) > 0 {
			r.Analysis = json.RawMessage(analysis)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendRiskAssessment(ctx context.Context, a *RiskAssessment) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	kw, _ := json.Marshal(sliceOrEmpty(a.DetectedKeywords))
	concerns, _ := json.Marshal(sliceOrEmpty(a.AIConcerns))
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO risk_assessments (id, session_id, user_id, conversation, keywords, risk_level, concerns, immediate, ai_analysis, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SessionID, a.UserID, a.Conversation, kw, a.RiskLevel, concerns, a.ImmediateAction, nullJSON(a.AIAnalysis), a.CreatedAt)
	return err
}

func (p *Postgres) AppendUrgentAlert(ctx context.Context, a *UrgentAlert) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	kw, _ := json.Marshal(sliceOrEmpty(a.Keywords))
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO urgent_alerts (id, session_id, user_id, conversation, keywords, risk_level, ai_analysis, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.SessionID, a.UserID, a.Conversation, kw, a.RiskLevel, nullJSON(a.AIAnalysis), string(a.Status), a.CreatedAt)
	return err
}

func (p *Postgres) ListPendingAlerts(ctx context.Context) ([]UrgentAlert, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, conversation, keywords, risk_level, ai_analysis, status, created_at
		 FROM urgent_alerts WHERE status = $1 ORDER BY created_at`, string(AlertPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UrgentAlert
	for rows.Next() {
		var (
			a        UrgentAlert
			kw       []byte
			analysis []byte
			status   string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.Conversation, &kw, &a.RiskLevel, &analysis, &status, &a.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(kw, &a.Keywords)
		if len(analysis) > 0 {
			a.AIAnalysis = json.RawMessage(analysis)
		}
		a.Status = AlertStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ResolveAlert(ctx context.Context, id string) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE urgent_alerts SET status = $2 WHERE id = $1`, id, string(AlertResolved))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// IncrementUsage is a single conditional upsert: the WHERE clause on the
// conflict branch keeps two concurrent callers from both passing a stale
// read of the counter.
func (p *Postgres) IncrementUsage(ctx context.Context, userID, day string, limit int) (int, bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return 0, false, err
	}
	var count int
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO usage_counters (user_id, day, count) VALUES ($1, $2, 1)
		 ON CONFLICT (user_id, day)
		 DO UPDATE SET count = usage_counters.count + 1
		 WHERE usage_counters.count < $3
		 RETURNING count`,
		userID, day, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// At the ceiling; the row was left untouched.
		if err := p.db.QueryRowContext(ctx,
			`SELECT count FROM usage_counters WHERE user_id = $1 AND day = $2`,
			userID, day).Scan(&count); err != nil {
			return 0, false, err
		}
		return count, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func (p *Postgres) GetOrCreateProfile(ctx context.Context, uid string) (*UserProfile, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if cached, ok := p.profileCache.Get(uid); ok {
		return cloneProfile(cached), nil
	}
	if err := p.ensureProfileRow(ctx, uid); err != nil {
		return nil, err
	}
	prof, err := p.readProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	p.profileCache.Add(uid, cloneProfile(prof))
	return prof, nil
}

func (p *Postgres) AddExperience(ctx context.Context, uid string, points int) (*UserProfile, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if err := p.ensureProfileRow(ctx, uid); err != nil {
		return nil, err
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE user_profiles SET experience = experience + $2, last_active_at = now() WHERE uid = $1`,
		uid, points)
	if err != nil {
		return nil, err
	}
	p.profileCache.Remove(uid)
	return p.readProfile(ctx, uid)
}

func (p *Postgres) AddSkillPoints(ctx context.Context, uid, skill string, points int) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	if err := p.ensureProfileRow(ctx, uid); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE user_profiles
		 SET skills = jsonb_set(skills, ARRAY[$2], to_jsonb(COALESCE((skills->>$2)::int, 0) + $3)),
		     last_active_at = now()
		 WHERE uid = $1`,
		uid, skill, points)
	if err == nil {
		p.profileCache.Remove(uid)
	}
	return err
}

func (p *Postgres) AwardBadge(ctx context.Context, uid, badgeID string) (bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}
	if err := p.ensureProfileRow(ctx, uid); err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE user_profiles
		 SET badges = badges || jsonb_build_object($2::text, to_jsonb(now())),
		     last_active_at = now()
		 WHERE uid = $1 AND NOT badges ? $2`,
		uid, badgeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		p.profileCache.Remove(uid)
	}
	return n > 0, nil
}

func (p *Postgres) BumpSessionStats(ctx context.Context, uid string, completed bool) error {
	if err := p.ensureSchema(ctx); err != nil {
		return err
	}
	if err := p.ensureProfileRow(ctx, uid); err != nil {
		return err
	}
	totalDelta, completedDelta := 1, 0
	if completed {
		totalDelta, completedDelta = 0, 1
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE user_profiles
		 SET stats = jsonb_build_object(
		       'totalSessions',     COALESCE((stats->>'totalSessions')::int, 0) + $2,
		       'completedSessions', COALESCE((stats->>'completedSessions')::int, 0) + $3,
		       'helpedFriends',     COALESCE((stats->>'helpedFriends')::int, 0)),
		     last_active_at = now()
		 WHERE uid = $1`,
		uid, totalDelta, completedDelta)
	if err == nil {
		p.profileCache.Remove(uid)
	}
	return err
}

func (p *Postgres) ensureProfileRow(ctx context.Context, uid string) error {
	seed := newProfile(uid)
	skills, _ := json.Marshal(seed.Skills)
	stats, _ := json.Marshal(seed.Stats)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO user_profiles (uid, nickname, experience, skills, badges, stats, created_at, last_active_at)
		 VALUES ($1, $2, 0, $3, '{}'::jsonb, $4, now(), now())
		 ON CONFLICT (uid) DO NOTHING`,
		uid, seed.Nickname, skills, stats)
	return err
}

func (p *Postgres) readProfile(ctx context.Context, uid string) (*UserProfile, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT uid, nickname, experience, skills, badges, stats, created_at, last_active_at
		 FROM user_profiles WHERE uid = $1`, uid)

	var (
		prof           UserProfile
		skills, badges []byte
		stats          []byte
	)
	if err := row.Scan(&prof.UID, &prof.Nickname, &prof.Experience, &skills, &badges, &stats, &prof.CreatedAt, &prof.LastActiveAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	prof.Skills = map[string]int{}
	_ = json.Unmarshal(skills, &prof.Skills)
	prof.Badges = map[string]time.Time{}
	_ = json.Unmarshal(badges, &prof.Badges)
	_ = json.Unmarshal(stats, &prof.Stats)
	return &prof, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
