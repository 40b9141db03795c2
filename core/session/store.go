package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// SQLStore is the Postgres-backed Store implementation.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const qGetOrCreate = `
INSERT INTO user_sessions (user_id, state, last_interaction, created_at, updated_at)
VALUES ($1, 'idle', now(), now(), now())
ON CONFLICT (user_id) DO UPDATE SET
    last_interaction = GREATEST(user_sessions.last_interaction, now()),
    updated_at       = now()
RETURNING user_id, state, prompted_at, last_interaction, created_at, updated_at`

// GetOrCreate returns the session row for a participant, creating an
// idle one on first contact. last_interaction only ever moves forward.
func (s *SQLStore) GetOrCreate(ctx context.Context, userID string) (Record, error) {
	var rec Record
	if err := s.db.GetContext(ctx, &rec, qGetOrCreate, userID); err != nil {
		return Record{}, fmt.Errorf("get or create session %q: %w", userID, err)
	}
	return rec, nil
}

const qApply = `
INSERT INTO user_sessions (user_id, state, prompted_at, last_interaction, created_at, updated_at)
VALUES ($1, COALESCE($2::text, 'idle'), $3, now(), now(), now())
ON CONFLICT (user_id) DO UPDATE SET
    state = COALESCE($2::text, user_sessions.state),
    prompted_at = CASE
        WHEN $4 THEN NULL
        WHEN $3::timestamptz IS NOT NULL THEN $3
        ELSE user_sessions.prompted_at
    END,
    last_interaction = CASE
        WHEN $5 THEN GREATEST(user_sessions.last_interaction, now())
        ELSE user_sessions.last_interaction
    END,
    updated_at = now()`

// Apply upserts the fields the patch names and leaves the rest alone.
// Concurrent writers can interleave safely: the statement is a single
// atomic upsert and last_interaction never regresses.
func (s *SQLStore) Apply(ctx context.Context, userID string, p Patch) error {
	_, err := s.db.ExecContext(ctx, qApply,
		userID, p.State, p.PromptedAt, p.ClearPromptedAt, p.TouchInteraction)
	if err != nil {
		return fmt.Errorf("apply session patch %q: %w", userID, err)
	}
	return nil
}

const qFindExpired = `
SELECT user_id, state, prompted_at, last_interaction, created_at, updated_at
FROM user_sessions
WHERE state = $1 AND last_interaction < $2
ORDER BY last_interaction`

// FindExpired lists sessions of one tracked category whose last
// interaction precedes the cutoff, oldest first.
func (s *SQLStore) FindExpired(ctx context.Context, st State, cutoff time.Time) ([]Record, error) {
	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, qFindExpired, st, cutoff); err != nil {
		return nil, fmt.Errorf("find expired %s sessions: %w", st, err)
	}
	return recs, nil
}

const qBulkTransition = `
UPDATE user_sessions SET
    state = COALESCE($2::text, state),
    prompted_at = CASE
        WHEN $3 THEN NULL
        WHEN $4::timestamptz IS NOT NULL THEN $4
        ELSE prompted_at
    END,
    last_interaction = CASE
        WHEN $5 THEN GREATEST(last_interaction, now())
        ELSE last_interaction
    END,
    updated_at = now()
WHERE user_id = ANY($1)`

// BulkTransition applies one patch to many participants in a single
// statement. Missing ids are skipped, not created.
func (s *SQLStore) BulkTransition(ctx context.Context, userIDs []string, p Patch) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, qBulkTransition,
		pq.Array(userIDs), p.State, p.ClearPromptedAt, p.PromptedAt, p.TouchInteraction)
	if err != nil {
		return fmt.Errorf("bulk transition %d sessions: %w", len(userIDs), err)
	}
	return nil
}

const qPurgeIdle = `
DELETE FROM user_sessions
WHERE state = 'idle'
  AND last_interaction < $1
  AND (prompted_at IS NULL OR prompted_at < $1)`

// PurgeIdleBefore deletes idle rows untouched since the cutoff and
// returns how many went away. Rows with a fresher prompt timer survive
// so re-prompt suppression keeps working after an expiry notice.
func (s *SQLStore) PurgeIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, qPurgeIdle, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge idle sessions: rows affected: %w", err)
	}
	return n, nil
}

const qCountTracked = `
SELECT state, count(*) AS n
FROM user_sessions
WHERE state IN ('talk_to_us', 'live_chat')
GROUP BY state`

// CountTracked reports how many sessions sit in each tracked category.
func (s *SQLStore) CountTracked(ctx context.Context) (Counts, error) {
	rows := []struct {
		State State `db:"state"`
		N     int64 `db:"n"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, qCountTracked); err != nil {
		return Counts{}, fmt.Errorf("count tracked sessions: %w", err)
	}
	var c Counts
	for _, r := range rows {
		switch r.State {
		case StateTalkToUs:
			c.TalkToUs = r.N
		case StateLiveChat:
			c.LiveChat = r.N
		}
	}
	return c, nil
}

const qGet = `
SELECT user_id, state, prompted_at, last_interaction, created_at, updated_at
FROM user_sessions
WHERE user_id = $1`

// Get returns the session row of a known participant or ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, userID string) (Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, qGet, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get session %q: %w", userID, err)
	}
	return rec, nil
}

const qListByState = `
SELECT user_id, state, prompted_at, last_interaction, created_at, updated_at
FROM user_sessions
WHERE state = $1
ORDER BY last_interaction DESC
LIMIT $2`

// ListByState returns the most recently active sessions in one state.
func (s *SQLStore) ListByState(ctx context.Context, st State, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, qListByState, st, limit); err != nil {
		return nil, fmt.Errorf("list %s sessions: %w", st, err)
	}
	return recs, nil
}
