package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/raidledger/voiceengine/internal/models"
)

// upsertSession persists a PersistedSession, shared by AdHocStore and
// SessionStore since both subsystems write the same sessions table keyed by
// (event_id, discord_user_id) — only the owning event's kind differs.
func upsertSession(ctx context.Context, pg PgPool, session models.PersistedSession) error {
	segments, err := json.Marshal(session.Segments)
	if err != nil {
		return fmt.Errorf("store: marshal segments: %w", err)
	}
	id := session.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = pg.Exec(ctx, `
		INSERT INTO sessions
			(id, event_id, user_id, discord_user_id, discord_username, first_join_at,
			 last_leave_at, total_duration_sec, segments, classification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id, discord_user_id) DO UPDATE SET
			last_leave_at = EXCLUDED.last_leave_at,
			total_duration_sec = EXCLUDED.total_duration_sec,
			segments = EXCLUDED.segments,
			classification = COALESCE(EXCLUDED.classification, sessions.classification),
			updated_at = now()
	`, id, session.EventID, session.UserID, session.DiscordUserID, session.DiscordUsername,
		session.FirstJoinAt, session.LastLeaveAt, session.TotalDurationSec, segments, session.Classification)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*models.PersistedSession, error) {
	var s models.PersistedSession
	var segments []byte
	if err := row.Scan(&s.ID, &s.EventID, &s.UserID, &s.DiscordUserID, &s.DiscordUsername,
		&s.FirstJoinAt, &s.LastLeaveAt, &s.TotalDurationSec, &segments, &s.Classification,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		if err := json.Unmarshal(segments, &s.Segments); err != nil {
			return nil, fmt.Errorf("store: unmarshal segments: %w", err)
		}
	}
	return &s, nil
}

const sessionColumns = `id, event_id, user_id, discord_user_id, discord_username, first_join_at,
		       last_leave_at, total_duration_sec, segments, classification, created_at, updated_at`

// SessionStore is the Postgres-backed implementation of attendance.Store.
type SessionStore struct {
	pg PgPool
}

func NewSessionStore(pg PgPool) *SessionStore {
	return &SessionStore{pg: pg}
}

func (s *SessionStore) UpsertSession(ctx context.Context, session models.PersistedSession) error {
	return upsertSession(ctx, s.pg, session)
}

func (s *SessionStore) LoadSession(ctx context.Context, eventID, discordUserID string) (*models.PersistedSession, error) {
	row := s.pg.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE event_id = $1 AND discord_user_id = $2`,
		eventID, discordUserID)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session: %w", err)
	}
	return session, nil
}

// CloseStaleOpenSegment closes out a session left open by an ungraceful
// shutdown (§4.6 recovery): the last segment's leave_at is set to now and
// folded into total_duration_sec so the subsequent Restore starts clean.
func (s *SessionStore) CloseStaleOpenSegment(ctx context.Context, eventID, discordUserID string, now time.Time) error {
	existing, err := s.LoadSession(ctx, eventID, discordUserID)
	if err != nil {
		return err
	}
	if existing == nil || len(existing.Segments) == 0 {
		return nil
	}
	last := existing.Segments[len(existing.Segments)-1]
	if !last.Open() {
		return nil
	}
	elapsed := now.Sub(last.JoinAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	last.LeaveAt = now
	last.DurationSec = elapsed
	existing.Segments[len(existing.Segments)-1] = last

	// elapsed is the open segment's entire duration since its JoinAt, not
	// time-since-last-flush: ActiveSegmentStart never advances across
	// flushes of one continuous open segment, so the last persisted
	// TotalDurationSec already equals closedSum + elapsed. Recomputing it
	// as closedSum + elapsed here (rather than existing.TotalDurationSec +
	// elapsed) avoids double-counting that already-elapsed time.
	closedSum := 0.0
	for _, seg := range existing.Segments[:len(existing.Segments)-1] {
		closedSum += seg.DurationSec
	}
	existing.TotalDurationSec = closedSum + elapsed
	existing.LastLeaveAt = &now
	return upsertSession(ctx, s.pg, *existing)
}
