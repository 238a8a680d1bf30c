package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/raidledger/voiceengine/internal/models"
)

// ScheduledStore is the Postgres-backed implementation of classify.Store and
// gateway.ScheduledEventLookup: everything the engine reads about
// externally-owned scheduled events without ever writing the events
// themselves (it only writes classification and signup attendance columns).
type ScheduledStore struct {
	pg PgPool
}

func NewScheduledStore(pg PgPool) *ScheduledStore {
	return &ScheduledStore{pg: pg}
}

func scanScheduledEvent(row pgx.Row) (*models.ScheduledEvent, error) {
	var e models.ScheduledEvent
	if err := row.Scan(&e.ID, &e.Title, &e.StartTime, &e.EndTime, &e.GameID, &e.CancelledAt, &e.SeriesID, &e.IsAdHoc); err != nil {
		return nil, err
	}
	return &e, nil
}

const scheduledEventColumns = `id, title, start_time, end_time, game_id, cancelled_at, series_id, is_ad_hoc`

// ActiveEventForChannel implements gateway.ScheduledEventLookup: the voice
// channel is bound to a scheduled event through the event's own channel
// binding, and "active" excludes ad-hoc and cancelled events.
func (s *ScheduledStore) ActiveEventForChannel(ctx context.Context, channelID string, now time.Time) (*models.ScheduledEvent, bool, error) {
	row := s.pg.QueryRow(ctx, `
		SELECT `+scheduledEventColumns+`
		FROM scheduled_events e
		JOIN channel_bindings b ON b.id = e.binding_id
		WHERE b.channel_id = $1
		  AND e.cancelled_at IS NULL
		  AND e.is_ad_hoc = false
		  AND $2 BETWEEN e.start_time AND e.end_time
		LIMIT 1
	`, channelID, now)
	event, err := scanScheduledEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: active event for channel: %w", err)
	}
	return event, true, nil
}

// EndedEvents implements classify.Store: every non-cancelled, non-ad-hoc
// event whose window closed within the lookback window. Re-processing an
// already-classified event is safe: UpdateClassification overwrites with the
// same result and SignupsMissingAttendance only ever returns signups still
// null, so repeated runs within the lookback are idempotent, just wasted
// work once an event's sessions stop changing.
func (s *ScheduledStore) EndedEvents(ctx context.Context, now time.Time, lookback time.Duration) ([]models.ScheduledEvent, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT `+scheduledEventColumns+`
		FROM scheduled_events
		WHERE cancelled_at IS NULL
		  AND is_ad_hoc = false
		  AND end_time <= $1
		  AND end_time > $2
		ORDER BY end_time
	`, now, now.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("store: ended events: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduledEvent
	for rows.Next() {
		e, err := scanScheduledEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan ended event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *ScheduledStore) SessionsForEvent(ctx context.Context, eventID string) ([]models.PersistedSession, error) {
	rows, err := s.pg.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: sessions for event: %w", err)
	}
	defer rows.Close()

	var out []models.PersistedSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// OpenSessions implements engine.RecoverableSessions: every attendance
// session belonging to a currently in-progress scheduled event that was
// left open by an unclean shutdown (last_leave_at IS NULL), for §4.6
// startup recovery. Table-qualified so the join with scheduled_events
// (which has its own id column) isn't ambiguous.
func (s *ScheduledStore) OpenSessions(ctx context.Context, now time.Time) ([]models.PersistedSession, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT s.id, s.event_id, s.user_id, s.discord_user_id, s.discord_username, s.first_join_at,
		       s.last_leave_at, s.total_duration_sec, s.segments, s.classification, s.created_at, s.updated_at
		FROM sessions s
		JOIN scheduled_events e ON e.id = s.event_id
		WHERE e.cancelled_at IS NULL
		  AND e.is_ad_hoc = false
		  AND $1 BETWEEN e.start_time AND e.end_time
		  AND s.last_leave_at IS NULL
	`, now)
	if err != nil {
		return nil, fmt.Errorf("store: open sessions: %w", err)
	}
	defer rows.Close()

	var out []models.PersistedSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan open session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *ScheduledStore) UpdateClassification(ctx context.Context, eventID, discordUserID string, c models.AttendanceClassification) error {
	_, err := s.pg.Exec(ctx, `
		UPDATE sessions SET classification = $3, updated_at = now()
		WHERE event_id = $1 AND discord_user_id = $2
	`, eventID, discordUserID, c)
	if err != nil {
		return fmt.Errorf("store: update classification: %w", err)
	}
	return nil
}

func (s *ScheduledStore) SignupsMissingAttendance(ctx context.Context, eventID string) ([]models.Signup, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT id, event_id, user_id, discord_user_id, attendance_status
		FROM signups
		WHERE event_id = $1 AND attendance_status IS NULL
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("store: signups missing attendance: %w", err)
	}
	defer rows.Close()

	var out []models.Signup
	for rows.Next() {
		var sg models.Signup
		if err := rows.Scan(&sg.ID, &sg.EventID, &sg.UserID, &sg.DiscordUserID, &sg.AttendanceStatus); err != nil {
			return nil, fmt.Errorf("store: scan signup: %w", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *ScheduledStore) SetSignupAttendanceIfNull(ctx context.Context, signupID string, c models.AttendanceClassification) error {
	_, err := s.pg.Exec(ctx, `
		UPDATE signups SET attendance_status = $2 WHERE id = $1 AND attendance_status IS NULL
	`, signupID, c)
	if err != nil {
		return fmt.Errorf("store: set signup attendance: %w", err)
	}
	return nil
}
