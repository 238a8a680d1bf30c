package store

import (
	"context"
	"fmt"
	"time"

	"github.com/raidledger/voiceengine/internal/models"
)

// AvailabilityStore is the Postgres-backed implementation of availability.Store.
type AvailabilityStore struct {
	pg PgPool
}

func NewAvailabilityStore(pg PgPool) *AvailabilityStore {
	return &AvailabilityStore{pg: pg}
}

func (s *AvailabilityStore) WindowsForUser(ctx context.Context, userID string, start, end time.Time) ([]models.AvailabilityWindow, error) {
	out, err := s.WindowsForUsers(ctx, []string{userID}, start, end)
	if err != nil {
		return nil, err
	}
	return out[userID], nil
}

func (s *AvailabilityStore) WindowsForUsers(ctx context.Context, userIDs []string, start, end time.Time) (map[string][]models.AvailabilityWindow, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT id, user_id, start_time, end_time, status, game_id, source_event_id
		FROM availability_windows
		WHERE user_id = ANY($1) AND start_time < $3 AND end_time > $2
	`, userIDs, start, end)
	if err != nil {
		return nil, fmt.Errorf("store: windows for users: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.AvailabilityWindow)
	for rows.Next() {
		var w models.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.UserID, &w.Start, &w.End, &w.Status, &w.GameID, &w.SourceEventID); err != nil {
			return nil, fmt.Errorf("store: scan availability window: %w", err)
		}
		out[w.UserID] = append(out[w.UserID], w)
	}
	return out, rows.Err()
}

// Upsert persists an availability window, rejecting one that fails
// models.AvailabilityWindow.Valid.
func (s *AvailabilityStore) Upsert(ctx context.Context, w models.AvailabilityWindow) error {
	if !w.Valid() {
		return fmt.Errorf("store: availability window must end after it starts and last at most %s", models.MaxWindowDuration)
	}
	_, err := s.pg.Exec(ctx, `
		INSERT INTO availability_windows (id, user_id, start_time, end_time, status, game_id, source_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status,
			game_id = EXCLUDED.game_id
	`, w.ID, w.UserID, w.Start, w.End, w.Status, w.GameID, w.SourceEventID)
	if err != nil {
		return fmt.Errorf("store: upsert availability window: %w", err)
	}
	return nil
}
