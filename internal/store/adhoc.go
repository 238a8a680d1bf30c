package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raidledger/voiceengine/internal/models"
)

// AdHocStore is the Postgres-backed implementation of adhoc.Store: it owns
// the ad_hoc_events and sessions rows spawned by §4.5.
type AdHocStore struct {
	pg PgPool
}

func NewAdHocStore(pg PgPool) *AdHocStore {
	return &AdHocStore{pg: pg}
}

func (s *AdHocStore) SpawnEvent(ctx context.Context, bindingID string, gameID *int64, gameName string, start time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.pg.Exec(ctx, `
		INSERT INTO ad_hoc_events (id, binding_id, game_id, game_name, start_time, completed)
		VALUES ($1, $2, $3, $4, $5, false)
	`, id, bindingID, gameID, gameName, start)
	if err != nil {
		return "", fmt.Errorf("store: spawn ad-hoc event: %w", err)
	}
	return id, nil
}

func (s *AdHocStore) CompleteEvent(ctx context.Context, eventID string, endTime time.Time) error {
	_, err := s.pg.Exec(ctx, `
		UPDATE ad_hoc_events SET end_time = $2, completed = true WHERE id = $1
	`, eventID, endTime)
	if err != nil {
		return fmt.Errorf("store: complete ad-hoc event: %w", err)
	}
	return nil
}

func (s *AdHocStore) UpsertSession(ctx context.Context, session models.PersistedSession) error {
	return upsertSession(ctx, s.pg, session)
}

func (s *AdHocStore) GameNameByID(ctx context.Context, gameID int64) (string, error) {
	var name string
	if err := s.pg.QueryRow(ctx, `SELECT name FROM games WHERE id = $1`, gameID).Scan(&name); err != nil {
		return "", fmt.Errorf("store: game name by id: %w", err)
	}
	return name, nil
}
