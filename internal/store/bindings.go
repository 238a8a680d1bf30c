package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/raidledger/voiceengine/internal/models"
)

// BindingStore is the Postgres-backed implementation of bindingcache.Loader
// plus the admin CRUD the httpapi package needs for bind/unbind/updateConfig.
type BindingStore struct {
	pg PgPool
}

func NewBindingStore(pg PgPool) *BindingStore {
	return &BindingStore{pg: pg}
}

// LoadBinding implements bindingcache.Loader.
func (s *BindingStore) LoadBinding(ctx context.Context, channelID string) (*models.ChannelBinding, error) {
	row := s.pg.QueryRow(ctx, `
		SELECT id, guild_id, channel_id, channel_kind, purpose, game_id, series_id,
		       min_players, grace_period_sec, notification_channel_id, allow_just_chatting,
		       created_at, updated_at
		FROM channel_bindings
		WHERE channel_id = $1
	`, channelID)
	b, err := scanBinding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load binding: %w", err)
	}
	return b, nil
}

func scanBinding(row pgx.Row) (*models.ChannelBinding, error) {
	var b models.ChannelBinding
	if err := row.Scan(&b.ID, &b.GuildID, &b.ChannelID, &b.ChannelKind, &b.Purpose, &b.GameID, &b.SeriesID,
		&b.Config.MinPlayers, &b.Config.GracePeriodSec, &b.Config.NotificationChannelID, &b.Config.AllowJustChatting,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a new binding, generating its id.
func (s *BindingStore) Create(ctx context.Context, b models.ChannelBinding) (*models.ChannelBinding, error) {
	b.Config = b.Config.WithDefaults()
	id := uuid.NewString()
	_, err := s.pg.Exec(ctx, `
		INSERT INTO channel_bindings
			(id, guild_id, channel_id, channel_kind, purpose, game_id, series_id,
			 min_players, grace_period_sec, notification_channel_id, allow_just_chatting)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, id, b.GuildID, b.ChannelID, b.ChannelKind, b.Purpose, b.GameID, b.SeriesID,
		b.Config.MinPlayers, b.Config.GracePeriodSec, b.Config.NotificationChannelID, b.Config.AllowJustChatting)
	if err != nil {
		return nil, fmt.Errorf("store: create binding: %w", err)
	}
	b.ID = id
	return &b, nil
}

// Delete removes a binding by id (admin "unbind").
func (s *BindingStore) Delete(ctx context.Context, bindingID string) error {
	if _, err := s.pg.Exec(ctx, `DELETE FROM channel_bindings WHERE id = $1`, bindingID); err != nil {
		return fmt.Errorf("store: delete binding: %w", err)
	}
	return nil
}

// UpdateConfig overwrites all four config columns of an existing binding
// with cfg. It does not merge with the stored values: a field left at its
// zero value in cfg replaces the stored one.
func (s *BindingStore) UpdateConfig(ctx context.Context, bindingID string, cfg models.BindingConfig) error {
	_, err := s.pg.Exec(ctx, `
		UPDATE channel_bindings
		SET min_players = $2, grace_period_sec = $3, notification_channel_id = $4,
		    allow_just_chatting = $5, updated_at = now()
		WHERE id = $1
	`, bindingID, cfg.MinPlayers, cfg.GracePeriodSec, cfg.NotificationChannelID, cfg.AllowJustChatting)
	if err != nil {
		return fmt.Errorf("store: update binding config: %w", err)
	}
	return nil
}

// ListByGuild returns every binding for a guild, for the admin "getBindings" command.
func (s *BindingStore) ListByGuild(ctx context.Context, guildID string) ([]models.ChannelBinding, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT id, guild_id, channel_id, channel_kind, purpose, game_id, series_id,
		       min_players, grace_period_sec, notification_channel_id, allow_just_chatting,
		       created_at, updated_at
		FROM channel_bindings
		WHERE guild_id = $1
		ORDER BY created_at
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("store: list bindings: %w", err)
	}
	defer rows.Close()

	var out []models.ChannelBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan binding: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
