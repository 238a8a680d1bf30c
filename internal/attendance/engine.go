// Package attendance implements the voice-attendance engine (§4.6): segmented
// presence accumulation for scheduled events, periodic flush with
// read-modify-write snapshot correctness, and startup recovery.
package attendance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/metrics"
	"github.com/raidledger/voiceengine/internal/models"
	"github.com/raidledger/voiceengine/internal/sessiontable"
)

// DefaultFlushInterval is the periodic flush cadence (§4.6).
const DefaultFlushInterval = 30 * time.Second

// Store is the persistence surface the attendance engine needs.
type Store interface {
	UpsertSession(ctx context.Context, session models.PersistedSession) error
	LoadSession(ctx context.Context, eventID, discordUserID string) (*models.PersistedSession, error)
	CloseStaleOpenSegment(ctx context.Context, eventID, discordUserID string, now time.Time) error
}

// Engine tracks presence for scheduled events.
type Engine struct {
	table *sessiontable.Table
	store Store
	log   *zap.SugaredLogger
}

// New constructs an attendance Engine.
func New(table *sessiontable.Table, store Store, log *zap.Logger) *Engine {
	return &Engine{table: table, store: store, log: log.Sugar()}
}

// Join handles a voice-channel join for a scheduled event (§4.6). Idempotent
// on an already-active session.
func (e *Engine) Join(key models.SessionKey, discordUserID, displayName string, now time.Time) {
	e.table.Open(key, models.SessionKindAttendance, discordUserID, displayName, now)
}

// Leave handles a voice-channel leave. A no-op if no session exists or it is
// already inactive.
func (e *Engine) Leave(key models.SessionKey, now time.Time) {
	e.table.Close(key, now)
}

// Flush runs one flush cycle: every session that is dirty or currently
// active is snapshotted and upserted. Failures leave the dirty flag set so
// the next cycle retries (§7).
func (e *Engine) Flush(ctx context.Context, now time.Time) {
	start := time.Now()
	defer func() { metrics.AttendanceFlushDuration.Observe(time.Since(start).Seconds()) }()

	for _, key := range e.table.FlushCandidates() {
		snap, ok := e.table.Snapshot(key, now)
		if !ok {
			continue
		}
		if err := e.store.UpsertSession(ctx, toPersisted(snap)); err != nil {
			e.log.Warnw("attendance flush failed, will retry next cycle", "eventID", key.EventID, "userID", key.DiscordUserID, "error", err)
			continue
		}
		e.table.ClearDirty(key)
		metrics.AttendanceSessionsFlushed.Inc()
	}
}

// Run drives the periodic flush loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.Flush(context.Background(), time.Now())
			return
		case <-ticker.C:
			e.Flush(ctx, time.Now())
			metrics.SessionTableSize.Set(float64(e.table.Size()))
		}
	}
}

// Recover implements §4.6 startup recovery for one present member of a
// currently-active scheduled event's voice channel. If a persisted session
// exists, its stale open segment (if any, left open by an unclean shutdown)
// is closed at recovery time, then a fresh in-memory segment is opened
// seeded with the persisted running total. If no persisted session exists,
// this simply falls through to the ordinary join path.
func (e *Engine) Recover(ctx context.Context, key models.SessionKey, discordUserID, displayName string, now time.Time) error {
	persisted, err := e.store.LoadSession(ctx, key.EventID, key.DiscordUserID)
	if err != nil {
		return err
	}
	if persisted == nil {
		e.Join(key, discordUserID, displayName, now)
		return nil
	}
	if err := e.store.CloseStaleOpenSegment(ctx, key.EventID, key.DiscordUserID, now); err != nil {
		e.log.Warnw("failed to close stale persisted segment during recovery", "eventID", key.EventID, "userID", key.DiscordUserID, "error", err)
	} else if reloaded, err := e.store.LoadSession(ctx, key.EventID, key.DiscordUserID); err == nil && reloaded != nil {
		// CloseStaleOpenSegment just folded the crash-to-restart gap into
		// total_duration_sec; reload so the in-memory seed below carries that
		// corrected total instead of the pre-close snapshot taken above.
		persisted = reloaded
	}
	e.table.Restore(key, models.SessionKindAttendance, discordUserID, displayName, persisted.FirstJoinAt, persisted.TotalDurationSec, now)
	return nil
}

func toPersisted(s models.InMemorySession) models.PersistedSession {
	var lastLeave *time.Time
	if !s.IsActive && !s.LastLeaveAt.IsZero() {
		t := s.LastLeaveAt
		lastLeave = &t
	}
	return models.PersistedSession{
		EventID:          s.Key.EventID,
		UserID:           s.InternalUserID,
		DiscordUserID:    s.DiscordUserID,
		DiscordUsername:  s.DisplayName,
		FirstJoinAt:      s.FirstJoinAt,
		LastLeaveAt:      lastLeave,
		TotalDurationSec: s.TotalDurationSec,
		Segments:         s.Segments,
		Classification:   s.Classification,
	}
}
