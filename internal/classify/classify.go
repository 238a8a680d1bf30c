// Package classify implements the scheduled-classification loop (§4.9): a
// cron-like driver that closes out ended scheduled events, flushes their
// final attendance state, and classifies each participant's presence
// quality.
package classify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/attendance"
	"github.com/raidledger/voiceengine/internal/metrics"
	"github.com/raidledger/voiceengine/internal/models"
	"github.com/raidledger/voiceengine/internal/sessiontable"
)

// DefaultInterval is the classification loop cadence.
const DefaultInterval = time.Minute

// DefaultGrace is the default lateness grace window (§4.9's graceMs).
const DefaultGrace = 5 * time.Minute

// DefaultLookback bounds how far back ended events are still reconsidered,
// so an outage does not permanently skip classification.
const DefaultLookback = 24 * time.Hour

// Store is the persistence surface the classification loop needs.
type Store interface {
	EndedEvents(ctx context.Context, now time.Time, lookback time.Duration) ([]models.ScheduledEvent, error)
	SessionsForEvent(ctx context.Context, eventID string) ([]models.PersistedSession, error)
	UpdateClassification(ctx context.Context, eventID, discordUserID string, c models.AttendanceClassification) error
	SignupsMissingAttendance(ctx context.Context, eventID string) ([]models.Signup, error)
	SetSignupAttendanceIfNull(ctx context.Context, signupID string, c models.AttendanceClassification) error
}

// Loop runs the classification driver.
type Loop struct {
	store      Store
	table      *sessiontable.Table
	attendance *attendance.Engine
	grace      time.Duration
	log        *zap.SugaredLogger
}

// New constructs a classification Loop.
func New(store Store, table *sessiontable.Table, attendanceEngine *attendance.Engine, grace time.Duration, log *zap.Logger) *Loop {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Loop{store: store, table: table, attendance: attendanceEngine, grace: grace, log: log.Sugar()}
}

// Run drives the loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.RunOnce(ctx, time.Now())
		}
	}
}

// RunOnce processes every currently-ended event exactly once. Each event's
// processing is independent: a failure on one event does not stop the
// batch (§7).
func (l *Loop) RunOnce(ctx context.Context, now time.Time) {
	metrics.ClassificationRuns.Inc()
	events, err := l.store.EndedEvents(ctx, now, DefaultLookback)
	if err != nil {
		l.log.Warnw("failed to list ended events for classification", "error", err)
		return
	}
	for _, event := range events {
		if err := l.processEvent(ctx, event, now); err != nil {
			l.log.Warnw("classification failed for event, will retry next cycle", "eventID", event.ID, "error", err)
		}
	}
}

func (l *Loop) processEvent(ctx context.Context, event models.ScheduledEvent, now time.Time) error {
	// 1. Close any still-active in-memory sessions for this event.
	for _, key := range l.table.KeysForEvent(event.ID) {
		l.table.Close(key, event.EndTime)
	}

	// 2. Flush.
	l.attendance.Flush(ctx, event.EndTime)

	// 3. Classify each persistent session.
	sessions, err := l.store.SessionsForEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	eventDurationSec := event.EndTime.Sub(event.StartTime).Seconds()
	classifications := make(map[string]models.AttendanceClassification, len(sessions))
	for _, s := range sessions {
		c := Classify(s, event.StartTime, event.EndTime, eventDurationSec, l.grace)
		classifications[s.DiscordUserID] = c
		metrics.ClassificationsByResult.WithLabelValues(string(c)).Inc()
		if err := l.store.UpdateClassification(ctx, event.ID, s.DiscordUserID, c); err != nil {
			l.log.Warnw("failed to write classification", "eventID", event.ID, "userID", s.DiscordUserID, "error", err)
		}
	}

	// 4 & 5. Synthesize no_show for signups with a linked Discord user but no
	// voice session, then auto-populate attendanceStatus only where null —
	// SignupsMissingAttendance already filters to attendanceStatus = null.
	signups, err := l.store.SignupsMissingAttendance(ctx, event.ID)
	if err != nil {
		return err
	}
	for _, signup := range signups {
		if signup.DiscordUserID == nil {
			continue
		}
		c := models.ClassificationNoShow
		if found, ok := classifications[*signup.DiscordUserID]; ok {
			c = found
		}
		if err := l.store.SetSignupAttendanceIfNull(ctx, signup.ID, c); err != nil {
			l.log.Warnw("failed to set attendance for signup", "signupID", signup.ID, "error", err)
		}
	}

	// 6. Drop in-memory sessions for this event.
	l.table.DeleteEvent(event.ID)
	return nil
}

// Classify implements the §4.9 priority-ordered classification algorithm.
func Classify(s models.PersistedSession, startTime, endTime time.Time, eventDurationSec float64, grace time.Duration) models.AttendanceClassification {
	if s.TotalDurationSec < 120 {
		return models.ClassificationNoShow
	}

	ratio := 0.0
	if eventDurationSec > 0 {
		ratio = s.TotalDurationSec / eventDurationSec
	}

	if s.FirstJoinAt.After(startTime.Add(grace)) && ratio >= 0.2 {
		return models.ClassificationLate
	}

	if s.LastLeaveAt != nil && s.LastLeaveAt.Before(endTime.Add(-5*time.Minute)) && ratio >= 0.2 && ratio < 0.8 {
		return models.ClassificationEarlyLeaver
	}

	if ratio >= 0.2 && ratio < 0.8 {
		return models.ClassificationPartial
	}
	if ratio >= 0.8 {
		return models.ClassificationFull
	}
	return models.ClassificationPartial
}
