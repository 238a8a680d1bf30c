package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/raidledger/voiceengine/internal/models"
)

// fakeSessionRow mirrors scanSession's exact Scan call so it can stand in
// for the pgx.Row returned by LoadSession's QueryRow without a database.
type fakeSessionRow struct {
	session models.PersistedSession
}

func (r fakeSessionRow) Scan(dest ...any) error {
	segments, err := json.Marshal(r.session.Segments)
	if err != nil {
		return err
	}
	*dest[0].(*string) = r.session.ID
	*dest[1].(*string) = r.session.EventID
	*dest[2].(**string) = r.session.UserID
	*dest[3].(*string) = r.session.DiscordUserID
	*dest[4].(*string) = r.session.DiscordUsername
	*dest[5].(*time.Time) = r.session.FirstJoinAt
	*dest[6].(**time.Time) = r.session.LastLeaveAt
	*dest[7].(*float64) = r.session.TotalDurationSec
	*dest[8].(*[]byte) = segments
	*dest[9].(**models.AttendanceClassification) = r.session.Classification
	*dest[10].(*time.Time) = r.session.CreatedAt
	*dest[11].(*time.Time) = r.session.UpdatedAt
	return nil
}

type fakePgPool struct {
	row      fakeSessionRow
	execArgs []any
}

func (f *fakePgPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (f *fakePgPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return f.row
}
func (f *fakePgPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = args
	return pgconn.CommandTag{}, nil
}

// TestCloseStaleOpenSegmentDoesNotDoubleCountElapsedTime covers the crash-
// recovery scenario (§4.6 / §8 scenario 5): join at T0, a flush at T0+90s
// persists total_duration_sec=90, then the process crashes and restarts at
// T0+400s. The recovered total must be 400s, the open segment's full
// elapsed duration since join, not 90+400.
func TestCloseStaleOpenSegmentDoesNotDoubleCountElapsedTime(t *testing.T) {
	joinAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := joinAt.Add(400 * time.Second)

	existing := models.PersistedSession{
		ID:               "sess-1",
		EventID:          "event-1",
		DiscordUserID:    "user-1",
		DiscordUsername:  "User One",
		FirstJoinAt:      joinAt,
		TotalDurationSec: 90,
		Segments:         []models.Segment{{JoinAt: joinAt}},
	}
	pool := &fakePgPool{row: fakeSessionRow{session: existing}}
	s := NewSessionStore(pool)

	if err := s.CloseStaleOpenSegment(context.Background(), "event-1", "user-1", now); err != nil {
		t.Fatalf("CloseStaleOpenSegment returned error: %v", err)
	}

	if len(pool.execArgs) < 8 {
		t.Fatalf("expected the upsert to run, got exec args %v", pool.execArgs)
	}
	got, ok := pool.execArgs[7].(float64)
	if !ok {
		t.Fatalf("expected total_duration_sec arg to be float64, got %T", pool.execArgs[7])
	}
	if got != 400 {
		t.Fatalf("expected recovered total_duration_sec = 400 (not double-counted), got %v", got)
	}
}

// TestCloseStaleOpenSegmentSumsPriorClosedSegments confirms the recovered
// total still includes earlier closed segments from the same event (a user
// who left and rejoined before the crash), not just the reopened segment's
// elapsed time.
func TestCloseStaleOpenSegmentSumsPriorClosedSegments(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(10 * time.Minute)
	now := t1.Add(200 * time.Second)

	existing := models.PersistedSession{
		ID:              "sess-2",
		EventID:         "event-1",
		DiscordUserID:   "user-1",
		DiscordUsername: "User One",
		FirstJoinAt:     t0,
		// persisted at a flush 60s into the second (still open) segment
		TotalDurationSec: 30 + 60,
		Segments: []models.Segment{
			{JoinAt: t0, LeaveAt: t0.Add(30 * time.Second), DurationSec: 30},
			{JoinAt: t1},
		},
	}
	pool := &fakePgPool{row: fakeSessionRow{session: existing}}
	s := NewSessionStore(pool)

	if err := s.CloseStaleOpenSegment(context.Background(), "event-1", "user-1", now); err != nil {
		t.Fatalf("CloseStaleOpenSegment returned error: %v", err)
	}

	got := pool.execArgs[7].(float64)
	if got != 230 {
		t.Fatalf("expected recovered total_duration_sec = 230 (30 closed + 200 elapsed), got %v", got)
	}
}

// TestCloseStaleOpenSegmentNoOpOnAlreadyClosedSegment confirms recovery
// leaves an already-cleanly-closed session untouched.
func TestCloseStaleOpenSegmentNoOpOnAlreadyClosedSegment(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	leaveAt := t0.Add(time.Minute)
	existing := models.PersistedSession{
		ID:               "sess-3",
		EventID:          "event-1",
		DiscordUserID:    "user-1",
		TotalDurationSec: 60,
		Segments:         []models.Segment{{JoinAt: t0, LeaveAt: leaveAt, DurationSec: 60}},
	}
	pool := &fakePgPool{row: fakeSessionRow{session: existing}}
	s := NewSessionStore(pool)

	if err := s.CloseStaleOpenSegment(context.Background(), "event-1", "user-1", leaveAt.Add(time.Hour)); err != nil {
		t.Fatalf("CloseStaleOpenSegment returned error: %v", err)
	}
	if pool.execArgs != nil {
		t.Fatalf("expected no upsert for an already-closed segment, got exec args %v", pool.execArgs)
	}
}
