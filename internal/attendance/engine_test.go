package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/models"
	"github.com/raidledger/voiceengine/internal/sessiontable"
)

type fakeStore struct {
	mu        sync.Mutex
	upserts   int
	persisted map[string]*models.PersistedSession
	closedStale int
}

func newFakeStore() *fakeStore {
	return &fakeStore{persisted: map[string]*models.PersistedSession{}}
}

func storeKey(eventID, userID string) string { return eventID + "|" + userID }

func (f *fakeStore) UpsertSession(ctx context.Context, session models.PersistedSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	cp := session
	f.persisted[storeKey(session.EventID, session.DiscordUserID)] = &cp
	return nil
}

func (f *fakeStore) LoadSession(ctx context.Context, eventID, discordUserID string) (*models.PersistedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persisted[storeKey(eventID, discordUserID)], nil
}

func (f *fakeStore) CloseStaleOpenSegment(ctx context.Context, eventID, discordUserID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedStale++
	return nil
}

func TestJoinLeaveFlushAccumulatesDuration(t *testing.T) {
	tbl := sessiontable.New()
	store := newFakeStore()
	e := New(tbl, store, zap.NewNop())

	key := models.SessionKey{EventID: "evt-1", DiscordUserID: "u1"}
	now := time.Now()
	e.Join(key, "u1", "Alice", now)
	e.Leave(key, now.Add(30*time.Second))

	e.Flush(context.Background(), now.Add(30*time.Second))

	store.mu.Lock()
	defer store.mu.Unlock()
	p := store.persisted[storeKey("evt-1", "u1")]
	if p == nil {
		t.Fatalf("expected a persisted row")
	}
	if p.TotalDurationSec != 30 {
		t.Fatalf("expected 30s total, got %v", p.TotalDurationSec)
	}
}

func TestFlushIncludesActiveSessionFolded(t *testing.T) {
	tbl := sessiontable.New()
	store := newFakeStore()
	e := New(tbl, store, zap.NewNop())

	key := models.SessionKey{EventID: "evt-1", DiscordUserID: "u1"}
	now := time.Now()
	e.Join(key, "u1", "Alice", now)

	e.Flush(context.Background(), now.Add(45*time.Second))

	snap, ok := tbl.Snapshot(key, now)
	if !ok {
		t.Fatalf("expected session to still be tracked")
	}
	if !snap.IsActive {
		t.Fatalf("flush must not close the active segment")
	}

	store.mu.Lock()
	p := store.persisted[storeKey("evt-1", "u1")]
	store.mu.Unlock()
	if p == nil || p.TotalDurationSec != 45 {
		t.Fatalf("expected folded 45s in persisted snapshot, got %+v", p)
	}
}

func TestRecoverRestoresTotalAndOpensFreshSegment(t *testing.T) {
	tbl := sessiontable.New()
	store := newFakeStore()
	store.persisted[storeKey("evt-1", "u1")] = &models.PersistedSession{
		EventID:          "evt-1",
		DiscordUserID:    "u1",
		FirstJoinAt:      time.Now().Add(-time.Hour),
		TotalDurationSec: 600,
	}
	e := New(tbl, store, zap.NewNop())

	key := models.SessionKey{EventID: "evt-1", DiscordUserID: "u1"}
	now := time.Now()
	if err := e.Recover(context.Background(), key, "u1", "Alice", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, ok := tbl.Snapshot(key, now.Add(10*time.Second))
	if !ok {
		t.Fatalf("expected restored session")
	}
	if snap.TotalDurationSec != 610 {
		t.Fatalf("expected 600 restored + 10 new = 610, got %v", snap.TotalDurationSec)
	}
	if store.closedStale != 1 {
		t.Fatalf("expected stale persisted segment closed once")
	}
}

func TestRecoverFallsThroughToJoinWhenNoPersistedRow(t *testing.T) {
	tbl := sessiontable.New()
	store := newFakeStore()
	e := New(tbl, store, zap.NewNop())

	key := models.SessionKey{EventID: "evt-1", DiscordUserID: "u1"}
	now := time.Now()
	if err := e.Recover(context.Background(), key, "u1", "Alice", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tbl.Exists(key) {
		t.Fatalf("expected a fresh session to exist after fallback join")
	}
}
