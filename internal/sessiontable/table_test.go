package sessiontable

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/raidledger/voiceengine/internal/models"
)

func TestOpenIsIdempotent(t *testing.T) {
	tbl := New()
	key := models.SessionKey{EventID: "evt-1", DiscordUserID: "u1"}
	now := time.Now()

	first := tbl.Open(key, models.SessionKindAttendance, "u1", "Alice", now)
	second := tbl.Open(key, models.SessionKindAttendance, "u1", "Alice", now.Add(5*time.Second))

	if !first.IsActive || !second.IsActive {
		t.Fatalf("expected session to stay active across repeated opens")
	}
	if len(second.Segments) != 1 {
		t.Fatalf("expected one segment after repeated open, got %d", len(second.Segments))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tbl := New()
	key := models.SessionKey{EventID: "evt-1", DiscordUserID: "u1"}
	now := time.Now()

	tbl.Open(key, models.SessionKindAttendance, "u1", "Alice", now)
	first, existed := tbl.Close(key, now.Add(10*time.Second))
	if !existed {
		t.Fatalf("expected session to exist")
	}
	second, _ := tbl.Close(key, now.Add(20*time.Second))

	if first.TotalDurationSec != second.TotalDurationSec {
		t.Fatalf("second close must not accrue more duration: %v vs %v", first.TotalDurationSec, second.TotalDurationSec)
	}
	if first.TotalDurationSec != 10 {
		t.Fatalf("expected 10s accrued, got %v", first.TotalDurationSec)
	}
}

func TestSnapshotFoldsActiveSegmentWithoutMutating(t *testing.T) {
	tbl := New()
	key := models.SessionKey{EventID: "evt-1", DiscordUserID: "u1"}
	now := time.Now()
	tbl.Open(key, models.SessionKindAttendance, "u1", "Alice", now)

	snap, ok := tbl.Snapshot(key, now.Add(30*time.Second))
	if !ok {
		t.Fatalf("expected session")
	}
	if snap.TotalDurationSec != 30 {
		t.Fatalf("expected folded total of 30s, got %v", snap.TotalDurationSec)
	}

	stored, _ := tbl.Snapshot(key, now)
	if stored.TotalDurationSec != 0 {
		t.Fatalf("snapshot must not mutate underlying total, got %v", stored.TotalDurationSec)
	}
}

func TestFlushCandidatesIncludesActiveAndDirtyOnly(t *testing.T) {
	tbl := New()
	now := time.Now()
	activeKey := models.SessionKey{EventID: "evt-1", DiscordUserID: "active"}
	flushedKey := models.SessionKey{EventID: "evt-1", DiscordUserID: "flushed"}

	tbl.Open(activeKey, models.SessionKindAttendance, "active", "Active", now)
	tbl.Open(flushedKey, models.SessionKindAttendance, "flushed", "Flushed", now)
	tbl.Close(flushedKey, now.Add(time.Second))
	tbl.ClearDirty(flushedKey)

	candidates := tbl.FlushCandidates()
	var sawActive bool
	for _, k := range candidates {
		if k == flushedKey {
			t.Fatalf("closed+cleared session must not be a flush candidate")
		}
		if k == activeKey {
			sawActive = true
		}
	}
	if !sawActive {
		t.Fatalf("expected active session to remain a flush candidate")
	}
}

func TestDeleteEventRemovesOnlyThatEvent(t *testing.T) {
	tbl := New()
	now := time.Now()
	tbl.Open(models.SessionKey{EventID: "evt-a", DiscordUserID: "u1"}, models.SessionKindAdHoc, "u1", "A", now)
	tbl.Open(models.SessionKey{EventID: "evt-b", DiscordUserID: "u2"}, models.SessionKindAdHoc, "u2", "B", now)

	tbl.DeleteEvent("evt-a")

	if tbl.Exists(models.SessionKey{EventID: "evt-a", DiscordUserID: "u1"}) {
		t.Fatalf("evt-a session should have been deleted")
	}
	if !tbl.Exists(models.SessionKey{EventID: "evt-b", DiscordUserID: "u2"}) {
		t.Fatalf("evt-b session should survive")
	}
}

// TestConcurrentDistinctKeys exercises many goroutines hammering distinct
// keys at once; run with -race to confirm the shard locking is sufficient.
func TestConcurrentDistinctKeys(t *testing.T) {
	tbl := New()
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := models.SessionKey{EventID: "evt-concurrent", DiscordUserID: fmt.Sprintf("u%d", i)}
			tbl.Open(key, models.SessionKindAttendance, key.DiscordUserID, "name", now)
			tbl.Snapshot(key, now.Add(time.Second))
			tbl.Close(key, now.Add(2*time.Second))
		}(i)
	}
	wg.Wait()

	if got := len(tbl.SnapshotEvent("evt-concurrent", now.Add(2*time.Second))); got != 200 {
		t.Fatalf("expected 200 sessions, got %d", got)
	}
}

// TestConcurrentSameKey exercises repeated open/close races on one key.
func TestConcurrentSameKey(t *testing.T) {
	tbl := New()
	now := time.Now()
	key := models.SessionKey{EventID: "evt-shared", DiscordUserID: "u1"}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tbl.Open(key, models.SessionKindAttendance, "u1", "Alice", now)
			tbl.Close(key, now.Add(time.Second))
		}()
	}
	wg.Wait()

	snap, ok := tbl.Snapshot(key, now.Add(time.Second))
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if snap.IsActive {
		t.Fatalf("expected session closed after equal open/close pairs")
	}
}
