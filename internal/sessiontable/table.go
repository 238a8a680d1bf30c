// Package sessiontable implements the shared InMemorySession store used by
// both the ad-hoc session engine (§4.5) and the voice-attendance engine
// (§4.6). It owns the per-key locking §5 requires: operations touching one
// (eventID, discordUserID) key serialize, operations on different keys may
// proceed fully in parallel. The table is implemented as a fixed set of
// mutex-guarded shards (a striped lock), the same shape as the per-guild
// map-plus-mutex pattern used for live session state elsewhere in this
// corpus, generalized so the stripe count is independent of key count.
package sessiontable

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/raidledger/voiceengine/internal/models"
)

const shardCount = 64

type shard struct {
	mu       sync.Mutex
	sessions map[models.SessionKey]*models.InMemorySession
}

// Table is the shared session store. The zero value is not usable; use New.
type Table struct {
	shards [shardCount]*shard
}

// New constructs an empty session table.
func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{sessions: make(map[models.SessionKey]*models.InMemorySession)}
	}
	return t
}

func (t *Table) shardFor(key models.SessionKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.EventID))
	h.Write([]byte{0})
	h.Write([]byte(key.DiscordUserID))
	return t.shards[h.Sum32()%shardCount]
}

func clone(s *models.InMemorySession) models.InMemorySession {
	out := *s
	out.Segments = append([]models.Segment(nil), s.Segments...)
	return out
}

// Open opens (or re-opens) a presence segment for key. If the session is
// already active this is a no-op — idempotent per the §8 round-trip law
// join(u);join(u) == join(u). If no session exists yet one is created with
// FirstJoinAt = now.
func (t *Table) Open(key models.SessionKey, kind models.SessionKind, discordUserID, displayName string, now time.Time) models.InMemorySession {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[key]
	if !ok {
		s = &models.InMemorySession{
			Key:           key,
			Kind:          kind,
			DiscordUserID: discordUserID,
			DisplayName:   displayName,
			FirstJoinAt:   now,
		}
		sh.sessions[key] = s
	}
	if s.IsActive {
		return clone(s)
	}
	s.IsActive = true
	s.ActiveSegmentStart = now
	s.Segments = append(s.Segments, models.Segment{JoinAt: now})
	s.Dirty = true
	if s.DisplayName == "" {
		s.DisplayName = displayName
	}
	return clone(s)
}

// Close closes the active presence segment for key, if any. A no-op (per
// §8's leave(u);leave(u) == leave(u)) when no session exists or it is
// already inactive. Returns the post-close snapshot and whether a session
// existed at all.
func (t *Table) Close(key models.SessionKey, now time.Time) (models.InMemorySession, bool) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[key]
	if !ok {
		return models.InMemorySession{}, false
	}
	if !s.IsActive {
		return clone(s), true
	}
	elapsed := now.Sub(s.ActiveSegmentStart).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if n := len(s.Segments); n > 0 {
		s.Segments[n-1].LeaveAt = now
		s.Segments[n-1].DurationSec = elapsed
	}
	s.TotalDurationSec += elapsed
	s.IsActive = false
	s.ActiveSegmentStart = time.Time{}
	s.LastLeaveAt = now
	s.Dirty = true
	return clone(s), true
}

// Restore seeds a session for key from a persisted running total and opens a
// fresh current segment, for startup recovery (§4.6). Any stale open
// segment in the *persistence layer* must already have been closed there by
// the caller before calling Restore — this only establishes fresh in-memory
// state.
func (t *Table) Restore(key models.SessionKey, kind models.SessionKind, discordUserID, displayName string, firstJoinAt time.Time, persistedTotalDurationSec float64, now time.Time) models.InMemorySession {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s := &models.InMemorySession{
		Key:                key,
		Kind:               kind,
		DiscordUserID:      discordUserID,
		DisplayName:        displayName,
		FirstJoinAt:        firstJoinAt,
		TotalDurationSec:   persistedTotalDurationSec,
		IsActive:           true,
		ActiveSegmentStart: now,
		Segments:           []models.Segment{{JoinAt: now}},
		Dirty:              true,
	}
	sh.sessions[key] = s
	return clone(s)
}

// Snapshot returns the current state of key with the active segment's
// elapsed time folded in (models.InMemorySession.Snapshot semantics), plus
// whether a session exists.
func (t *Table) Snapshot(key models.SessionKey, now time.Time) (models.InMemorySession, bool) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sessions[key]
	if !ok {
		return models.InMemorySession{}, false
	}
	return s.Snapshot(now), true
}

// SnapshotEvent returns a snapshot of every session for eventID, across all
// shards. Used by the live-roster read model (§4.8) and by the ad-hoc
// completion / classification flows that need "everyone in this event".
func (t *Table) SnapshotEvent(eventID string, now time.Time) []models.InMemorySession {
	var out []models.InMemorySession
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, s := range sh.sessions {
			if key.EventID == eventID {
				out = append(out, s.Snapshot(now))
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// KeysForEvent returns the session keys belonging to eventID.
func (t *Table) KeysForEvent(eventID string) []models.SessionKey {
	var out []models.SessionKey
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key := range sh.sessions {
			if key.EventID == eventID {
				out = append(out, key)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// FlushCandidates returns every key whose session is dirty or currently
// active — exactly the set §4.6's periodic flush must write.
func (t *Table) FlushCandidates() []models.SessionKey {
	var out []models.SessionKey
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, s := range sh.sessions {
			if s.Dirty || s.IsActive {
				out = append(out, key)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// ClearDirty clears the dirty flag for key after a successful persist. It is
// a separate step from Snapshot so a flush failure leaves the flag set and
// the next cycle retries (§7).
func (t *Table) ClearDirty(key models.SessionKey) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.sessions[key]; ok {
		s.Dirty = false
	}
}

// SetClassification records the attendance classification decided for key.
func (t *Table) SetClassification(key models.SessionKey, c models.AttendanceClassification) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.sessions[key]; ok {
		s.Classification = &c
	}
}

// Delete drops the in-memory session for key without flushing it. Callers
// flush first when the contract requires it.
func (t *Table) Delete(key models.SessionKey) {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, key)
}

// DeleteEvent drops every session belonging to eventID — used on ad-hoc
// completion (§4.5e) and at the end of the classification loop (§4.9 step 6).
func (t *Table) DeleteEvent(eventID string) {
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key := range sh.sessions {
			if key.EventID == eventID {
				delete(sh.sessions, key)
			}
		}
		sh.mu.Unlock()
	}
}

// Exists reports whether a session is currently tracked for key.
func (t *Table) Exists(key models.SessionKey) bool {
	sh := t.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.sessions[key]
	return ok
}

// Size returns the total number of tracked sessions across all shards, for
// periodic metrics reporting. Not used on any hot path, so the cross-shard
// locking it requires is acceptable.
func (t *Table) Size() int {
	total := 0
	for _, sh := range t.shards {
		sh.mu.Lock()
		total += len(sh.sessions)
		sh.mu.Unlock()
	}
	return total
}
