package models

import "time"

// ScheduledEvent is an externally-owned pre-planned event bound to a voice
// channel and a time window. The core reads it by reference; it never
// writes ScheduledEvent rows.
type ScheduledEvent struct {
	ID          string
	Title       string
	StartTime   time.Time
	EndTime     time.Time
	GameID      *int64
	CancelledAt *time.Time
	SeriesID    *string
	IsAdHoc     bool
}

// Active reports whether now falls inside the event's tracked window and the
// event has not been cancelled.
func (e *ScheduledEvent) Active(now time.Time) bool {
	return e.CancelledAt == nil && !e.IsAdHoc &&
		!now.Before(e.StartTime) && !now.After(e.EndTime)
}

// Ended reports whether the event's window has closed by now.
func (e *ScheduledEvent) Ended(now time.Time) bool {
	return e.CancelledAt == nil && !e.IsAdHoc && now.After(e.EndTime)
}

// Signup is an event signup whose attendance status the classification loop
// may auto-populate.
type Signup struct {
	ID                string
	EventID           string
	UserID            string
	DiscordUserID     *string
	AttendanceStatus  *AttendanceClassification
}

// AvailabilityStatus is the state of an AvailabilityWindow.
type AvailabilityStatus string

const (
	AvailabilityAvailable AvailabilityStatus = "available"
	AvailabilityCommitted AvailabilityStatus = "committed"
	AvailabilityBlocked   AvailabilityStatus = "blocked"
	AvailabilityFreed     AvailabilityStatus = "freed"
)

// AvailabilityWindow is a persisted per-user time range with a status and an
// optional game scope.
//
// Invariant: End > Start and End - Start <= 24h.
type AvailabilityWindow struct {
	ID            string
	UserID        string
	Start         time.Time
	End           time.Time
	Status        AvailabilityStatus
	GameID        *int64
	SourceEventID *string
}

// MaxWindowDuration is the hard cap on a single availability window.
const MaxWindowDuration = 24 * time.Hour

// Valid reports whether the window satisfies the duration invariant.
func (w AvailabilityWindow) Valid() bool {
	return w.End.After(w.Start) && w.End.Sub(w.Start) <= MaxWindowDuration
}

// Overlaps reports whether w and other share any instant.
func (w AvailabilityWindow) Overlaps(other AvailabilityWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// SameGame reports whether both windows are scoped to the same non-nil game.
func (w AvailabilityWindow) SameGame(other AvailabilityWindow) bool {
	return w.GameID != nil && other.GameID != nil && *w.GameID == *other.GameID
}

// Conflicts reports whether w and other constitute a scheduling conflict:
// overlapping windows where at least one is committed/blocked, unless both
// share the same non-null game (§3, §9 — decision preserved as observed).
func (w AvailabilityWindow) Conflicts(other AvailabilityWindow) bool {
	if !w.Overlaps(other) {
		return false
	}
	restrictive := func(s AvailabilityStatus) bool {
		return s == AvailabilityCommitted || s == AvailabilityBlocked
	}
	if !restrictive(w.Status) && !restrictive(other.Status) {
		return false
	}
	if w.SameGame(other) {
		return false
	}
	return true
}
