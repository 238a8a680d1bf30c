package models

import "time"

// Segment is one [joinAt, leaveAt] interval of continuous presence. leaveAt
// is the zero Time while the segment is open.
type Segment struct {
	JoinAt      time.Time
	LeaveAt     time.Time
	DurationSec float64
}

// Open reports whether this segment has not yet been closed.
func (s Segment) Open() bool {
	return s.LeaveAt.IsZero()
}

// SessionKind distinguishes which subsystem a session belongs to; both
// ad-hoc sessions and scheduled-event attendance share the InMemorySession
// shape but are keyed differently and flushed on different schedules.
type SessionKind string

const (
	SessionKindAdHoc      SessionKind = "adhoc"
	SessionKindAttendance SessionKind = "attendance"
)

// SessionKey identifies one InMemorySession. For ad-hoc sessions EventID is
// the ad-hoc event id; for attendance sessions it is the scheduled event id.
type SessionKey struct {
	EventID       string
	DiscordUserID string
}

// InMemorySession is the hot, mutable presence record shared by §4.5 and
// §4.6. All mutation must go through the owning sessiontable so that the
// invariants below hold under concurrent access:
//
//  1. IsActive <=> ActiveSegmentStart is non-nil <=> last segment is open.
//  2. TotalDurationSec equals the sum of all *closed* segment durations.
//  3. The active segment's elapsed time is excluded from TotalDurationSec
//     until the segment closes or a flush snapshot captures it.
type InMemorySession struct {
	Key               SessionKey
	Kind              SessionKind
	InternalUserID    *string // nil when the Discord user is not linked to an account
	DiscordUserID     string
	DisplayName       string
	FirstJoinAt       time.Time
	LastLeaveAt       time.Time // zero until the first leave; kept across a rejoin, so only meaningful while !IsActive
	TotalDurationSec  float64
	Segments          []Segment
	IsActive          bool
	ActiveSegmentStart time.Time // zero unless IsActive
	Dirty             bool
	Classification    *AttendanceClassification
}

// Snapshot returns a deep copy of the session with the active segment's
// elapsed time folded in without mutating the original. This is exactly the
// computation the periodic flush (§4.6) and the live-roster read model
// (§4.8) both need, so it lives on the model instead of being duplicated.
func (s *InMemorySession) Snapshot(now time.Time) InMemorySession {
	out := *s
	out.Segments = append([]Segment(nil), s.Segments...)
	if s.IsActive {
		elapsed := now.Sub(s.ActiveSegmentStart).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		if n := len(out.Segments); n > 0 && out.Segments[n-1].Open() {
			out.Segments[n-1].DurationSec = elapsed
		}
		out.TotalDurationSec = s.TotalDurationSec + elapsed
	}
	return out
}

// AttendanceClassification is the presence-quality bucket assigned to a
// finished attendance session (§4.9).
type AttendanceClassification string

const (
	ClassificationFull        AttendanceClassification = "full"
	ClassificationPartial     AttendanceClassification = "partial"
	ClassificationLate        AttendanceClassification = "late"
	ClassificationEarlyLeaver AttendanceClassification = "early_leaver"
	ClassificationNoShow      AttendanceClassification = "no_show"
)

// PersistedSession is the on-disk row mirroring an InMemorySession, keyed by
// (EventID, DiscordUserID).
type PersistedSession struct {
	ID               string
	EventID          string
	UserID           *string
	DiscordUserID    string
	DiscordUsername  string
	FirstJoinAt      time.Time
	LastLeaveAt      *time.Time
	TotalDurationSec float64
	Segments         []Segment
	Classification   *AttendanceClassification
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
