package models

import "time"

// AdHocSessionState is the transient per-(bindingID, gameID) state machine
// record for §4.5. At most one exists per (BindingID, GameID) at a time.
type AdHocSessionState struct {
	BindingID         string
	GameID            *int64
	EventID           string // assigned by persistence on spawn
	GameName          string
	MemberSet         map[string]struct{} // discord user ids currently present
	SpawnedAt         time.Time
	LastExtendedAt    time.Time
	GraceArmed        bool
	GraceStartedAt    time.Time
	GraceDeadline     time.Time
	NotificationMsgID string
	LastRenderAt      time.Time
}

// NewAdHocSessionState seeds a freshly-spawned state with an empty member set;
// callers add members after construction.
func NewAdHocSessionState(bindingID string, gameID *int64, gameName, eventID string, now time.Time) *AdHocSessionState {
	return &AdHocSessionState{
		BindingID:      bindingID,
		GameID:         gameID,
		EventID:        eventID,
		GameName:       gameName,
		MemberSet:      make(map[string]struct{}),
		SpawnedAt:      now,
		LastExtendedAt: now,
	}
}

// AdHocKey identifies one AdHocSessionState slot.
type AdHocKey struct {
	BindingID string
	GameID    int64 // 0 used as sentinel for "no game"; GameIDSet distinguishes
	GameIDSet bool
}

func KeyForGame(bindingID string, gameID *int64) AdHocKey {
	if gameID == nil {
		return AdHocKey{BindingID: bindingID}
	}
	return AdHocKey{BindingID: bindingID, GameID: *gameID, GameIDSet: true}
}

// AdHocParticipantRecord is the persisted row mirroring a participant of an
// ad-hoc session, one per (EventID, DiscordUserID).
type AdHocParticipantRecord struct {
	PersistedSession
}

// AdHocEvent is the persisted ad-hoc session row itself.
type AdHocEvent struct {
	ID        string
	BindingID string
	GameID    *int64
	GameName  string
	StartTime time.Time
	EndTime   *time.Time
	Completed bool
}
