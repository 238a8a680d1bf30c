package models

import "time"

// Participant is the live-roster DTO for one session (§4.8).
type Participant struct {
	ID                 string // = DiscordUserID
	UserID             *string
	DiscordUsername    string
	JoinedAt           time.Time
	LeftAt             *time.Time // nil while active
	TotalDurationSeconds float64
	SessionCount       int
}

// Roster is a snapshot of all sessions for one event.
type Roster struct {
	EventID      string
	Participants []Participant
	ActiveCount  int
}

// UpdatePayload is the structured body handed to the rendering collaborator
// for a coalesced ad-hoc membership update (§4.5, §4.7). The core never
// renders human-readable text; it only produces this payload.
type UpdatePayload struct {
	EventID  string
	GameName string
	Roster   Roster
}

// SpawnPayload accompanies the first notification for a newly-spawned
// ad-hoc session.
type SpawnPayload struct {
	EventID  string
	GameName string
	Members  []string // discord user ids present at spawn
}

// CompletionPayload accompanies the final notification when an ad-hoc
// session is dissolved, carrying each participant's total duration.
type CompletionPayload struct {
	EventID  string
	GameName string
	Durations map[string]float64 // discordUserID -> total seconds
}
