package models

// GameResolution is the outcome of the §4.3 resolver pipeline: a matched
// registry game id (nil when nothing matched) plus the display name to use.
type GameResolution struct {
	GameID   *int64
	GameName string
}

// Untitled reports whether this resolution failed to match any registry
// game — the "just chatting" case from §4.5.
func (r GameResolution) Untitled() bool {
	return r.GameID == nil
}

// MemberPresence is one member's resolved game, input to the consensus
// detector (§4.4).
type MemberPresence struct {
	DiscordUserID string
	Resolution    GameResolution
}

// GameGroup is one output bucket of the consensus detector: a set of
// members assigned to the same game (or to the "just chatting" fallback).
type GameGroup struct {
	GameID    *int64
	GameName  string
	MemberIDs []string
}
