// Package models holds the shared data types for the voice-presence engine:
// bindings, presence events, in-memory sessions, ad-hoc session state, and
// the handful of external entities the engine reads but does not own.
package models

import "time"

// ChannelKind distinguishes text channels from voice channels.
type ChannelKind string

const (
	ChannelKindText  ChannelKind = "text"
	ChannelKindVoice ChannelKind = "voice"
)

// BindingPurpose is the role a bound channel plays.
type BindingPurpose string

const (
	PurposeAnnouncements BindingPurpose = "announcements"
	PurposeVoiceMonitor  BindingPurpose = "voice-monitor"
	PurposeGeneralLobby  BindingPurpose = "general-lobby"
)

// BindingConfig is the closed set of per-binding tunables. Unknown keys from
// an admin request are ignored rather than stored in a free-form map.
type BindingConfig struct {
	MinPlayers            int    `json:"minPlayers,omitempty"`
	GracePeriodSec        int    `json:"gracePeriodSec,omitempty"`
	NotificationChannelID string `json:"notificationChannelId,omitempty"`
	AllowJustChatting     bool   `json:"allowJustChatting,omitempty"`
}

const (
	DefaultMinPlayers     = 2
	DefaultGracePeriodSec = 180
)

// WithDefaults returns a copy with zero-valued fields replaced by defaults.
func (c BindingConfig) WithDefaults() BindingConfig {
	out := c
	if out.MinPlayers <= 0 {
		out.MinPlayers = DefaultMinPlayers
	}
	if out.GracePeriodSec <= 0 {
		out.GracePeriodSec = DefaultGracePeriodSec
	}
	return out
}

// ChannelBinding associates a chat-service channel with a purpose, optionally
// scoped to a game or a recurring event series.
//
// Invariant: a voice-monitor binding with GameID == nil is a general lobby;
// with GameID set it is game-specific.
type ChannelBinding struct {
	ID          string
	GuildID     string
	ChannelID   string
	ChannelKind ChannelKind
	Purpose     BindingPurpose
	GameID      *int64
	SeriesID    *string
	Config      BindingConfig
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsGeneralLobby reports whether the game for this binding must be inferred
// from member presence rather than read off the binding itself: either an
// explicit general-lobby purpose, or a voice-monitor binding left with no
// fixed game-id.
func (b *ChannelBinding) IsGeneralLobby() bool {
	return b.Purpose == PurposeGeneralLobby || (b.Purpose == PurposeVoiceMonitor && b.GameID == nil)
}
