// Package roster implements the live-roster read model (§4.8): a pure
// function over session-table snapshots that both ad-hoc update
// notifications and a live-roster query endpoint consume.
package roster

import (
	"time"

	"github.com/raidledger/voiceengine/internal/models"
)

// Build produces a Roster for one event from its session snapshots. The
// snapshots must already have the active segment's elapsed time folded in
// (sessiontable.Table.SnapshotEvent does this), so this function performs
// no further time math — it only shapes the DTO.
func Build(eventID string, sessions []models.InMemorySession) models.Roster {
	participants := make([]models.Participant, 0, len(sessions))
	activeCount := 0
	for _, s := range sessions {
		var leftAt *time.Time
		if !s.IsActive {
			t := s.LastLeaveAt
			leftAt = &t
		} else {
			activeCount++
		}
		participants = append(participants, models.Participant{
			ID:                   s.DiscordUserID,
			UserID:               s.InternalUserID,
			DiscordUsername:      s.DisplayName,
			JoinedAt:             s.FirstJoinAt,
			LeftAt:               leftAt,
			TotalDurationSeconds: s.TotalDurationSec,
			SessionCount:         len(s.Segments),
		})
	}
	return models.Roster{EventID: eventID, Participants: participants, ActiveCount: activeCount}
}
