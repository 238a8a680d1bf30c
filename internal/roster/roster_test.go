package roster

import (
	"testing"
	"time"

	"github.com/raidledger/voiceengine/internal/models"
)

func TestBuildCountsActiveParticipants(t *testing.T) {
	now := time.Now()
	sessions := []models.InMemorySession{
		{
			Key:              models.SessionKey{EventID: "e1", DiscordUserID: "a"},
			DiscordUserID:    "a",
			DisplayName:      "Alice",
			FirstJoinAt:      now.Add(-time.Minute),
			IsActive:         true,
			TotalDurationSec: 60,
			Segments:         []models.Segment{{JoinAt: now.Add(-time.Minute)}},
		},
		{
			Key:              models.SessionKey{EventID: "e1", DiscordUserID: "b"},
			DiscordUserID:    "b",
			DisplayName:      "Bob",
			FirstJoinAt:      now.Add(-2 * time.Minute),
			LastLeaveAt:      now.Add(-time.Minute),
			IsActive:         false,
			TotalDurationSec: 60,
			Segments:         []models.Segment{{JoinAt: now.Add(-2 * time.Minute), LeaveAt: now.Add(-time.Minute), DurationSec: 60}},
		},
	}

	r := Build("e1", sessions)
	if r.ActiveCount != 1 {
		t.Fatalf("expected 1 active participant, got %d", r.ActiveCount)
	}
	if len(r.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(r.Participants))
	}
	for _, p := range r.Participants {
		if p.ID == "a" && p.LeftAt != nil {
			t.Fatalf("active participant must have nil LeftAt")
		}
		if p.ID == "b" && p.LeftAt == nil {
			t.Fatalf("inactive participant must have non-nil LeftAt")
		}
	}
}

func TestBuildEmptySessions(t *testing.T) {
	r := Build("e1", nil)
	if r.ActiveCount != 0 || len(r.Participants) != 0 {
		t.Fatalf("expected empty roster, got %+v", r)
	}
}
