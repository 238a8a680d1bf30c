// Package availability implements the conflict-detection surface (§6, §9)
// the scheduling collaborator calls into when creating events. It is
// adjacent to the voice engine rather than part of its hot path, but shares
// the same persistence tier and data shapes.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/raidledger/voiceengine/internal/metrics"
	"github.com/raidledger/voiceengine/internal/models"
)

// Store is the persistence surface backing availability windows.
type Store interface {
	WindowsForUser(ctx context.Context, userID string, start, end time.Time) ([]models.AvailabilityWindow, error)
	WindowsForUsers(ctx context.Context, userIDs []string, start, end time.Time) (map[string][]models.AvailabilityWindow, error)
}

// Service runs conflict checks over availability windows.
type Service struct {
	store Store
}

// New constructs an availability Service.
func New(store Store) *Service {
	return &Service{store: store}
}

// CheckConflicts returns every committed/blocked window for userID that
// overlaps [start, end) and does not share excludeGameID, per §6 and the
// §9 decision that same-game overlaps never conflict, regardless of count.
func (s *Service) CheckConflicts(ctx context.Context, userID string, start, end time.Time, excludeGameID *int64, excludeID *string) ([]models.AvailabilityWindow, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("availability: invalid window [%s, %s)", start, end)
	}
	if end.Sub(start) > models.MaxWindowDuration {
		return nil, fmt.Errorf("availability: window exceeds %s", models.MaxWindowDuration)
	}

	candidate := models.AvailabilityWindow{Start: start, End: end, Status: models.AvailabilityCommitted, GameID: excludeGameID}

	windows, err := s.store.WindowsForUser(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("availability: load windows: %w", err)
	}

	var conflicts []models.AvailabilityWindow
	for _, w := range windows {
		if excludeID != nil && w.ID == *excludeID {
			continue
		}
		if w.Status != models.AvailabilityCommitted && w.Status != models.AvailabilityBlocked {
			continue
		}
		if candidate.Conflicts(w) {
			conflicts = append(conflicts, w)
		}
	}
	if len(conflicts) > 0 {
		metrics.AvailabilityConflictsDetected.Add(float64(len(conflicts)))
	}
	return conflicts, nil
}

// WindowsForUsersInRange returns every availability window for each of
// userIDs overlapping [start, end).
func (s *Service) WindowsForUsersInRange(ctx context.Context, userIDs []string, start, end time.Time) (map[string][]models.AvailabilityWindow, error) {
	return s.store.WindowsForUsers(ctx, userIDs, start, end)
}
