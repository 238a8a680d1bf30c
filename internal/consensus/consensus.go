// Package consensus implements the majority-vote game-detection algorithm
// (§4.4): given every present member's resolved game, decide which game (or
// games) the gathering counts as playing. The function is pure and
// deterministic so that repeated runs over the same input produce identical
// groupings, as required for the ad-hoc engine to reason about transitions
// without races.
package consensus

import (
	"sort"
	"strconv"

	"github.com/raidledger/voiceengine/internal/models"
)

// UntitledGameName is used when nobody present resolved to a known game.
const UntitledGameName = "Untitled Gaming Session"

type bucket struct {
	gameID   *int64
	gameName string
	members  []string
}

// Detect runs the §4.4 policy over the given member resolutions and returns
// an ordered list of game groups.
func Detect(members []models.MemberPresence) []models.GameGroup {
	if len(members) == 0 {
		return nil
	}

	buckets := bucketize(members)
	n := len(members)

	if majority := findMajority(buckets, n); majority != nil {
		all := make([]string, 0, n)
		for _, m := range members {
			all = append(all, m.DiscordUserID)
		}
		return []models.GameGroup{{GameID: majority.gameID, GameName: majority.gameName, MemberIDs: all}}
	}

	if allUntitled(buckets) {
		all := make([]string, 0, n)
		for _, m := range members {
			all = append(all, m.DiscordUserID)
		}
		return []models.GameGroup{{GameID: nil, GameName: UntitledGameName, MemberIDs: all}}
	}

	return splitGroups(buckets)
}

func bucketize(members []models.MemberPresence) map[string]*bucket {
	buckets := make(map[string]*bucket)
	for _, m := range members {
		key := bucketKey(m.Resolution)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{gameID: m.Resolution.GameID, gameName: m.Resolution.GameName}
			buckets[key] = b
		}
		b.members = append(b.members, m.DiscordUserID)
	}
	return buckets
}

func bucketKey(r models.GameResolution) string {
	if r.GameID != nil {
		return "id:" + strconv.FormatInt(*r.GameID, 10)
	}
	return "name:" + r.GameName
}

// findMajority returns the bucket holding >= N/2 members and a non-null
// gameId, or nil if no such bucket exists. Ties among qualifying buckets are
// broken by ascending gameId for determinism.
func findMajority(buckets map[string]*bucket, n int) *bucket {
	var candidates []*bucket
	for _, b := range buckets {
		if b.gameID == nil {
			continue
		}
		if len(b.members)*2 >= n {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].members) != len(candidates[j].members) {
			return len(candidates[i].members) > len(candidates[j].members)
		}
		return *candidates[i].gameID < *candidates[j].gameID
	})
	return candidates[0]
}

func allUntitled(buckets map[string]*bucket) bool {
	for _, b := range buckets {
		if b.gameID != nil {
			return false
		}
	}
	return true
}

// splitGroups implements §4.4 step 4: one group per non-null game, with
// null-resolved members merged into the largest group (ties broken by
// ascending gameId).
func splitGroups(buckets map[string]*bucket) []models.GameGroup {
	var gameBuckets []*bucket
	var untitled []string
	for _, b := range buckets {
		if b.gameID == nil {
			untitled = append(untitled, b.members...)
			continue
		}
		gameBuckets = append(gameBuckets, b)
	}

	sort.Slice(gameBuckets, func(i, j int) bool {
		return *gameBuckets[i].gameID < *gameBuckets[j].gameID
	})

	if len(untitled) > 0 && len(gameBuckets) > 0 {
		largest := gameBuckets[0]
		for _, b := range gameBuckets[1:] {
			if len(b.members) > len(largest.members) ||
				(len(b.members) == len(largest.members) && *b.gameID < *largest.gameID) {
				largest = b
			}
		}
		largest.members = append(largest.members, untitled...)
	}

	groups := make([]models.GameGroup, 0, len(gameBuckets))
	for _, b := range gameBuckets {
		groups = append(groups, models.GameGroup{GameID: b.gameID, GameName: b.gameName, MemberIDs: b.members})
	}
	return groups
}
