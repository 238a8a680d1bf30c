package gateway

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/adhoc"
	"github.com/raidledger/voiceengine/internal/attendance"
	"github.com/raidledger/voiceengine/internal/bindingcache"
	"github.com/raidledger/voiceengine/internal/models"
	"github.com/raidledger/voiceengine/internal/notify"
	"github.com/raidledger/voiceengine/internal/sessiontable"
)

type fakeBindingLoader struct {
	binding *models.ChannelBinding
}

func (f *fakeBindingLoader) LoadBinding(ctx context.Context, channelID string) (*models.ChannelBinding, error) {
	return f.binding, nil
}

type noEvents struct{}

func (noEvents) ActiveEventForChannel(ctx context.Context, channelID string, now time.Time) (*models.ScheduledEvent, bool, error) {
	return nil, false, nil
}

type fakeAdhocStore struct{ spawns int }

func (f *fakeAdhocStore) SpawnEvent(ctx context.Context, bindingID string, gameID *int64, gameName string, start time.Time) (string, error) {
	f.spawns++
	return "evt-1", nil
}
func (f *fakeAdhocStore) CompleteEvent(ctx context.Context, eventID string, endTime time.Time) error {
	return nil
}
func (f *fakeAdhocStore) UpsertSession(ctx context.Context, session models.PersistedSession) error {
	return nil
}
func (f *fakeAdhocStore) GameNameByID(ctx context.Context, gameID int64) (string, error) {
	return "Valheim", nil
}

type fakeRenderer struct{}

func (fakeRenderer) SendOrEdit(ctx context.Context, channelID string, messageID *string, payload interface{}) (string, error) {
	return "msg-1", nil
}

func TestHandleVoiceStateUpdateDropsMuteDeafenNoise(t *testing.T) {
	gw := New(bindingcache.New(&fakeBindingLoader{}, time.Minute, zap.NewNop()), nil, nil, noEvents{}, 5*time.Millisecond, zap.NewNop())
	gw.HandleVoiceStateUpdate(models.VoiceStateEvent{UserID: "u1", OldChannelID: "c1", NewChannelID: "c1"})
	time.Sleep(20 * time.Millisecond)
	// A dispatched event would have gone through channel tracking and
	// recorded u1 as a member of c1.
	gw.channelMu.Lock()
	_, tracked := gw.userChannelMap["u1"]
	gw.channelMu.Unlock()
	if tracked {
		t.Fatal("expected mute/deafen noise to be dropped before dispatch, but u1 was tracked")
	}
}

func TestHandleVoiceStateUpdateDebouncesRapidMoves(t *testing.T) {
	binding := &models.ChannelBinding{ID: "b1", ChannelKind: models.ChannelKindVoice, Purpose: models.PurposeVoiceMonitor, GameID: int64Ptr(7), Config: models.BindingConfig{MinPlayers: 2}}
	store := &fakeAdhocStore{}
	eng := adhoc.New(store, fakeResolverNop{}, sessiontable.New(), notify.New(10*time.Millisecond, zap.NewNop()), fakeRenderer{}, fakeRosterNop{}, zap.NewNop())

	gw := New(bindingcache.New(&fakeBindingLoader{binding: binding}, time.Minute, zap.NewNop()), eng, attendance.New(sessiontable.New(), fakeAttendanceStoreNop{}, zap.NewNop()), noEvents{}, 20*time.Millisecond, zap.NewNop())

	gw.HandleVoiceStateUpdate(models.VoiceStateEvent{UserID: "u1", NewChannelID: "c1", MemberHint: models.MemberHint{DisplayName: "Alice"}})
	time.Sleep(5 * time.Millisecond)
	gw.HandleVoiceStateUpdate(models.VoiceStateEvent{UserID: "u1", OldChannelID: "c1", NewChannelID: "c2", MemberHint: models.MemberHint{DisplayName: "Alice"}})

	time.Sleep(60 * time.Millisecond)

	gw.channelMu.Lock()
	got := gw.userChannelMap["u1"]
	gw.channelMu.Unlock()
	if got != "c2" {
		t.Fatalf("expected debounced final channel c2, got %q", got)
	}
}

func int64Ptr(v int64) *int64 { return &v }

type fakeResolverNop struct{}

func (fakeResolverNop) Resolve(ctx context.Context, userID, activityName string) (models.GameResolution, error) {
	return models.GameResolution{GameName: activityName}, nil
}

type fakeRosterNop struct{}

func (fakeRosterNop) PresentMembers(ctx context.Context, channelID string) ([]adhoc.PresentMember, error) {
	return nil, nil
}

type fakeAttendanceStoreNop struct{}

func (fakeAttendanceStoreNop) UpsertSession(ctx context.Context, session models.PersistedSession) error {
	return nil
}
func (fakeAttendanceStoreNop) LoadSession(ctx context.Context, eventID, discordUserID string) (*models.PersistedSession, error) {
	return nil, nil
}
func (fakeAttendanceStoreNop) CloseStaleOpenSegment(ctx context.Context, eventID, discordUserID string, now time.Time) error {
	return nil
}
