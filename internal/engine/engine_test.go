package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/config"
	"github.com/raidledger/voiceengine/internal/models"
	"github.com/raidledger/voiceengine/internal/resolver"
)

type fakeBindingLoader struct {
	binding *models.ChannelBinding
}

func (f fakeBindingLoader) LoadBinding(ctx context.Context, channelID string) (*models.ChannelBinding, error) {
	return f.binding, nil
}

// the engine test only needs the surrounding wiring to not panic, so every
// store dependency below is a minimal no-op fake rather than a behavioral
// double — the component-level behavior is covered by each package's own
// tests.
type noopResolverStore struct{}

func (noopResolverStore) ActivityMapping(ctx context.Context, name string) (*resolver.GameRow, error) {
	return nil, nil
}
func (noopResolverStore) GameExact(ctx context.Context, name string) (*resolver.GameRow, error) {
	return nil, nil
}
func (noopResolverStore) GameCaseInsensitive(ctx context.Context, name string) (*resolver.GameRow, error) {
	return nil, nil
}
func (noopResolverStore) GameTrigram(ctx context.Context, name string) (*resolver.GameRow, error) {
	return nil, nil
}
func (noopResolverStore) TrigramAvailable(ctx context.Context) (bool, error) { return false, nil }

type noopOverrides struct{}

func (noopOverrides) Get(ctx context.Context, userID string) (string, bool, error) { return "", false, nil }
func (noopOverrides) Set(ctx context.Context, userID, name string, ttl time.Duration) error {
	return nil
}

type noopAdHocStore struct{}

func (noopAdHocStore) SpawnEvent(ctx context.Context, bindingID string, gameID *int64, gameName string, start time.Time) (string, error) {
	return "evt-1", nil
}
func (noopAdHocStore) CompleteEvent(ctx context.Context, eventID string, endTime time.Time) error {
	return nil
}
func (noopAdHocStore) UpsertSession(ctx context.Context, session models.PersistedSession) error {
	return nil
}
func (noopAdHocStore) GameNameByID(ctx context.Context, gameID int64) (string, error) { return "", nil }

type fakeAttendanceStore struct {
	upserted chan string
}

func (f *fakeAttendanceStore) UpsertSession(ctx context.Context, session models.PersistedSession) error {
	select {
	case f.upserted <- session.DiscordUserID:
	default:
	}
	return nil
}
func (f *fakeAttendanceStore) LoadSession(ctx context.Context, eventID, discordUserID string) (*models.PersistedSession, error) {
	return nil, nil
}
func (f *fakeAttendanceStore) CloseStaleOpenSegment(ctx context.Context, eventID, discordUserID string, now time.Time) error {
	return nil
}

type noopClassifyStore struct{}

func (noopClassifyStore) EndedEvents(ctx context.Context, now time.Time, lookback time.Duration) ([]models.ScheduledEvent, error) {
	return nil, nil
}
func (noopClassifyStore) SessionsForEvent(ctx context.Context, eventID string) ([]models.PersistedSession, error) {
	return nil, nil
}
func (noopClassifyStore) UpdateClassification(ctx context.Context, eventID, discordUserID string, c models.AttendanceClassification) error {
	return nil
}
func (noopClassifyStore) SignupsMissingAttendance(ctx context.Context, eventID string) ([]models.Signup, error) {
	return nil, nil
}
func (noopClassifyStore) SetSignupAttendanceIfNull(ctx context.Context, signupID string, c models.AttendanceClassification) error {
	return nil
}

type noopAvailabilityStore struct{}

func (noopAvailabilityStore) WindowsForUser(ctx context.Context, userID string, start, end time.Time) ([]models.AvailabilityWindow, error) {
	return nil, nil
}
func (noopAvailabilityStore) WindowsForUsers(ctx context.Context, userIDs []string, start, end time.Time) (map[string][]models.AvailabilityWindow, error) {
	return nil, nil
}

type noopRenderer struct{}

func (noopRenderer) SendOrEdit(ctx context.Context, channelID string, messageID *string, payload interface{}) (string, error) {
	return "", nil
}

type fakeScheduledEvents struct {
	event *models.ScheduledEvent
}

func (f fakeScheduledEvents) ActiveEventForChannel(ctx context.Context, channelID string, now time.Time) (*models.ScheduledEvent, bool, error) {
	if f.event == nil {
		return nil, false, nil
	}
	return f.event, true, nil
}

type fakeOpenSessions struct {
	sessions []models.PersistedSession
}

func (f fakeOpenSessions) OpenSessions(ctx context.Context, now time.Time) ([]models.PersistedSession, error) {
	return f.sessions, nil
}

func testConfig() *config.Config {
	return &config.Config{
		VoiceDebounce:           10 * time.Millisecond,
		CoalesceWindow:          10 * time.Millisecond,
		BindingCacheTTL:         time.Minute,
		BindingSweepInterval:    time.Hour,
		ResolverCacheTTL:        time.Minute,
		ResolverSweepInterval:   time.Hour,
		AttendanceFlushInterval: time.Hour,
		ClassificationInterval:  time.Hour,
		ClassificationGrace:     5 * time.Minute,
	}
}

// TestNewWiresGatewayToAdHocAndAttendance exercises the full construction
// path: a voice-state join on a channel bound to an active scheduled event
// must reach the attendance engine's in-memory session table through the
// Gateway.Wire indirection, not just construct without panicking.
func TestNewWiresGatewayToAdHocAndAttendance(t *testing.T) {
	binding := &models.ChannelBinding{
		ID:          "binding-1",
		ChannelID:   "chan-1",
		ChannelKind: models.ChannelKindVoice,
		Purpose:     models.PurposeVoiceMonitor,
	}
	event := &models.ScheduledEvent{ID: "event-1"}
	attendanceStore := &fakeAttendanceStore{upserted: make(chan string, 1)}

	deps := Deps{
		BindingLoader:     fakeBindingLoader{binding: binding},
		ResolverStore:     noopResolverStore{},
		OverrideStore:     noopOverrides{},
		AdHocStore:        noopAdHocStore{},
		AttendanceStore:   attendanceStore,
		ClassifyStore:     noopClassifyStore{},
		AvailabilityStore: noopAvailabilityStore{},
		Renderer:          noopRenderer{},
		ScheduledEvents:   fakeScheduledEvents{event: event},
	}

	log := zap.NewNop()
	e := New(context.Background(), testConfig(), deps, log)

	e.Gateway.HandleVoiceStateUpdate(models.VoiceStateEvent{
		UserID:       "user-1",
		NewChannelID: "chan-1",
		MemberHint:   models.MemberHint{DisplayName: "User One"},
	})

	deadline := time.After(time.Second)
	for {
		if e.Table.Exists(models.SessionKey{EventID: "event-1", DiscordUserID: "user-1"}) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected attendance session to be opened after debounce fires")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// TestRecoverResumesOpenSessionsBeforeRun exercises the persisted-state half
// of startup recovery: Engine.Recover must turn every session
// RecoverableSessions.OpenSessions reports into a live attendance session in
// the table, without Run ever having started its loops.
func TestRecoverResumesOpenSessionsBeforeRun(t *testing.T) {
	attendanceStore := &fakeAttendanceStore{upserted: make(chan string, 1)}
	deps := Deps{
		BindingLoader:     fakeBindingLoader{},
		ResolverStore:     noopResolverStore{},
		OverrideStore:     noopOverrides{},
		AdHocStore:        noopAdHocStore{},
		AttendanceStore:   attendanceStore,
		ClassifyStore:     noopClassifyStore{},
		AvailabilityStore: noopAvailabilityStore{},
		Renderer:          noopRenderer{},
		ScheduledEvents:   fakeScheduledEvents{},
		OpenSessions: fakeOpenSessions{sessions: []models.PersistedSession{
			{EventID: "event-1", DiscordUserID: "user-1", DiscordUsername: "User One"},
		}},
	}

	log := zap.NewNop()
	e := New(context.Background(), testConfig(), deps, log)

	if err := e.Recover(context.Background(), time.Now()); err != nil {
		t.Fatalf("Recover returned error: %v", err)
	}

	key := models.SessionKey{EventID: "event-1", DiscordUserID: "user-1"}
	if !e.Table.Exists(key) {
		t.Fatal("expected a recovered session to be present in the table before Run starts")
	}
}

// TestRecoverNoOpWithoutOpenSessionsDep confirms Recover tolerates a nil
// RecoverableSessions dependency (e.g. a caller that only wants Run).
func TestRecoverNoOpWithoutOpenSessionsDep(t *testing.T) {
	attendanceStore := &fakeAttendanceStore{upserted: make(chan string, 1)}
	deps := Deps{
		BindingLoader:     fakeBindingLoader{},
		ResolverStore:     noopResolverStore{},
		OverrideStore:     noopOverrides{},
		AdHocStore:        noopAdHocStore{},
		AttendanceStore:   attendanceStore,
		ClassifyStore:     noopClassifyStore{},
		AvailabilityStore: noopAvailabilityStore{},
		Renderer:          noopRenderer{},
		ScheduledEvents:   fakeScheduledEvents{},
	}

	log := zap.NewNop()
	e := New(context.Background(), testConfig(), deps, log)

	if err := e.Recover(context.Background(), time.Now()); err != nil {
		t.Fatalf("expected Recover to no-op without an OpenSessions dep, got error: %v", err)
	}
}
