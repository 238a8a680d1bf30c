// Package gateway implements the voice-event gateway (§4.2): the sole
// consumer of the raw presence stream. It filters mute/deafen noise,
// debounces per-user voice-state changes, and dispatches the debounced
// join/leave actions to the ad-hoc and voice-attendance engines. It also
// tracks the live userId -> channelId map and per-channel member presence
// needed for general-lobby consensus and game-switch migration.
package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/adhoc"
	"github.com/raidledger/voiceengine/internal/attendance"
	"github.com/raidledger/voiceengine/internal/bindingcache"
	"github.com/raidledger/voiceengine/internal/metrics"
	"github.com/raidledger/voiceengine/internal/models"
)

// DefaultDebounce is the per-user voice-state debounce window (§4.2, glossary).
const DefaultDebounce = 2 * time.Second

// ScheduledEventLookup resolves the currently-active scheduled event (if
// any) for a voice-monitor channel, distinguishing attendance tracking from
// ad-hoc sessions on the same binding.
type ScheduledEventLookup interface {
	ActiveEventForChannel(ctx context.Context, channelID string, now time.Time) (*models.ScheduledEvent, bool, error)
}

type memberState struct {
	displayName  string
	activityName string
}

// Gateway is the voice-event ingestion and dispatch component.
type Gateway struct {
	bindings   *bindingcache.Cache
	adhoc      *adhoc.Engine
	attendance *attendance.Engine
	events     ScheduledEventLookup
	debounce   time.Duration
	log        *zap.SugaredLogger

	pendingMu sync.Mutex
	pending   map[string]*time.Timer
	latest    map[string]models.VoiceStateEvent

	channelMu      sync.Mutex
	userChannelMap map[string]string                  // userId -> channelId
	channelMembers map[string]map[string]*memberState // channelId -> userId -> state
}

// New constructs a Gateway. A zero debounce uses DefaultDebounce. The ad-hoc
// and attendance engines are supplied later via Wire, since the ad-hoc
// engine's ChannelRoster dependency is the Gateway itself — the two
// construct in a cycle that a single constructor call can't express.
func New(bindings *bindingcache.Cache, adhocEngine *adhoc.Engine, attendanceEngine *attendance.Engine, events ScheduledEventLookup, debounce time.Duration, log *zap.Logger) *Gateway {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Gateway{
		bindings:       bindings,
		adhoc:          adhocEngine,
		attendance:     attendanceEngine,
		events:         events,
		debounce:       debounce,
		log:            log.Sugar(),
		pending:        make(map[string]*time.Timer),
		latest:         make(map[string]models.VoiceStateEvent),
		userChannelMap: make(map[string]string),
		channelMembers: make(map[string]map[string]*memberState),
	}
}

// Wire attaches the ad-hoc and attendance engines once they have been
// constructed with this Gateway as their roster/lookup collaborator. Must be
// called before the Gateway handles any events.
func (g *Gateway) Wire(adhocEngine *adhoc.Engine, attendanceEngine *attendance.Engine) {
	g.adhoc = adhocEngine
	g.attendance = attendanceEngine
}

// HandleVoiceStateUpdate is the entrypoint for raw voice-state events. It
// filters mute/deafen noise and arms/resets the per-user debounce timer.
func (g *Gateway) HandleVoiceStateUpdate(evt models.VoiceStateEvent) {
	if evt.OldChannelID == evt.NewChannelID {
		return
	}
	metrics.VoiceEventsIngested.Inc()

	g.pendingMu.Lock()
	g.latest[evt.UserID] = evt
	if t, ok := g.pending[evt.UserID]; ok {
		t.Stop()
		metrics.VoiceEventsDebounced.Inc()
	}
	g.pending[evt.UserID] = time.AfterFunc(g.debounce, func() {
		g.fireDebounced(evt.UserID)
	})
	g.pendingMu.Unlock()
}

func (g *Gateway) fireDebounced(userID string) {
	g.pendingMu.Lock()
	evt, ok := g.latest[userID]
	delete(g.latest, userID)
	delete(g.pending, userID)
	g.pendingMu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	now := time.Now()
	if evt.OldChannelID != "" {
		g.handleChannelLeave(ctx, evt.OldChannelID, evt.UserID, now)
	}
	if evt.NewChannelID != "" {
		g.handleChannelJoin(ctx, evt.NewChannelID, evt.UserID, evt.MemberHint, now)
	}
}

func (g *Gateway) handleChannelJoin(ctx context.Context, channelID, userID string, hint models.MemberHint, now time.Time) {
	g.trackJoin(channelID, userID, hint)

	binding, err := g.bindings.Get(ctx, channelID)
	if err != nil {
		g.log.Warnw("binding lookup failed, dropping join", "channelID", channelID, "error", err)
		return
	}
	if binding == nil || binding.ChannelKind != models.ChannelKindVoice {
		return
	}

	if event, ok, err := g.events.ActiveEventForChannel(ctx, channelID, now); err != nil {
		g.log.Warnw("scheduled-event lookup failed", "channelID", channelID, "error", err)
	} else if ok {
		key := models.SessionKey{EventID: event.ID, DiscordUserID: userID}
		g.attendance.Join(key, userID, hint.DisplayName, now)
		return
	}

	if binding.IsGeneralLobby() {
		if err := g.adhoc.HandleGeneralLobbyJoin(ctx, binding, userID, hint.DisplayName, hint.PrimaryGameActivityName(), now); err != nil {
			g.log.Warnw("general-lobby join failed", "channelID", channelID, "userID", userID, "error", err)
		}
		return
	}
	if binding.Purpose == models.PurposeVoiceMonitor && binding.GameID != nil {
		if err := g.adhoc.HandleGameSpecificJoin(ctx, binding, userID, hint.DisplayName, now); err != nil {
			g.log.Warnw("game-specific join failed", "channelID", channelID, "userID", userID, "error", err)
		}
	}
}

func (g *Gateway) handleChannelLeave(ctx context.Context, channelID, userID string, now time.Time) {
	g.channelMu.Lock()
	var previousActivity string
	if m, ok := g.channelMembers[channelID][userID]; ok {
		previousActivity = m.activityName
	}
	g.channelMu.Unlock()
	g.trackLeave(channelID, userID)

	binding, err := g.bindings.Get(ctx, channelID)
	if err != nil {
		g.log.Warnw("binding lookup failed, dropping leave", "channelID", channelID, "error", err)
		return
	}
	if binding == nil || binding.ChannelKind != models.ChannelKindVoice {
		return
	}

	if event, ok, err := g.events.ActiveEventForChannel(ctx, channelID, now); err != nil {
		g.log.Warnw("scheduled-event lookup failed", "channelID", channelID, "error", err)
	} else if ok {
		key := models.SessionKey{EventID: event.ID, DiscordUserID: userID}
		g.attendance.Leave(key, now)
		return
	}

	var gameID *int64
	if binding.Purpose == models.PurposeVoiceMonitor && binding.GameID != nil {
		gameID = binding.GameID
	} else if binding.IsGeneralLobby() {
		resolved, err := g.adhoc.ResolveCurrentGame(ctx, userID, previousActivity)
		if err != nil {
			g.log.Warnw("game resolution failed, dropping leave", "channelID", channelID, "userID", userID, "error", err)
			return
		}
		gameID = resolved
	}
	if err := g.adhoc.HandleLeave(ctx, binding, gameID, userID, now); err != nil {
		g.log.Warnw("ad-hoc leave failed", "channelID", channelID, "userID", userID, "error", err)
	}
}

// HandlePresenceUpdate routes a presence-activity change to the ad-hoc
// engine's game-switch migration when the user is currently in a
// general-lobby channel. It never debounces and never drives join/leave.
func (g *Gateway) HandlePresenceUpdate(ctx context.Context, evt models.PresenceUpdateEvent) {
	g.channelMu.Lock()
	channelID, inChannel := g.userChannelMap[evt.UserID]
	var previousActivity string
	if inChannel {
		if members, ok := g.channelMembers[channelID]; ok {
			if m, ok := members[evt.UserID]; ok {
				previousActivity = m.activityName
				m.activityName = evt.MemberHint.PrimaryGameActivityName()
				m.displayName = evt.MemberHint.DisplayName
			}
		}
	}
	g.channelMu.Unlock()
	if !inChannel {
		return
	}

	newActivity := evt.MemberHint.PrimaryGameActivityName()
	if newActivity == previousActivity {
		return
	}

	binding, err := g.bindings.Get(ctx, channelID)
	if err != nil || binding == nil || !binding.IsGeneralLobby() {
		return
	}

	currentGameID, err := g.adhoc.ResolveCurrentGame(ctx, evt.UserID, previousActivity)
	if err != nil {
		g.log.Warnw("failed to resolve previous game for switch", "userID", evt.UserID, "error", err)
		return
	}
	g.adhoc.HandleGameSwitch(ctx, binding, evt.UserID, evt.MemberHint.DisplayName, currentGameID, newActivity, time.Now())
}

func (g *Gateway) trackJoin(channelID, userID string, hint models.MemberHint) {
	g.channelMu.Lock()
	defer g.channelMu.Unlock()
	g.userChannelMap[userID] = channelID
	members, ok := g.channelMembers[channelID]
	if !ok {
		members = make(map[string]*memberState)
		g.channelMembers[channelID] = members
	}
	members[userID] = &memberState{displayName: hint.DisplayName, activityName: hint.PrimaryGameActivityName()}
}

func (g *Gateway) trackLeave(channelID, userID string) {
	g.channelMu.Lock()
	defer g.channelMu.Unlock()
	delete(g.userChannelMap, userID)
	if members, ok := g.channelMembers[channelID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(g.channelMembers, channelID)
		}
	}
}

// PresentMembers implements adhoc.ChannelRoster over the gateway's own
// tracked channel membership.
func (g *Gateway) PresentMembers(ctx context.Context, channelID string) ([]adhoc.PresentMember, error) {
	g.channelMu.Lock()
	defer g.channelMu.Unlock()
	members := g.channelMembers[channelID]
	out := make([]adhoc.PresentMember, 0, len(members))
	for userID, m := range members {
		out = append(out, adhoc.PresentMember{DiscordUserID: userID, DisplayName: m.displayName, ActivityName: m.activityName})
	}
	return out, nil
}

// Disconnect implements the §5 cancellation semantics for bot disconnect:
// cancel every pending debounce timer and flush the binding cache. The
// in-memory session table is deliberately left intact so Reconnect can diff
// it against live channel state.
func (g *Gateway) Disconnect() {
	g.pendingMu.Lock()
	for id, t := range g.pending {
		t.Stop()
		delete(g.pending, id)
	}
	g.latest = make(map[string]models.VoiceStateEvent)
	g.pendingMu.Unlock()

	g.bindings.Flush()
}

// Reconnect implements §4.2 startup recovery: for every occupied bound
// voice channel, synthesize a join per current occupant so in-memory state
// reconciles with live reality after a restart or reconnect.
func (g *Gateway) Reconnect(ctx context.Context, occupants map[string][]models.VoiceStateEvent) {
	now := time.Now()
	for channelID, events := range occupants {
		for _, evt := range events {
			g.handleChannelJoin(ctx, channelID, evt.UserID, evt.MemberHint, now)
		}
	}
}
