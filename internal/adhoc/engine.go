// Package adhoc implements the ad-hoc session state machine (§4.5): spawn,
// grace-period dissolution, game-switch migration, and membership-update
// notification coalescing, for voice channels that are either bound to a
// single game or left as a general lobby whose game is inferred from member
// presence.
//
// Locking follows §5: a per-bindingId lock (not per-game) guards the
// AdHocSessionState map for that binding, because general-lobby channels
// must create or migrate sessions across games atomically. The engine may
// acquire a sessiontable lock while holding a binding lock; never the
// reverse.
package adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/consensus"
	"github.com/raidledger/voiceengine/internal/metrics"
	"github.com/raidledger/voiceengine/internal/models"
	"github.com/raidledger/voiceengine/internal/notify"
	"github.com/raidledger/voiceengine/internal/roster"
	"github.com/raidledger/voiceengine/internal/sessiontable"
)

// Store is the persistence surface the ad-hoc engine needs.
type Store interface {
	SpawnEvent(ctx context.Context, bindingID string, gameID *int64, gameName string, start time.Time) (eventID string, err error)
	CompleteEvent(ctx context.Context, eventID string, endTime time.Time) error
	UpsertSession(ctx context.Context, session models.PersistedSession) error
	GameNameByID(ctx context.Context, gameID int64) (string, error)
}

// PresentMember is one voice-channel occupant as the gateway currently knows
// them: their last-observed "playing" activity name, if any.
type PresentMember struct {
	DiscordUserID string
	DisplayName   string
	ActivityName  string
}

// ChannelRoster supplies the full occupant list of a voice channel, needed
// when a general lobby crosses its spawn threshold and must run consensus
// over everyone present, not just the triggering joiner.
type ChannelRoster interface {
	PresentMembers(ctx context.Context, channelID string) ([]PresentMember, error)
}

// Resolver is the subset of resolver.Resolver the engine depends on.
type Resolver interface {
	Resolve(ctx context.Context, userID, activityName string) (models.GameResolution, error)
}

// Engine runs the §4.5 state machine.
type Engine struct {
	store    Store
	resolver Resolver
	table    *sessiontable.Table
	batcher  *notify.Batcher
	renderer notify.Renderer
	roster   ChannelRoster
	log      *zap.SugaredLogger

	locksMu      sync.Mutex
	bindingLocks map[string]*sync.Mutex

	statesMu sync.Mutex
	states   map[models.AdHocKey]*models.AdHocSessionState

	timersMu    sync.Mutex
	graceTimers map[models.AdHocKey]*time.Timer
}

// New constructs an ad-hoc Engine.
func New(store Store, resolver Resolver, table *sessiontable.Table, batcher *notify.Batcher, renderer notify.Renderer, roster ChannelRoster, log *zap.Logger) *Engine {
	return &Engine{
		store:        store,
		resolver:     resolver,
		table:        table,
		batcher:      batcher,
		renderer:     renderer,
		roster:       roster,
		log:          log.Sugar(),
		bindingLocks: make(map[string]*sync.Mutex),
		states:       make(map[models.AdHocKey]*models.AdHocSessionState),
		graceTimers:  make(map[models.AdHocKey]*time.Timer),
	}
}

func (e *Engine) lockFor(bindingID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.bindingLocks[bindingID]
	if !ok {
		l = &sync.Mutex{}
		e.bindingLocks[bindingID] = l
	}
	return l
}

func (e *Engine) state(key models.AdHocKey) (*models.AdHocSessionState, bool) {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	s, ok := e.states[key]
	return s, ok
}

func (e *Engine) getOrCreateState(key models.AdHocKey, gameID *int64, gameName string, now time.Time) *models.AdHocSessionState {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	s, ok := e.states[key]
	if !ok {
		s = models.NewAdHocSessionState(key.BindingID, gameID, gameName, "", now)
		e.states[key] = s
	}
	return s
}

func (e *Engine) dropState(key models.AdHocKey) {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	delete(e.states, key)
}

// HandleGameSpecificJoin processes a join into a voice-monitor binding that
// names a fixed game — no presence resolution or consensus is involved, the
// binding itself decides the game.
func (e *Engine) HandleGameSpecificJoin(ctx context.Context, binding *models.ChannelBinding, discordUserID, displayName string, now time.Time) error {
	if binding.GameID == nil {
		return fmt.Errorf("adhoc: HandleGameSpecificJoin called on binding %s with no fixed game", binding.ID)
	}
	lock := e.lockFor(binding.ID)
	lock.Lock()
	defer lock.Unlock()

	gameName, err := e.store.GameNameByID(ctx, *binding.GameID)
	if err != nil {
		e.log.Warnw("game name lookup failed", "gameID", *binding.GameID, "error", err)
		gameName = fmt.Sprintf("game #%d", *binding.GameID)
	}

	key := models.KeyForGame(binding.ID, binding.GameID)
	state := e.getOrCreateState(key, binding.GameID, gameName, now)
	if state.GraceArmed {
		metrics.AdHocSessionsRescued.Inc()
	}
	e.cancelGrace(key)
	state.GraceArmed = false
	state.MemberSet[discordUserID] = struct{}{}
	state.LastExtendedAt = now

	return e.afterJoinAdded(ctx, binding, key, state, discordUserID, displayName, now)
}

func (e *Engine) afterJoinAdded(ctx context.Context, binding *models.ChannelBinding, key models.AdHocKey, state *models.AdHocSessionState, discordUserID, displayName string, now time.Time) error {
	cfg := binding.Config.WithDefaults()
	if state.EventID == "" {
		if len(state.MemberSet) < cfg.MinPlayers {
			return nil
		}
		return e.spawn(ctx, binding, key, state, now)
	}

	e.table.Open(models.SessionKey{EventID: state.EventID, DiscordUserID: discordUserID}, models.SessionKindAdHoc, discordUserID, displayName, now)
	e.queueUpdate(ctx, binding, key)
	return nil
}

func (e *Engine) spawn(ctx context.Context, binding *models.ChannelBinding, key models.AdHocKey, state *models.AdHocSessionState, now time.Time) error {
	eventID, err := e.store.SpawnEvent(ctx, binding.ID, state.GameID, state.GameName, now)
	if err != nil {
		return fmt.Errorf("adhoc: spawn event: %w", err)
	}
	state.EventID = eventID
	state.SpawnedAt = now
	metrics.AdHocSessionsSpawned.Inc()

	for memberID := range state.MemberSet {
		e.table.Open(models.SessionKey{EventID: eventID, DiscordUserID: memberID}, models.SessionKindAdHoc, memberID, memberID, now)
	}

	members := make([]string, 0, len(state.MemberSet))
	for m := range state.MemberSet {
		members = append(members, m)
	}
	payload := models.SpawnPayload{EventID: eventID, GameName: state.GameName, Members: members}

	msgID, err := e.renderer.SendOrEdit(ctx, binding.Config.NotificationChannelID, nil, payload)
	if err != nil {
		e.log.Warnw("spawn notification failed, swallowing", "eventID", eventID, "error", err)
	} else {
		state.NotificationMsgID = msgID
		metrics.NotificationsSent.Inc()
	}
	return nil
}

// HandleGeneralLobbyJoin processes a join into a general-lobby binding,
// where the game is inferred from presence (§4.5 "General-lobby semantics").
func (e *Engine) HandleGeneralLobbyJoin(ctx context.Context, binding *models.ChannelBinding, discordUserID, displayName, activityName string, now time.Time) error {
	lock := e.lockFor(binding.ID)
	lock.Lock()
	defer lock.Unlock()

	cfg := binding.Config.WithDefaults()
	resolution, err := e.resolver.Resolve(ctx, discordUserID, activityName)
	if err != nil {
		return fmt.Errorf("adhoc: resolve presence: %w", err)
	}

	if resolution.Untitled() {
		if !cfg.AllowJustChatting {
			// Tracked only for future presence changes, not assigned to any
			// session — the gateway's userChannelMap already records this.
			return nil
		}
		resolution = models.GameResolution{GameID: nil, GameName: "Just Chatting"}
	}

	key := models.KeyForGame(binding.ID, resolution.GameID)
	if state, ok := e.state(key); ok && state.EventID != "" {
		// (ii) an event already exists for this game: attach directly.
		if state.GraceArmed {
			metrics.AdHocSessionsRescued.Inc()
		}
		e.cancelGrace(key)
		state.GraceArmed = false
		state.MemberSet[discordUserID] = struct{}{}
		state.LastExtendedAt = now
		return e.afterJoinAdded(ctx, binding, key, state, discordUserID, displayName, now)
	}

	state := e.getOrCreateState(key, resolution.GameID, resolution.GameName, now)
	state.MemberSet[discordUserID] = struct{}{}
	state.LastExtendedAt = now

	if len(state.MemberSet) < cfg.MinPlayers {
		return nil
	}

	// (i) threshold crossed: re-run consensus over the full present roster
	// rather than spawning this pending bucket verbatim, since other
	// members in the channel may be playing something else entirely.
	return e.runConsensusAndSpawn(ctx, binding, now)
}

func (e *Engine) runConsensusAndSpawn(ctx context.Context, binding *models.ChannelBinding, now time.Time) error {
	cfg := binding.Config.WithDefaults()
	members, err := e.roster.PresentMembers(ctx, binding.ChannelID)
	if err != nil {
		return fmt.Errorf("adhoc: list channel roster: %w", err)
	}

	presences := make([]models.MemberPresence, 0, len(members))
	for _, m := range members {
		res, err := e.resolver.Resolve(ctx, m.DiscordUserID, m.ActivityName)
		if err != nil {
			e.log.Warnw("presence resolution failed during consensus, excluding member", "userID", m.DiscordUserID, "error", err)
			continue
		}
		if res.Untitled() {
			if !cfg.AllowJustChatting {
				continue
			}
			res = models.GameResolution{GameID: nil, GameName: "Just Chatting"}
		}
		presences = append(presences, models.MemberPresence{DiscordUserID: m.DiscordUserID, Resolution: res})
	}

	for _, group := range consensus.Detect(presences) {
		gKey := models.KeyForGame(binding.ID, group.GameID)
		gState := e.getOrCreateState(gKey, group.GameID, group.GameName, now)
		for _, memberID := range group.MemberIDs {
			gState.MemberSet[memberID] = struct{}{}
		}
		gState.LastExtendedAt = now
		if gState.EventID == "" && len(gState.MemberSet) >= cfg.MinPlayers {
			if err := e.spawn(ctx, binding, gKey, gState, now); err != nil {
				e.log.Warnw("spawn failed during consensus resolution", "bindingID", binding.ID, "error", err)
			}
		}
	}
	return nil
}

// HandleLeave processes a leave for discordUserID from the session
// identified by (binding, gameID). gameID is nil for general-lobby
// untitled/just-chatting sessions and for binding-fixed sessions without a
// game, matching models.KeyForGame.
func (e *Engine) HandleLeave(ctx context.Context, binding *models.ChannelBinding, gameID *int64, discordUserID string, now time.Time) error {
	lock := e.lockFor(binding.ID)
	lock.Lock()
	defer lock.Unlock()

	key := models.KeyForGame(binding.ID, gameID)
	state, ok := e.state(key)
	if !ok {
		return nil
	}

	delete(state.MemberSet, discordUserID)
	if state.EventID != "" {
		e.table.Close(models.SessionKey{EventID: state.EventID, DiscordUserID: discordUserID}, now)
	}

	if len(state.MemberSet) > 0 {
		if state.EventID != "" {
			e.queueUpdate(ctx, binding, key)
		}
		return nil
	}

	if state.EventID == "" {
		// Never crossed the spawn threshold; nothing to dissolve.
		e.dropState(key)
		return nil
	}

	cfg := binding.Config.WithDefaults()
	gracePeriod := time.Duration(cfg.GracePeriodSec) * time.Second
	state.GraceArmed = true
	state.GraceStartedAt = now
	state.GraceDeadline = now.Add(gracePeriod)
	e.armGrace(binding, key, gracePeriod)
	return nil
}

func (e *Engine) armGrace(binding *models.ChannelBinding, key models.AdHocKey, gracePeriod time.Duration) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.graceTimers[key]; ok {
		t.Stop()
	}
	e.graceTimers[key] = time.AfterFunc(gracePeriod, func() {
		e.timersMu.Lock()
		delete(e.graceTimers, key)
		e.timersMu.Unlock()
		e.complete(context.Background(), binding, key)
	})
}

func (e *Engine) cancelGrace(key models.AdHocKey) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.graceTimers[key]; ok {
		t.Stop()
		delete(e.graceTimers, key)
	}
}

func (e *Engine) complete(ctx context.Context, binding *models.ChannelBinding, key models.AdHocKey) {
	lock := e.lockFor(binding.ID)
	lock.Lock()
	defer lock.Unlock()

	state, ok := e.state(key)
	if !ok || !state.GraceArmed {
		// Rescued (a join re-armed ACTIVE) before the timer could fire, or
		// already completed by a racing callback.
		return
	}

	now := time.Now()
	sessions := e.table.SnapshotEvent(state.EventID, now)
	durations := make(map[string]float64, len(sessions))
	for _, s := range sessions {
		if err := e.store.UpsertSession(ctx, toPersisted(s)); err != nil {
			e.log.Warnw("ad-hoc session flush failed on completion", "eventID", state.EventID, "userID", s.DiscordUserID, "error", err)
			continue
		}
		e.table.ClearDirty(s.Key)
		durations[s.DiscordUserID] = s.TotalDurationSec
	}

	if err := e.store.CompleteEvent(ctx, state.EventID, state.GraceStartedAt); err != nil {
		e.log.Warnw("ad-hoc event completion write failed", "eventID", state.EventID, "error", err)
	}
	metrics.AdHocSessionsCompleted.Inc()

	eventID := state.EventID
	gameName := state.GameName
	e.batcher.NotifyCompleted(ctx, eventID, func(ctx context.Context) error {
		payload := models.CompletionPayload{EventID: eventID, GameName: gameName, Durations: durations}
		_, err := e.renderer.SendOrEdit(ctx, binding.Config.NotificationChannelID, nil, payload)
		if err == nil {
			metrics.NotificationsSent.Inc()
		}
		return err
	})

	e.table.DeleteEvent(eventID)
	e.dropState(key)
}

// queueUpdate arms (or refreshes) the coalesced update render for the
// session at key. The render closure re-reads live state at fire time
// rather than closing over a stale snapshot, per §4.5's "current roster
// snapshot" requirement.
func (e *Engine) queueUpdate(ctx context.Context, binding *models.ChannelBinding, key models.AdHocKey) {
	state, ok := e.state(key)
	if !ok || state.EventID == "" {
		return
	}
	eventID := state.EventID

	e.batcher.QueueUpdate(eventID, func(ctx context.Context) error {
		lock := e.lockFor(binding.ID)
		lock.Lock()
		s, ok := e.states[key]
		if !ok || s.EventID != eventID {
			lock.Unlock()
			return nil
		}
		gameName := s.GameName
		var msgID *string
		if s.NotificationMsgID != "" {
			v := s.NotificationMsgID
			msgID = &v
		}
		lock.Unlock()

		sessions := e.table.SnapshotEvent(eventID, time.Now())
		r := roster.Build(eventID, sessions)
		payload := models.UpdatePayload{EventID: eventID, GameName: gameName, Roster: r}

		newID, err := e.renderer.SendOrEdit(ctx, binding.Config.NotificationChannelID, msgID, payload)
		if err != nil {
			return err
		}
		metrics.NotificationsSent.Inc()

		lock.Lock()
		if s2, ok := e.states[key]; ok && s2.EventID == eventID {
			s2.NotificationMsgID = newID
		}
		lock.Unlock()
		return nil
	})
}

// ResolveCurrentGame resolves activityName the same way the engine's own
// pipeline would, for callers (the gateway) that need to reconstruct which
// ad-hoc key a member's previous presence mapped to.
func (e *Engine) ResolveCurrentGame(ctx context.Context, userID, activityName string) (*int64, error) {
	resolution, err := e.resolver.Resolve(ctx, userID, activityName)
	if err != nil {
		return nil, err
	}
	return resolution.GameID, nil
}

// HandleGameSwitch implements §4.5's game-switch migration: a presence
// activity change for a general-lobby member currently attached to
// currentGameID. The member is detached (leave rules applied to the old
// session) and re-attached via the normal general-lobby join path, which
// spawns a new session for the new game only once its own threshold is met.
func (e *Engine) HandleGameSwitch(ctx context.Context, binding *models.ChannelBinding, discordUserID, displayName string, currentGameID *int64, newActivityName string, now time.Time) error {
	if err := e.HandleLeave(ctx, binding, currentGameID, discordUserID, now); err != nil {
		return fmt.Errorf("adhoc: detach for game switch: %w", err)
	}
	return e.HandleGeneralLobbyJoin(ctx, binding, discordUserID, displayName, newActivityName, now)
}

func toPersisted(s models.InMemorySession) models.PersistedSession {
	var lastLeave *time.Time
	if !s.IsActive && !s.LastLeaveAt.IsZero() {
		t := s.LastLeaveAt
		lastLeave = &t
	}
	return models.PersistedSession{
		EventID:          s.Key.EventID,
		UserID:           s.InternalUserID,
		DiscordUserID:    s.DiscordUserID,
		DiscordUsername:  s.DisplayName,
		FirstJoinAt:      s.FirstJoinAt,
		LastLeaveAt:      lastLeave,
		TotalDurationSec: s.TotalDurationSec,
		Segments:         s.Segments,
		Classification:   s.Classification,
	}
}
