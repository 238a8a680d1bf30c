// Package engine wires every component package into one supervised process:
// the channel-binding cache, game-name resolver, consensus-backed ad-hoc
// engine, voice-attendance engine, voice-event gateway, scheduled-
// classification loop, and availability service, each running its own
// background loop under a shared errgroup so one component's failure
// cancels the rest cleanly.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raidledger/voiceengine/internal/adhoc"
	"github.com/raidledger/voiceengine/internal/attendance"
	"github.com/raidledger/voiceengine/internal/availability"
	"github.com/raidledger/voiceengine/internal/bindingcache"
	"github.com/raidledger/voiceengine/internal/classify"
	"github.com/raidledger/voiceengine/internal/config"
	"github.com/raidledger/voiceengine/internal/gateway"
	"github.com/raidledger/voiceengine/internal/models"
	"github.com/raidledger/voiceengine/internal/notify"
	"github.com/raidledger/voiceengine/internal/resolver"
	"github.com/raidledger/voiceengine/internal/sessiontable"
)

// RecoverableSessions lists attendance sessions left open in Postgres by an
// unclean shutdown, scoped to currently in-progress scheduled events. It is
// the persisted-state half of §4.2/§4.6 startup recovery; see Engine.Recover.
type RecoverableSessions interface {
	OpenSessions(ctx context.Context, now time.Time) ([]models.PersistedSession, error)
}

// Deps bundles the store-backed collaborators the supervisor wires into the
// engine packages. Each field is the narrow interface the owning package
// declares, so the caller can pass the same *store.XStore value to several
// fields or a fake in tests without the engine package depending on store
// directly.
type Deps struct {
	BindingLoader     bindingcache.Loader
	ResolverStore     resolver.Store
	OverrideStore     resolver.OverrideStore
	AdHocStore        adhoc.Store
	AttendanceStore   attendance.Store
	ClassifyStore     classify.Store
	AvailabilityStore availability.Store
	Renderer          notify.Renderer
	ScheduledEvents   gateway.ScheduledEventLookup
	OpenSessions      RecoverableSessions
}

// Engine is the fully wired, runnable voice-presence engine.
type Engine struct {
	cfg *config.Config
	log *zap.Logger

	openSessions RecoverableSessions

	Bindings     *bindingcache.Cache
	Resolver     *resolver.Resolver
	Table        *sessiontable.Table
	Batcher      *notify.Batcher
	AdHoc        *adhoc.Engine
	Attendance   *attendance.Engine
	Gateway      *gateway.Gateway
	Classify     *classify.Loop
	Availability *availability.Service
}

// New constructs every component but starts none of them; call Run to start
// the background loops.
func New(ctx context.Context, cfg *config.Config, deps Deps, log *zap.Logger) *Engine {
	bindings := bindingcache.New(deps.BindingLoader, cfg.BindingCacheTTL, log)
	res := resolver.New(ctx, deps.ResolverStore, deps.OverrideStore, cfg.ResolverCacheTTL, log)
	table := sessiontable.New()
	batcher := notify.New(cfg.CoalesceWindow, log)

	e := &Engine{cfg: cfg, log: log, openSessions: deps.OpenSessions, Bindings: bindings, Resolver: res, Table: table, Batcher: batcher}

	// gateway.Gateway implements adhoc.ChannelRoster over its own tracked
	// channel membership, so it is constructed before the ad-hoc engine and
	// wired in as that engine's roster collaborator.
	gw := gateway.New(bindings, nil, nil, deps.ScheduledEvents, cfg.VoiceDebounce, log)
	adhocEngine := adhoc.New(deps.AdHocStore, res, table, batcher, deps.Renderer, gw, log)
	attendanceEngine := attendance.New(table, deps.AttendanceStore, log)
	gw.Wire(adhocEngine, attendanceEngine)

	classifyLoop := classify.New(deps.ClassifyStore, table, attendanceEngine, cfg.ClassificationGrace, log)
	availabilityService := availability.New(deps.AvailabilityStore)

	e.AdHoc = adhocEngine
	e.Attendance = attendanceEngine
	e.Gateway = gw
	e.Classify = classifyLoop
	e.Availability = availabilityService
	return e
}

// Recover implements the persisted-state half of startup recovery (§4.2/
// §4.6): every attendance session left open in Postgres by an unclean
// shutdown is closed out and resumed in memory via attendance.Engine.Recover.
// Call this once after New and before Run starts its background loops.
//
// The other half of §4.2 (gateway.Gateway.Reconnect, re-synthesizing joins
// for members currently present in a bound voice channel) needs a live
// enumeration of channel occupants from the chat-service connection, which
// this repo never establishes — that adapter is out of scope here, so
// Reconnect is not called from this method. See DESIGN.md.
func (e *Engine) Recover(ctx context.Context, now time.Time) error {
	if e.openSessions == nil {
		return nil
	}
	sessions, err := e.openSessions.OpenSessions(ctx, now)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		key := models.SessionKey{EventID: s.EventID, DiscordUserID: s.DiscordUserID}
		if err := e.Attendance.Recover(ctx, key, s.DiscordUserID, s.DiscordUsername, now); err != nil {
			e.log.Sugar().Warnw("attendance recovery failed for session", "eventID", s.EventID, "userID", s.DiscordUserID, "error", err)
		}
	}
	return nil
}

// Run starts every background loop and blocks until ctx is cancelled or one
// loop returns an error. All loops run to completion (flushing/cancelling
// their own state) before Run returns, since none of them return early on
// their own — only ctx cancellation stops them.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.Bindings.Sweep(ctx, e.cfg.BindingSweepInterval)
		return nil
	})
	g.Go(func() error {
		e.Resolver.Sweep(ctx, e.cfg.ResolverSweepInterval)
		return nil
	})
	g.Go(func() error {
		e.Attendance.Run(ctx, e.cfg.AttendanceFlushInterval)
		return nil
	})
	g.Go(func() error {
		e.Classify.Run(ctx, e.cfg.ClassificationInterval)
		return nil
	})

	<-ctx.Done()
	e.Gateway.Disconnect()
	e.Batcher.CancelAll()
	e.Attendance.Flush(context.Background(), time.Now())
	return g.Wait()
}
