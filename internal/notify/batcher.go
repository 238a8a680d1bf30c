// Package notify implements the notification batcher (§4.7): per-session
// debounced update coalescing for ad-hoc session membership changes, plus
// the synchronous completion render. The per-key timer map mirrors the
// debounce-timer-bundle pattern used elsewhere in this corpus for
// per-entity timers guarded by a single map mutex.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCoalesceWindow is the update-notification debounce window (§4.5).
const DefaultCoalesceWindow = 10 * time.Second

// Renderer is the abstract message-sending collaborator (§6): sendOrEdit.
// messageID is nil for a first post; the returned id is stored by the
// caller for subsequent edits. Idempotent: resending an edit with an
// identical payload is acceptable.
type Renderer interface {
	SendOrEdit(ctx context.Context, channelID string, messageID *string, payload interface{}) (string, error)
}

// RenderFunc performs one render. It is invoked with a fresh context
// detached from whatever triggered the queueing, since the debounce fire
// happens later on the batcher's own timer goroutine. Implementations
// re-read current state rather than closing over a stale snapshot, so the
// render always reflects the roster as of fire time.
type RenderFunc func(ctx context.Context) error

// Batcher owns per-session debounce timers for coalesced update renders.
type Batcher struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	window time.Duration
	log    *zap.SugaredLogger
}

// New constructs a Batcher. A zero window uses DefaultCoalesceWindow.
func New(window time.Duration, log *zap.Logger) *Batcher {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Batcher{
		timers: make(map[string]*time.Timer),
		window: window,
		log:    log.Sugar(),
	}
}

// QueueUpdate arms (or resets, if one is already pending) the debounce timer
// for sessionID. When the timer fires, render is invoked. Repeated calls
// within the window collapse into a single eventual render, per §4.5's
// "subsequent changes within 10s reset the countdown and merge into the
// same pending update".
func (b *Batcher) QueueUpdate(sessionID string, render RenderFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.timers[sessionID]; ok {
		t.Stop()
	}
	b.timers[sessionID] = time.AfterFunc(b.window, func() {
		b.mu.Lock()
		delete(b.timers, sessionID)
		b.mu.Unlock()

		if err := render(context.Background()); err != nil {
			b.log.Warnw("update render failed, swallowing per attendance-integrity contract", "sessionID", sessionID, "error", err)
		}
	})
}

// NotifyCompleted cancels any pending update timer for sessionID and runs
// the completion render synchronously, since a completion must not be lost
// to a race with a still-pending debounce fire.
func (b *Batcher) NotifyCompleted(ctx context.Context, sessionID string, render RenderFunc) {
	b.mu.Lock()
	if t, ok := b.timers[sessionID]; ok {
		t.Stop()
		delete(b.timers, sessionID)
	}
	b.mu.Unlock()

	if err := render(ctx); err != nil {
		b.log.Warnw("completion render failed, swallowing per attendance-integrity contract", "sessionID", sessionID, "error", err)
	}
}

// Cancel stops any pending timer for sessionID without rendering, for a
// session abandoned before its debounce window elapses. Nothing in the
// engine calls it at present.
func (b *Batcher) Cancel(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[sessionID]; ok {
		t.Stop()
		delete(b.timers, sessionID)
	}
}

// CancelAll stops every pending timer — called on gateway disconnect (§5).
func (b *Batcher) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
}

// Pending reports whether sessionID currently has an armed timer, for tests
// and metrics.
func (b *Batcher) Pending(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.timers[sessionID]
	return ok
}
