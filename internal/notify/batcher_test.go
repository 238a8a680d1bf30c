package notify

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestQueueUpdateCoalescesRapidCalls(t *testing.T) {
	b := New(30*time.Millisecond, zap.NewNop())
	var renders int32

	for i := 0; i < 5; i++ {
		b.QueueUpdate("session-1", func(ctx context.Context) error {
			atomic.AddInt32(&renders, 1)
			return nil
		})
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&renders); got != 1 {
		t.Fatalf("expected exactly one coalesced render, got %d", got)
	}
}

func TestNotifyCompletedCancelsPendingAndRendersSynchronously(t *testing.T) {
	b := New(50*time.Millisecond, zap.NewNop())
	var updateRendered, completeRendered int32

	b.QueueUpdate("session-1", func(ctx context.Context) error {
		atomic.AddInt32(&updateRendered, 1)
		return nil
	})

	b.NotifyCompleted(context.Background(), "session-1", func(ctx context.Context) error {
		atomic.AddInt32(&completeRendered, 1)
		return nil
	})

	if got := atomic.LoadInt32(&completeRendered); got != 1 {
		t.Fatalf("expected completion render to run synchronously, got %d", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&updateRendered); got != 0 {
		t.Fatalf("expected pending update to be cancelled, got %d renders", got)
	}
}

func TestCancelAllStopsEveryTimer(t *testing.T) {
	b := New(20*time.Millisecond, zap.NewNop())
	var renders int32
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		b.QueueUpdate(id, func(ctx context.Context) error {
			atomic.AddInt32(&renders, 1)
			return nil
		})
	}
	b.CancelAll()
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&renders); got != 0 {
		t.Fatalf("expected no renders after CancelAll, got %d", got)
	}
}
