package bindingcache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/raidledger/voiceengine/internal/models"
)

type countingLoader struct {
	calls  int32
	result *models.ChannelBinding
	err    error
}

func (l *countingLoader) LoadBinding(ctx context.Context, channelID string) (*models.ChannelBinding, error) {
	atomic.AddInt32(&l.calls, 1)
	return l.result, l.err
}

func TestGetCachesPositiveResult(t *testing.T) {
	loader := &countingLoader{result: &models.ChannelBinding{ID: "b1", ChannelID: "c1"}}
	c := New(loader, time.Minute, zap.NewNop())

	for i := 0; i < 5; i++ {
		b, err := c.Get(context.Background(), "c1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b == nil || b.ID != "b1" {
			t.Fatalf("expected binding b1, got %+v", b)
		}
	}
	if got := atomic.LoadInt32(&loader.calls); got != 1 {
		t.Fatalf("expected loader called once, got %d", got)
	}
}

func TestGetCachesNegativeResult(t *testing.T) {
	loader := &countingLoader{result: nil}
	c := New(loader, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		b, err := c.Get(context.Background(), "unbound")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b != nil {
			t.Fatalf("expected nil binding for unbound channel")
		}
	}
	if got := atomic.LoadInt32(&loader.calls); got != 1 {
		t.Fatalf("expected loader called once for negative caching, got %d", got)
	}
}

func TestGetReloadsAfterExpiry(t *testing.T) {
	loader := &countingLoader{result: &models.ChannelBinding{ID: "b1"}}
	c := New(loader, 10*time.Millisecond, zap.NewNop())

	if _, err := c.Get(context.Background(), "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(context.Background(), "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&loader.calls); got != 2 {
		t.Fatalf("expected reload after expiry, got %d calls", got)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	loader := &countingLoader{result: &models.ChannelBinding{ID: "b1"}}
	c := New(loader, time.Minute, zap.NewNop())

	c.Get(context.Background(), "c1")
	c.Invalidate("c1")
	c.Get(context.Background(), "c1")

	if got := atomic.LoadInt32(&loader.calls); got != 2 {
		t.Fatalf("expected reload after invalidate, got %d calls", got)
	}
}

func TestFlushClearsEverything(t *testing.T) {
	loader := &countingLoader{result: &models.ChannelBinding{ID: "b1"}}
	c := New(loader, time.Minute, zap.NewNop())

	c.Get(context.Background(), "c1")
	c.Get(context.Background(), "c2")
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries before flush, got %d", c.Len())
	}
	c.Flush()
	if c.Len() != 0 {
		t.Fatalf("expected 0 entries after flush, got %d", c.Len())
	}
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	loader := &countingLoader{result: &models.ChannelBinding{ID: "b1"}}
	c := New(loader, 5*time.Millisecond, zap.NewNop())
	c.Get(context.Background(), "c1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go c.Sweep(ctx, 10*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	if c.Len() != 0 {
		t.Fatalf("expected sweep to evict expired entry, got %d remaining", c.Len())
	}
}
