package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdibella/kalshi-signal-bot/internal/orchestrator"
)

type fakeFeed struct {
	runCalls   int32
	closeCalls int32
	runBlocks  chan struct{}
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{runBlocks: make(chan struct{})}
}

func (f *fakeFeed) Run(ctx context.Context) error {
	atomic.AddInt32(&f.runCalls, 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.runBlocks:
		return nil
	}
}

func (f *fakeFeed) Close() error {
	atomic.AddInt32(&f.closeCalls, 1)
	close(f.runBlocks)
	return nil
}

func TestSupervisorShutsDownFeedsOnCancel(t *testing.T) {
	feed := newFakeFeed()
	o := &orchestrator.Orchestrator{}
	s := &Supervisor{
		Feeds:        []Feed{feed},
		Orchestrator: o,
		PollInterval: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	// give goroutines a moment to start.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not shut down after cancellation")
	}

	if atomic.LoadInt32(&feed.runCalls) != 1 {
		t.Fatalf("expected feed Run called once, got %d", feed.runCalls)
	}
	if atomic.LoadInt32(&feed.closeCalls) != 1 {
		t.Fatalf("expected feed Close called once, got %d", feed.closeCalls)
	}
}

func TestSupervisorDispatchesCommands(t *testing.T) {
	o := &orchestrator.Orchestrator{}
	cmds := make(chan Command, 4)
	s := &Supervisor{
		Orchestrator: o,
		Commands:     cmds,
		PollInterval: time.Hour,
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()

	cmds <- Command{Kind: "pause"}
	time.Sleep(20 * time.Millisecond)

	if _, paused, _ := o.Status(); !paused {
		t.Fatal("expected orchestrator paused after pause command")
	}

	cmds <- Command{Kind: "resume"}
	time.Sleep(20 * time.Millisecond)
	if _, paused, _ := o.Status(); paused {
		t.Fatal("expected orchestrator resumed after resume command")
	}

	cancel()
	wg.Wait()
}
