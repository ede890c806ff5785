/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package actor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nasarace/race-go/actor"
	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/wire"
)

type transformBehavior struct {
	actor.BaseBehavior
	mu   sync.Mutex
	last int
	out  *bus.Bus
	from string
	to   string
}

func (t *transformBehavior) Receive(msg any, sender string) {
	n, ok := msg.(int)
	if !ok {
		return
	}
	t.mu.Lock()
	t.last = n + 1
	t.mu.Unlock()
	if t.to != "" {
		t.out.Publish(t.to, t.last, sender)
	}
}

func (t *transformBehavior) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func startKernel(t *testing.T, ctx context.Context, path string, b *bus.Bus, reg *wire.Registry, behavior actor.Behavior) *actor.Kernel {
	t.Helper()
	k := actor.New(path, behavior, b, reg, 16)
	go k.Run(ctx)
	k.Tell(actor.Initialize{Ctx: ctx}, "/sys/controller")
	time.Sleep(5 * time.Millisecond)
	k.Tell(actor.Start{Originator: "/sys/controller"}, "/sys/controller")
	time.Sleep(5 * time.Millisecond)
	return k
}

func TestLinearPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New()
	reg := wire.NewRegistry()

	bBeh := &transformBehavior{out: b, to: "y"}
	cBeh := &transformBehavior{}

	bK := startKernel(t, ctx, "/u/B", b, reg, bBeh)
	cK := startKernel(t, ctx, "/u/C", b, reg, cBeh)

	b.Subscribe(bK, "x")
	b.Subscribe(cK, "y")

	b.Publish("x", 42, "/u/A")
	time.Sleep(20 * time.Millisecond)

	if got := cBeh.Last(); got != 44 {
		t.Fatalf("expected C.last == transform(transform(42)) == 44, got %d", got)
	}
	if bK.MsgCount() != 1 {
		t.Fatalf("expected B msgCount == 1, got %d", bK.MsgCount())
	}
	if cK.MsgCount() != 1 {
		t.Fatalf("expected C msgCount == 1, got %d", cK.MsgCount())
	}
}

func TestStatusNeverDecreasesExceptPauseResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New()
	reg := wire.NewRegistry()
	beh := &pauseableBehavior{}
	k := actor.New("/u/P", beh, b, reg, 8)
	go k.Run(ctx)

	k.Tell(actor.Initialize{Ctx: ctx}, "/sys/c")
	time.Sleep(5 * time.Millisecond)
	if k.Status() != actor.Initialized {
		t.Fatalf("expected Initialized, got %s", k.Status())
	}
	k.SetCapabilities(actor.SupportsPauseResume)
	k.Tell(actor.Start{Originator: "/sys/c"}, "/sys/c")
	time.Sleep(5 * time.Millisecond)
	if k.Status() != actor.Running {
		t.Fatalf("expected Running, got %s", k.Status())
	}
	reply := k.Ask(ctx, actor.Pause{Originator: "/sys/c"}, "/sys/c", time.Second)
	if _, ok := reply.(actor.PauseOK); !ok {
		t.Fatalf("expected PauseOK, got %+v", reply)
	}
	if k.Status() != actor.Paused {
		t.Fatalf("expected Paused, got %s", k.Status())
	}
	reply = k.Ask(ctx, actor.Resume{Originator: "/sys/c"}, "/sys/c", time.Second)
	if _, ok := reply.(actor.ResumeOK); !ok {
		t.Fatalf("expected ResumeOK, got %+v", reply)
	}
	if k.Status() != actor.Running {
		t.Fatalf("expected Running after resume, got %s", k.Status())
	}
}

type pauseableBehavior struct{ actor.BaseBehavior }

func TestPauseResumeDeniedWithoutCapability(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New()
	reg := wire.NewRegistry()
	k := actor.New("/u/P2", &pauseableBehavior{}, b, reg, 8)
	go k.Run(ctx)
	k.Tell(actor.Initialize{Ctx: ctx}, "/sys/c")
	time.Sleep(5 * time.Millisecond)
	k.Tell(actor.Start{Originator: "/sys/c"}, "/sys/c")
	time.Sleep(5 * time.Millisecond)

	reply := k.Ask(ctx, actor.Pause{Originator: "/sys/c"}, "/sys/c", time.Second)
	if _, ok := reply.(actor.PauseReject); !ok {
		t.Fatalf("expected PauseReject without SupportsPauseResume, got %+v", reply)
	}
	if k.Status() != actor.Running {
		t.Fatalf("status must be unchanged on reject, got %s", k.Status())
	}
}

func TestHeartbeatReplyNeverExceedsSentValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New()
	reg := wire.NewRegistry()
	k := actor.New("/u/H", &pauseableBehavior{}, b, reg, 8)
	go k.Run(ctx)
	k.Tell(actor.Initialize{Ctx: ctx}, "/sys/c")
	time.Sleep(5 * time.Millisecond)

	reply := k.Ask(ctx, wire.Ping{HeartBeat: 3, TPing: 100}, "/sys/monitor", time.Second)
	pong, ok := reply.(wire.Pong)
	if !ok {
		t.Fatalf("expected Pong, got %+v", reply)
	}
	if pong.HeartBeat > 3 {
		t.Fatalf("expected pong.HeartBeat <= 3, got %d", pong.HeartBeat)
	}
	if pong.MsgCount < 0 {
		t.Fatalf("msgCount must be non-negative, got %d", pong.MsgCount)
	}
}

func TestTerminationTimeoutRetainsOnlyMiddleChild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.New()
	reg := wire.NewRegistry()
	parent := actor.NewParent("/u/parent")

	mkChild := func(path string, blockTerminate bool) *actor.Kernel {
		beh := &blockingTerminateBehavior{block: blockTerminate}
		k := actor.New(path, beh, b, reg, 8)
		go k.Run(ctx)
		k.Tell(actor.Initialize{Ctx: ctx}, "/u/parent")
		time.Sleep(5 * time.Millisecond)
		parent.AddChild(k, nil)
		return k
	}

	mkChild("/u/parent/child1", false)
	middle := mkChild("/u/parent/child2", true)
	mkChild("/u/parent/child3", false)

	ok := parent.TerminateAndRemove(ctx, "/u/parent", 100*time.Millisecond)
	if ok {
		t.Fatal("expected TerminateAndRemove to return false while middle child is retained")
	}
	remaining := parent.Children()
	if len(remaining) != 1 || remaining[0].Path != middle.Path {
		t.Fatalf("expected only the middle child retained, got %v", remaining)
	}
}

type blockingTerminateBehavior struct {
	actor.BaseBehavior
	block bool
}

func (b *blockingTerminateBehavior) OnTerminate(originator string) bool {
	if b.block {
		time.Sleep(5 * time.Second) // exceeds the test's terminate-timeout
	}
	return true
}
