/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package monitor_test

import (
	"testing"
	"time"

	"github.com/nasarace/race-go/hk"
	"github.com/nasarace/race-go/monitor"
	"github.com/nasarace/race-go/wire"
)

func TestHandlePongUpdatesStatsAndClearsUnresponsive(t *testing.T) {
	m := monitor.New("/u/monitor", func(string, any, string) {}, time.Hour, nil)
	m.Register("/u/actorA", 0)

	m.HandlePong("/u/actorA", wire.Pong{HeartBeat: 0, TPing: 0, MsgCount: 3})

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one registered actor, got %d", len(snap))
	}
	if snap[0].MsgCount != 3 {
		t.Fatalf("expected msgCount 3, got %d", snap[0].MsgCount)
	}
	if snap[0].Unresponsive {
		t.Fatal("expected not unresponsive after a Pong")
	}
}

func TestPongNeverExceedsCurrentHeartBeat(t *testing.T) {
	m := monitor.New("/u/monitor", func(string, any, string) {}, time.Hour, nil)
	m.Register("/u/actorA", 0)

	// Fabricate a Pong claiming a heartbeat ahead of anything the monitor
	// has sent; it must be rejected, not silently accepted.
	m.HandlePong("/u/actorA", wire.Pong{HeartBeat: 999, TPing: 0, MsgCount: 1})
	snap := m.Snapshot()
	if snap[0].HeartBeat != 0 {
		t.Fatalf("expected out-of-range pong to be ignored, got heartbeat=%d", snap[0].HeartBeat)
	}
}

func TestTickMarksNonRespondersUnresponsive(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()

	sent := make(chan string, 8)
	m := monitor.New("/u/monitor", func(path string, msg any, sender string) {
		sent <- path
	}, 10*time.Millisecond, nil)
	m.Register("/u/responder", 0)
	m.Register("/u/silent", 0)

	stop := m.Start()
	defer stop()

	// Let the first tick fire (both actors pinged), then answer only one.
	<-sent
	<-sent
	m.HandlePong("/u/responder", wire.Pong{HeartBeat: 1, TPing: 0, MsgCount: 1})

	// Second tick: the silent actor is marked and skipped, so only the
	// responder is pinged.
	<-sent

	snap := m.Snapshot()
	byPath := map[string]bool{}
	for _, s := range snap {
		byPath[s.Path] = s.Unresponsive
	}
	if byPath["/u/responder"] {
		t.Fatal("responder must not be marked unresponsive")
	}
	if !byPath["/u/silent"] {
		t.Fatal("expected silent actor to be marked unresponsive after missing a cycle")
	}
}

func TestLatencyStatsNonNegativeAndStable(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()

	sent := make(chan string, 8)
	m := monitor.New("/u/monitor2", func(path string, msg any, sender string) {
		sent <- path
	}, 10*time.Millisecond, nil)
	m.Register("/u/actorA", 0)
	stop := m.Start()
	defer stop()

	<-sent // first ping sent; lastPingSent is now set
	m.HandlePong("/u/actorA", wire.Pong{HeartBeat: 1, MsgCount: 1})

	<-sent // second tick's ping
	m.HandlePong("/u/actorA", wire.Pong{HeartBeat: 2, MsgCount: 2})

	snap := m.Snapshot()
	if snap[0].LastLatency.Min < 0 || snap[0].LastLatency.Max < 0 {
		t.Fatalf("expected non-negative latency bounds, got %+v", snap[0].LastLatency)
	}
	if snap[0].LastLatency.Count != 2 {
		t.Fatalf("expected 2 latency samples, got %d", snap[0].LastLatency.Count)
	}
}
