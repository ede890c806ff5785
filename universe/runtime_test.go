/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package universe_test

import (
	"testing"

	"github.com/nasarace/race-go/universe"
)

func TestTerminatedLastUniverseExitsWhenNotEmbedded(t *testing.T) {
	exited := false
	r := universe.New(func() { exited = true })
	r.Register("/u1", nil)

	r.Terminated("/u1")

	if !exited {
		t.Fatal("expected process exit hook to fire when the last universe terminates outside embedded mode")
	}
}

func TestEmbeddedModeSuppressesExit(t *testing.T) {
	exited := false
	r := universe.New(func() { exited = true })
	r.SetEmbedded(true)
	r.Register("/u1", nil)

	r.Terminated("/u1")

	if exited {
		t.Fatal("expected embedded mode to suppress the process exit hook")
	}
}

func TestExitDeferredUntilLastUniverse(t *testing.T) {
	exited := false
	r := universe.New(func() { exited = true })
	r.Register("/u1", nil)
	r.Register("/u2", nil)

	r.Terminated("/u1")
	if exited {
		t.Fatal("must not exit while a universe is still live")
	}

	r.Terminated("/u2")
	if !exited {
		t.Fatal("expected exit once the last live universe terminates")
	}
}

func TestListenersNotifiedOnTermination(t *testing.T) {
	r := universe.New(func() {})
	r.SetEmbedded(true)
	r.Register("/u1", nil)

	var notified string
	r.AddListener(func(path string) { notified = path })

	r.Terminated("/u1")

	if notified != "/u1" {
		t.Fatalf("expected listener to observe /u1, got %q", notified)
	}
}

func TestLiveAndLookup(t *testing.T) {
	r := universe.New(func() {})
	r.SetEmbedded(true)
	r.Register("/u1", nil)

	live := r.Live()
	if len(live) != 1 || live[0] != "/u1" {
		t.Fatalf("expected [/u1], got %v", live)
	}
	if _, ok := r.Lookup("/u1"); !ok {
		t.Fatal("expected /u1 to be found")
	}
	r.Terminated("/u1")
	if _, ok := r.Lookup("/u1"); ok {
		t.Fatal("expected /u1 to be gone after termination")
	}
}
