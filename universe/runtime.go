// Package universe tracks every live universe in the process: a table
// keyed by universe path, termination listeners, and an embedded-mode
// flag that keeps the process alive for test harnesses and multi-universe
// hosts after the last universe terminates.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package universe

import (
	"sync"

	"github.com/nasarace/race-go/master"
)

// Listener is notified when a universe terminates.
type Listener func(universePath string)

// Runtime is the live-universe table plus termination coordination.
type Runtime struct {
	mu        sync.Mutex
	universes map[string]*master.Master
	listeners []Listener
	embedded  bool
	exitFn    func()
}

// New constructs a Runtime. exitFn is called when the last universe
// terminates and embedded mode is off; production wiring passes
// os.Exit(0), tests pass a no-op or an observable stub.
func New(exitFn func()) *Runtime {
	if exitFn == nil {
		exitFn = func() {}
	}
	return &Runtime{universes: make(map[string]*master.Master), exitFn: exitFn}
}

// SetEmbedded toggles embedded mode: when true, the process never exits
// on last-universe-termination, for test harnesses and multi-universe
// hosts.
func (r *Runtime) SetEmbedded(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedded = v
}

// Register adds a live universe to the table.
func (r *Runtime) Register(path string, m *master.Master) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.universes[path] = m
}

// AddListener registers a termination listener.
func (r *Runtime) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Terminated removes path from the live table, notifies listeners, and
// exits the process iff it was the last universe and embedded mode is
// off.
func (r *Runtime) Terminated(path string) {
	r.mu.Lock()
	delete(r.universes, path)
	remaining := len(r.universes)
	embedded := r.embedded
	listeners := append([]Listener(nil), r.listeners...)
	exitFn := r.exitFn
	r.mu.Unlock()

	for _, l := range listeners {
		l(path)
	}
	if remaining == 0 && !embedded {
		exitFn()
	}
}

// Live returns the paths of every currently registered universe.
func (r *Runtime) Live() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.universes))
	for p := range r.universes {
		out = append(out, p)
	}
	return out
}

// Lookup returns the Master for a live universe path.
func (r *Runtime) Lookup(path string) (*master.Master, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.universes[path]
	return m, ok
}
