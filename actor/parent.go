/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package actor

import (
	"context"
	"sync"
	"time"

	"github.com/nasarace/race-go/cmn/nlog"
	"golang.org/x/sync/errgroup"
)

// childInfo is the actor metadata a parent holds per child.
type childInfo struct {
	kernel          *Kernel
	config          any
	lastPing        int64
	lastPong        int64
	unresponsive    bool
	restartsInWindow []time.Time
}

// retryWindow/maxRetries bound the one-for-one supervision strategy:
// at most maxRetries restarts per retryWindow.
const (
	retryWindow = time.Minute
	maxRetries  = 10
)

// Parent tracks its children as an ordered list, preserving creation
// order for reverse-order termination.
type Parent struct {
	path string
	log  *nlog.Logger

	mu       sync.Mutex
	order    []string // child paths, creation order
	children map[string]*childInfo
}

func NewParent(path string) *Parent {
	return &Parent{path: path, log: nlog.New(path), children: make(map[string]*childInfo)}
}

// AddChild registers k as a child. Idempotent by path. No death-watch is
// installed: a child that stops stays in the list until RemoveChild or
// TerminateAndRemove drops it.
func (p *Parent) AddChild(k *Kernel, config any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.children[k.Path]; ok {
		return
	}
	p.order = append(p.order, k.Path)
	p.children[k.Path] = &childInfo{kernel: k, config: config}
}

// RemoveChild drops the child from both the order list and the map.
func (p *Parent) RemoveChild(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeChildLocked(path)
}

func (p *Parent) removeChildLocked(path string) {
	delete(p.children, path)
	for i, c := range p.order {
		if c == path {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// StoppedChild marks a child unresponsive without removing it.
func (p *Parent) StoppedChild(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.children[path]; ok {
		c.unresponsive = true
	}
}

// Children returns child kernels in creation order.
func (p *Parent) Children() []*Kernel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Kernel, 0, len(p.order))
	for _, path := range p.order {
		out = append(out, p.children[path].kernel)
	}
	return out
}

func (p *Parent) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// AskChildren implements a synchronous fan-out protocol: send
// makeMsg(child) to every child concurrently, wait for each reply
// (or timeout), and succeed only if predicate holds for every reply. A
// timed-out or predicate-failing child does not cancel the other
// in-flight asks.
func (p *Parent) AskChildren(ctx context.Context, makeMsg func(k *Kernel) any, timeout time.Duration, predicate func(reply any) bool) bool {
	children := p.Children()
	if len(children) == 0 {
		return true
	}
	var g errgroup.Group
	results := make([]bool, len(children))
	for i, k := range children {
		i, k := i, k
		g.Go(func() error {
			reply := k.Ask(ctx, makeMsg(k), p.path, timeout)
			results[i] = predicate(reply)
			return nil
		})
	}
	_ = g.Wait() // askChildren never fails the group itself; failures are captured per-result
	ok := true
	for _, r := range results {
		if !r {
			ok = false
		}
	}
	return ok
}

// TerminateAndRemove iterates children in reverse creation order, asking
// each to Terminate and removing only those that confirm. It returns
// true iff the child list is empty afterward. Children are visited
// strictly in reverse order: the loop does not skip ahead on a retained
// child.
func (p *Parent) TerminateAndRemove(ctx context.Context, originator string, timeout time.Duration) bool {
	paths := p.reverseOrder()
	for _, path := range paths {
		p.mu.Lock()
		c, ok := p.children[path]
		p.mu.Unlock()
		if !ok {
			continue
		}
		reply := c.kernel.Ask(ctx, Terminate{Originator: originator}, p.path, timeout)
		switch reply.(type) {
		case Terminated:
			p.RemoveChild(path)
		case TerminateReject:
			p.log.Warningf("child %s rejected termination, retained for its own supervisor", path)
		case TerminateFailed:
			p.log.Warningf("child %s failed to terminate, retained for retry", path)
		case Timeout:
			p.log.Warningf("child %s timed out on terminate, retained for retry", path)
		default:
			p.log.Warningf("child %s returned unexpected terminate reply %T, retained", path, reply)
		}
	}
	return p.Len() == 0
}

func (p *Parent) reverseOrder() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	for i, path := range p.order {
		out[len(p.order)-1-i] = path
	}
	return out
}

// Supervise implements the one-for-one bounded-retry strategy: an
// initialization failure stops the offender outright; any other failure
// is logged and the actor resumes (the kernel is left running, since a
// crash inside a callback was already caught by Kernel.safeCall and
// never tore down the goroutine). The kernel never implicitly restarts
// a live actor, since a restart would re-trigger Initialize without
// honoring capability negotiation.
func (p *Parent) Supervise(path string, isInitFailure bool, reason error) {
	p.mu.Lock()
	c, ok := p.children[path]
	p.mu.Unlock()
	if !ok {
		return
	}
	if isInitFailure {
		p.log.Errorf("child %s failed initialization, stopping: %v", path, reason)
		p.StoppedChild(path)
		return
	}
	now := time.Now()
	p.mu.Lock()
	c.restartsInWindow = prune(c.restartsInWindow, now)
	c.restartsInWindow = append(c.restartsInWindow, now)
	exceeded := len(c.restartsInWindow) > maxRetries
	p.mu.Unlock()
	if exceeded {
		p.log.Errorf("child %s exceeded %d retries/%s, stopping", path, maxRetries, retryWindow)
		p.StoppedChild(path)
		return
	}
	p.log.Warningf("child %s raised %v, logged and resumed", path, reason)
}

func prune(ts []time.Time, now time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if now.Sub(t) <= retryWindow {
			out = append(out, t)
		}
	}
	return out
}
