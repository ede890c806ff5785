// Package actor implements the ActorKernel and ParentActor/Supervisor: a
// single-mailbox state machine with a system/user handler split, and a
// parent-side ordered child registry with synchronous fan-out and
// reverse-order termination.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package actor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/cmn/cos"
	"github.com/nasarace/race-go/cmn/debug"
	"github.com/nasarace/race-go/cmn/nlog"
	"github.com/nasarace/race-go/wire"
)

// Behavior is the concrete actor's business logic, invoked by the kernel
// for both lifecycle callbacks and user messages. Every lifecycle hook
// returns a boolean; false rejects the transition.
type Behavior interface {
	OnInitialize(ctx context.Context, cfg any) bool
	OnStart(originator string) bool
	OnPause(originator string) bool
	OnResume(originator string) bool
	OnTerminate(originator string) bool
	OnSyncWithRaceClock()
	Receive(msg any, sender string)
}

// BaseBehavior gives embedders default (accepting, no-op) lifecycle
// hooks so a concrete actor only needs to override what it cares about.
type BaseBehavior struct{}

func (BaseBehavior) OnInitialize(context.Context, any) bool { return true }
func (BaseBehavior) OnStart(string) bool                    { return true }
func (BaseBehavior) OnPause(string) bool                    { return true }
func (BaseBehavior) OnResume(string) bool                   { return true }
func (BaseBehavior) OnTerminate(string) bool                { return true }
func (BaseBehavior) OnSyncWithRaceClock()                   {}
func (BaseBehavior) Receive(any, string)                    {}

type msgKind int

const (
	sysMsg msgKind = iota
	userMsg
)

// envelope is one mailbox entry. ReplyTo, if non-nil, is closed over by
// the sender's ask and receives at most one value: the reply to a
// recognized system message. Messages dropped before initialization or
// passed to the user handler get no reply, and the ask times out.
type envelope struct {
	kind    msgKind
	payload any
	sender  string
	replyTo chan any
}

// Lifecycle system messages.
type (
	Initialize struct {
		Ctx    context.Context
		Config any
	}
	Initialized struct{ Caps Capabilities }
	Start       struct{ Originator string }
	Started     struct{}
	Pause       struct{ Originator string }
	PauseOK     struct{}
	PauseReject struct{}
	Resume      struct{ Originator string }
	ResumeOK    struct{}
	Terminate   struct{ Originator string }
	Terminated  struct{}
	TerminateReject struct{}
	TerminateFailed struct{ Reason error }
	SyncClock       struct{}
	ExecFn          struct{ Fn func() }
	Timeout         struct{}
)

// Handler is the user-swappable single-level override.
type Handler func(msg any, sender string)

// Kernel is the ActorKernel: one mailbox, processed by one goroutine, in
// arrival order.
type Kernel struct {
	Path string
	ID   uint64

	behavior Behavior
	bus      *bus.Bus
	reg      *wire.Registry
	log      *nlog.Logger

	mailbox chan envelope
	done    chan struct{}

	mu            sync.Mutex
	status        Status
	caps          Capabilities
	userHandler   Handler
	heartBeat     int64
	msgCount      int64
	unresponsive  bool

	heartbeatInterval time.Duration
}

var mailboxSeq int64

// New constructs a Kernel bound to path, wired to bus and reg. mailboxSize
// bounds the channel; a full mailbox applies backpressure to the sender,
// matching "publish is non-blocking" being a bus-level, not a kernel-level,
// guarantee.
func New(path string, behavior Behavior, b *bus.Bus, reg *wire.Registry, mailboxSize int) *Kernel {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	return &Kernel{
		Path:     path,
		ID:       uint64(atomic.AddInt64(&mailboxSeq, 1)),
		behavior: behavior,
		bus:      b,
		reg:      reg,
		log:      nlog.New(path),
		mailbox:  make(chan envelope, mailboxSize),
		done:     make(chan struct{}),
		status:   Initializing,
	}
}

func (k *Kernel) SubscriberID() string { return k.Path }

// Deliver implements bus.Subscriber: every bus delivery is a UserEvent or
// SysEvent ChannelMessage, enqueued on the mailbox. When the mailbox is
// full, Deliver blocks the publisher until space frees up or the actor
// stops (see New).
func (k *Kernel) Deliver(msg bus.Message) {
	kind := userMsg
	if msg.Kind == bus.SysEvent {
		kind = sysMsg
	}
	k.enqueue(envelope{kind: kind, payload: msg.Payload, sender: msg.Sender})
}

// Tell enqueues a directed system message.
func (k *Kernel) Tell(msg any, sender string) {
	k.enqueue(envelope{kind: sysMsg, payload: msg, sender: sender})
}

// Ask sends msg and blocks the caller until a reply arrives or timeout
// elapses, surfacing Timeout{} on expiry.
func (k *Kernel) Ask(ctx context.Context, msg any, sender string, timeout time.Duration) any {
	reply := make(chan any, 1)
	k.enqueue(envelope{kind: sysMsg, payload: msg, sender: sender, replyTo: reply})
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case v := <-reply:
		return v
	case <-ctx.Done():
		return Timeout{}
	}
}

func (k *Kernel) enqueue(e envelope) {
	select {
	case k.mailbox <- e:
	case <-k.done:
	}
}

// Status returns the actor's current lifecycle status.
func (k *Kernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// Capabilities returns the actor's reported capability set (meaningful
// only once Status >= Initialized).
func (k *Kernel) Capabilities() Capabilities {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.caps
}

// SetHandler installs the single-level user handler swap.
func (k *Kernel) SetHandler(h Handler) { k.mu.Lock(); k.userHandler = h; k.mu.Unlock() }

// GetHandler returns the currently installed swap, or nil.
func (k *Kernel) GetHandler() Handler { k.mu.Lock(); defer k.mu.Unlock(); return k.userHandler }

func (k *Kernel) setStatus(to Status) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !validTransition(k.status, to) {
		debug.Assertf(false, "invalid transition %s -> %s for %s", k.status, to, k.Path)
		return false
	}
	k.status = to
	return true
}

// Run drives the mailbox loop until Terminated or ctx is cancelled. It is
// meant to run on its own goroutine, one per actor.
func (k *Kernel) Run(ctx context.Context) {
	defer close(k.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-k.mailbox:
			k.dispatch(ctx, e)
			if k.Status() == Terminated {
				return
			}
		}
	}
}

func (k *Kernel) dispatch(ctx context.Context, e envelope) {
	status := k.Status()
	if status == Initializing {
		switch e.payload.(type) {
		case Initialize, Terminate:
			// fall through
		default:
			k.log.Warningf("dropping pre-init message %T from %s", e.payload, e.sender)
			return
		}
	}

	reply := k.dispatchSystem(ctx, e)
	if reply != nil {
		if e.replyTo != nil {
			e.replyTo <- reply
		}
		return
	}

	if e.kind == sysMsg {
		// Unrecognized system message with no reply: it wasn't one of the
		// kernel's own lifecycle/heartbeat types, so hand it to the user
		// handler (without counting it in msgCount).
		if handled := k.tryUserFallback(e); handled {
			return
		}
		return
	}

	atomic.AddInt64(&k.msgCount, 1)
	k.invokeUser(e)
}

// dispatchSystem handles the fixed set of kernel-owned system messages.
// It returns a non-nil reply when e.payload was recognized (even if the
// reply itself communicates rejection), so dispatch can route it back
// through e.replyTo and otherwise fall through to the user handler.
func (k *Kernel) dispatchSystem(ctx context.Context, e envelope) any {
	switch m := e.payload.(type) {
	case Initialize:
		ok := k.safeCall(func() bool { return k.behavior.OnInitialize(m.Ctx, m.Config) })
		if ok {
			k.setStatus(Initialized)
			return Initialized{Caps: k.Capabilities()}
		}
		return cos.NewInitializationFailure(k.Path, nil)

	case Start:
		if k.Status() != Initialized && k.Status() != Started {
			return cos.NewStartFailure(k.Path, fmt.Errorf("start from status %s", k.Status()))
		}
		ok := k.safeCall(func() bool { return k.behavior.OnStart(m.Originator) })
		if ok {
			k.setStatus(Started)
			k.setStatus(Running)
			return Started{}
		}
		return cos.NewStartFailure(k.Path, nil)

	case Pause:
		k.mu.Lock()
		supported := k.caps.Has(SupportsPauseResume)
		k.mu.Unlock()
		if !supported {
			return PauseReject{}
		}
		ok := k.safeCall(func() bool { return k.behavior.OnPause(m.Originator) })
		if !ok {
			return PauseReject{}
		}
		k.setStatus(Paused)
		return PauseOK{}

	case Resume:
		k.mu.Lock()
		supported := k.caps.Has(SupportsPauseResume)
		k.mu.Unlock()
		if !supported {
			return PauseReject{}
		}
		ok := k.safeCall(func() bool { return k.behavior.OnResume(m.Originator) })
		if !ok {
			return PauseReject{}
		}
		k.setStatus(Running)
		return ResumeOK{}

	case Terminate:
		prior := k.Status()
		if prior != Running && prior != Paused && prior != Initializing && prior != Initialized && prior != Started {
			return TerminateReject{}
		}
		k.setStatus(Terminating)
		ok := k.safeCall(func() bool { return k.behavior.OnTerminate(m.Originator) })
		if !ok {
			return TerminateFailed{Reason: fmt.Errorf("terminate refused")}
		}
		k.setStatus(Terminated)
		return Terminated{}

	case SyncClock:
		k.safeCallVoid(k.behavior.OnSyncWithRaceClock)
		return struct{}{}

	case wire.Ping:
		k.mu.Lock()
		k.heartBeat = m.HeartBeat
		count := k.msgCount
		k.mu.Unlock()
		return wire.Pong{HeartBeat: m.HeartBeat, TPing: m.TPing, MsgCount: count}

	case ExecFn:
		m.Fn()
		return struct{}{}

	default:
		return nil
	}
}

// tryUserFallback lets an unrecognized system-kind message reach the
// user handler: a caller that mis-tagged a user-shaped message as
// system still gets it delivered, rather than silently dropped.
func (k *Kernel) tryUserFallback(e envelope) bool {
	k.invokeUser(e)
	return true
}

func (k *Kernel) invokeUser(e envelope) {
	h := k.GetHandler()
	if h != nil {
		k.safeCallVoid(func() { h(e.payload, e.sender) })
		return
	}
	k.safeCallVoid(func() { k.behavior.Receive(e.payload, e.sender) })
}

// safeCall/safeCallVoid recover a panic inside a behavior callback so it
// cannot crash the actor's goroutine.
func (k *Kernel) safeCall(fn func() bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Errorf("recovered panic in callback: %v", r)
			ok = false
		}
	}()
	return fn()
}

func (k *Kernel) safeCallVoid(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Errorf("recovered panic in handler: %v", r)
		}
	}()
	fn()
}

// SetCapabilities is called by the actor's own OnInitialize once it has
// computed what it supports; the kernel reports this set in Initialized.
func (k *Kernel) SetCapabilities(c Capabilities) { k.mu.Lock(); k.caps = c; k.mu.Unlock() }

// MsgCount returns the running count of user messages processed.
func (k *Kernel) MsgCount() int64 { return atomic.LoadInt64(&k.msgCount) }

// LastHeartBeat returns the most recent Ping's heartBeat value observed.
func (k *Kernel) LastHeartBeat() int64 { k.mu.Lock(); defer k.mu.Unlock(); return k.heartBeat }

// Logger exposes the actor's own per-actor leveled logger.
func (k *Kernel) Logger() *nlog.Logger { return k.log }

// ScheduleOnce enqueues msg as a system message after delay. It returns
// a best-effort cancel handle: cancellation races with an already-fired
// timer, in which case the message is still delivered.
func (k *Kernel) ScheduleOnce(delay time.Duration, msg any) (cancel func()) {
	t := time.AfterFunc(delay, func() { k.Tell(msg, k.Path) })
	return func() { t.Stop() }
}

// ScheduleRecurring re-enqueues msg every interval until cancelled.
func (k *Kernel) ScheduleRecurring(interval time.Duration, msg any) (cancel func()) {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				k.Tell(msg, k.Path)
			case <-stop:
				ticker.Stop()
				return
			case <-k.done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

// ExecuteInActorThread enqueues fn to run serialized with other messages
// on this actor's own goroutine.
func (k *Kernel) ExecuteInActorThread(fn func()) {
	k.Tell(ExecFn{Fn: fn}, k.Path)
}

// Delay is ExecuteInActorThread's deferred form.
func (k *Kernel) Delay(d time.Duration, action func()) (cancel func()) {
	return k.ScheduleOnce(d, ExecFn{Fn: action})
}
