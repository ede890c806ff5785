// Package provider implements the ChannelTopicNegotiator: decoupling
// "subscribe to channel X" from "accept topic Y data from whichever
// actor provides it", with refcounted acceptance, transitive provider
// forwarding, and stale-request GC via hk.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package provider

import (
	"sync"
	"time"

	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/cmn/nlog"
	"github.com/nasarace/race-go/hk"
)

// ProviderChannel is the well-known system channel requests are
// published on.
const ProviderChannel = "/race/provider"

// staleAfter bounds how long a pending Request may sit without a
// Response before the negotiator's housekeeping sweep drops it.
const staleAfter = 30 * time.Second

// Key identifies a (channel, topic) tuple, the provider-negotiation
// key. Topic is any serializable value; it must be comparable for use
// as a map key here (strings and small structs in practice).
type Key struct {
	Channel string
	Topic   any
}

type subState int

const (
	subAbsent subState = iota
	subPending
	subAccepted
)

type provState int

const (
	provAbsent provState = iota
	provOffered
	provActive
)

type subEntry struct {
	state    subState
	provider string
	refcount int
	since    time.Time
}

type provEntry struct {
	state   provState
	clients map[string]struct{}
}

// Request/Response/Accept/Release are the negotiation protocol
// messages. Request travels as a bus.SysEvent on ProviderChannel; the
// rest are point-to-point via Send.
type (
	Request struct {
		Channel    string
		Topic      any
		Requester  string
	}
	Response struct {
		Channel  string
		Topic    any
		Provider string
	}
	Accept struct {
		Channel    string
		Topic      any
		Subscriber string
	}
	Release struct {
		Channel    string
		Topic      any
		Subscriber string
	}
)

// SendFunc delivers a point-to-point message to an actor by path; the
// negotiator doesn't own an actor directory, so the owning actor injects
// its own send primitive (typically actor.Kernel.Tell).
type SendFunc func(path string, msg any, sender string)

// Negotiator holds the subscriber-side and provider-side state machines
// for one actor, which may act as either, both (transitive provider), or
// neither for any given tuple.
type Negotiator struct {
	path string
	bus  *bus.Bus
	send SendFunc
	log  *nlog.Logger

	mu   sync.Mutex
	subs map[Key]*subEntry
	provs map[Key]*provEntry

	// Transitive-provider bookkeeping: mapping from an upstream input
	// tuple to the set of downstream client tuples still awaiting a
	// response, and from a client tuple back to which input tuple
	// answered it.
	inputPending map[Key]map[Key]struct{}
	clientInput  map[Key]Key
	// mapped lists, for a transitively-provided output tuple, which input
	// channels this actor forwards a Request onto.
	transitiveInputs map[Key][]string
}

func New(path string, b *bus.Bus, send SendFunc) *Negotiator {
	n := &Negotiator{
		path:             path,
		bus:              b,
		send:             send,
		log:              nlog.New(path),
		subs:             make(map[Key]*subEntry),
		provs:            make(map[Key]*provEntry),
		inputPending:     make(map[Key]map[Key]struct{}),
		clientInput:      make(map[Key]Key),
		transitiveInputs: make(map[Key][]string),
	}
	hk.Reg(path+".provider"+hk.NameSuffix, n.sweepStale, staleAfter)
	return n
}

// RegisterAsProvider declares that this actor transitively serves output
// by forwarding Requests onto the given input channels (same topic).
func (n *Negotiator) RegisterAsProvider(outputChannel string, topic any, inputChannels []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitiveInputs[Key{outputChannel, topic}] = inputChannels
}

// RequestTopic is the subscriber-side entry point: absent -> pending.
// Idempotent: a tuple already pending or accepted is left untouched and
// the refcount is bumped so multiple internal acceptors can share one
// subscription.
func (n *Negotiator) RequestTopic(channel string, topic any) {
	key := Key{channel, topic}
	n.mu.Lock()
	e, ok := n.subs[key]
	if ok && e.state != subAbsent {
		e.refcount++
		n.mu.Unlock()
		return
	}
	n.subs[key] = &subEntry{state: subPending, refcount: 1, since: time.Now()}
	n.mu.Unlock()

	// If this actor is itself (transitively) a provider for the tuple,
	// answer immediately without going out to the bus.
	if n.offerIfServed(key) {
		return
	}
	n.bus.PublishSys(ProviderChannel, Request{Channel: channel, Topic: topic, Requester: n.path}, n.path)
}

// offerIfServed checks whether this actor already provides key, and if
// so responds to itself/forwards the acceptance path directly, without
// a round trip through the bus.
func (n *Negotiator) offerIfServed(key Key) bool {
	n.mu.Lock()
	_, served := n.provs[key]
	n.mu.Unlock()
	if !served {
		// Is it a mapped transitive output this actor can serve by
		// forwarding onto input channels?
		n.mu.Lock()
		inputs, ok := n.transitiveInputs[key]
		n.mu.Unlock()
		if !ok {
			return false
		}
		n.forwardTransitive(key, inputs)
		return true
	}
	n.HandleResponse(Response{Channel: key.Channel, Topic: key.Topic, Provider: n.path})
	return true
}

func (n *Negotiator) forwardTransitive(outKey Key, inputs []string) {
	for _, ch := range inputs {
		inKey := Key{ch, outKey.Topic}
		n.mu.Lock()
		if _, ok := n.inputPending[inKey]; !ok {
			n.inputPending[inKey] = make(map[Key]struct{})
		}
		n.inputPending[inKey][outKey] = struct{}{}
		n.clientInput[outKey] = inKey
		n.mu.Unlock()
		n.RequestTopic(ch, outKey.Topic)
	}
}

// HandleResponse is called when a Response arrives for a pending
// request: pending -> accepted, and the negotiator replies Accept to the
// chosen provider.
func (n *Negotiator) HandleResponse(resp Response) {
	key := Key{resp.Channel, resp.Topic}
	n.mu.Lock()
	e, ok := n.subs[key]
	if !ok || e.state == subAccepted {
		n.mu.Unlock()
		// Transitive forwarding: this response may be answering an input
		// tuple this actor forwarded on behalf of downstream clients.
		n.forwardResponseToClients(key, resp)
		return
	}
	e.state = subAccepted
	e.provider = resp.Provider
	n.mu.Unlock()
	n.send(resp.Provider, Accept{Channel: resp.Channel, Topic: resp.Topic, Subscriber: n.path}, n.path)
	n.forwardResponseToClients(key, resp)
}

func (n *Negotiator) forwardResponseToClients(inKey Key, resp Response) {
	n.mu.Lock()
	pending, ok := n.inputPending[inKey]
	n.mu.Unlock()
	if !ok {
		return
	}
	for clientKey := range pending {
		n.HandleResponse(Response{Channel: clientKey.Channel, Topic: clientKey.Topic, Provider: n.path})
	}
}

// HandleRequest is called (provider side) when a Request arrives for a
// tuple this actor provides: absent -> offered, reply Response.
func (n *Negotiator) HandleRequest(req Request) {
	key := Key{req.Channel, req.Topic}
	n.mu.Lock()
	e, ok := n.provs[key]
	if !ok {
		e = &provEntry{state: provOffered, clients: make(map[string]struct{})}
		n.provs[key] = e
	}
	n.mu.Unlock()
	n.send(req.Requester, Response{Channel: req.Channel, Topic: req.Topic, Provider: n.path}, n.path)
}

// HandleAccept is called (provider side): offered -> active on the first
// accept; the client is recorded regardless.
func (n *Negotiator) HandleAccept(acc Accept) bool {
	key := Key{acc.Channel, acc.Topic}
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.provs[key]
	if !ok {
		return false
	}
	firstActivation := e.state != provActive
	e.state = provActive
	e.clients[acc.Subscriber] = struct{}{}
	return firstActivation
}

// HasClients reports whether the provider still has any accepted client
// for key.
func (n *Negotiator) HasClients(channel string, topic any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.provs[Key{channel, topic}]
	if !ok {
		return false
	}
	return len(e.clients) > 0
}

// ReleaseTopic is the subscriber-side teardown: decrements refcount;
// only the last Release tears the subscription down and sends Release
// to the provider, deleting the subscription's map entry so it never
// lingers at a stale zero-refcount state.
func (n *Negotiator) ReleaseTopic(channel string, topic any) {
	key := Key{channel, topic}
	n.mu.Lock()
	e, ok := n.subs[key]
	if !ok || e.state == subAbsent {
		n.mu.Unlock()
		return
	}
	e.refcount--
	if e.refcount > 0 {
		n.mu.Unlock()
		return
	}
	provider := e.provider
	delete(n.subs, key)
	n.mu.Unlock()
	if provider != "" {
		n.send(provider, Release{Channel: channel, Topic: topic, Subscriber: n.path}, n.path)
	}
}

// HandleRelease is called (provider side) on an explicit Release or when
// a client terminates: removes the client; absent once no clients remain.
func (n *Negotiator) HandleRelease(rel Release) {
	n.releaseClient(Key{rel.Channel, rel.Topic}, rel.Subscriber)
}

// ClientTerminated releases every (channel,topic) this subscriber held
// from this actor's provider side, as if each had sent Release.
func (n *Negotiator) ClientTerminated(subscriber string) {
	n.mu.Lock()
	keys := make([]Key, 0, len(n.provs))
	for k, e := range n.provs {
		if _, ok := e.clients[subscriber]; ok {
			keys = append(keys, k)
		}
	}
	n.mu.Unlock()
	for _, k := range keys {
		n.releaseClient(k, subscriber)
	}
}

func (n *Negotiator) releaseClient(key Key, subscriber string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.provs[key]
	if !ok {
		return
	}
	delete(e.clients, subscriber)
	if len(e.clients) == 0 {
		delete(n.provs, key)
	}
}

// RefCount exposes the subscriber-side refcount for a tuple (test hook;
// zero if absent).
func (n *Negotiator) RefCount(channel string, topic any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.subs[Key{channel, topic}]
	if !ok {
		return 0
	}
	return e.refcount
}

// sweepStale is the hk callback that GCs pending requests no Response
// ever answered (actor crashed, message dropped, etc).
func (n *Negotiator) sweepStale() time.Duration {
	cutoff := time.Now().Add(-staleAfter)
	n.mu.Lock()
	for k, e := range n.subs {
		if e.state == subPending && e.since.Before(cutoff) {
			delete(n.subs, k)
			n.log.Warningf("dropped stale pending request for %s/%v", k.Channel, k.Topic)
		}
	}
	n.mu.Unlock()
	return staleAfter
}

// Close unregisters this negotiator's housekeeping callback.
func (n *Negotiator) Close() { hk.Unreg(n.path + ".provider" + hk.NameSuffix) }
