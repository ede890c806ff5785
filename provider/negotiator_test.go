/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package provider_test

import (
	"sync"
	"testing"

	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/hk"
	"github.com/nasarace/race-go/provider"
)

// router is a minimal in-test actor directory so Negotiators can call
// each other's SendFunc without a real actor.Kernel.
type router struct {
	mu    sync.Mutex
	boxes map[string]func(msg any, sender string)
}

func newRouter() *router { return &router{boxes: make(map[string]func(any, string))} }

func (r *router) register(path string, fn func(msg any, sender string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boxes[path] = fn
}

func (r *router) send(path string, msg any, sender string) {
	r.mu.Lock()
	fn, ok := r.boxes[path]
	r.mu.Unlock()
	if ok {
		fn(msg, sender)
	}
}

func TestProviderRefcountScenario(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()

	b := bus.New()
	rt := newRouter()

	prov := provider.New("/u/provider", b, rt.send)
	rt.register("/u/provider", func(msg any, sender string) {
		switch m := msg.(type) {
		case provider.Accept:
			prov.HandleAccept(m)
		case provider.Release:
			prov.HandleRelease(m)
		}
	})

	sub1 := provider.New("/u/sub1", b, rt.send)
	rt.register("/u/sub1", func(msg any, sender string) {
		if m, ok := msg.(provider.Response); ok {
			sub1.HandleResponse(m)
		}
	})
	sub2 := provider.New("/u/sub2", b, rt.send)
	rt.register("/u/sub2", func(msg any, sender string) {
		if m, ok := msg.(provider.Response); ok {
			sub2.HandleResponse(m)
		}
	})

	// Wire the provider-side handling of system Requests delivered on the
	// well-known channel, as the owning actor's kernel would.
	b.Subscribe(&sysSubscriber{id: "/u/provider", fn: func(msg bus.Message) {
		if req, ok := msg.Payload.(provider.Request); ok {
			prov.HandleRequest(req)
		}
	}}, provider.ProviderChannel)

	sub1.RequestTopic("d", "T")
	sub2.RequestTopic("d", "T")

	if !prov.HasClients("d", "T") {
		t.Fatal("expected provider to have clients after both accept")
	}

	sub1.ReleaseTopic("d", "T")
	if !prov.HasClients("d", "T") {
		t.Fatal("expected provider to still have one client after first release")
	}

	sub2.ReleaseTopic("d", "T")
	if prov.HasClients("d", "T") {
		t.Fatal("expected provider to have zero clients after second release")
	}
}

type sysSubscriber struct {
	id string
	fn func(bus.Message)
}

func (s sysSubscriber) Deliver(msg bus.Message) { s.fn(msg) }
func (s sysSubscriber) SubscriberID() string    { return s.id }
