/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package bus_test

import (
	"sync"
	"testing"

	"github.com/nasarace/race-go/bus"
)

type recorder struct {
	id  string
	mu  sync.Mutex
	got []bus.Message
}

func newRecorder(id string) *recorder { return &recorder{id: id} }

func (r *recorder) Deliver(msg bus.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, msg)
}

func (r *recorder) SubscriberID() string { return r.id }

func (r *recorder) messages() []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Message, len(r.got))
	copy(out, r.got)
	return out
}

func TestExactChannelDelivery(t *testing.T) {
	b := bus.New()
	sub := newRecorder("a")
	b.Subscribe(sub, "telemetry/speed")
	b.Publish("telemetry/speed", 42, "/sys/p")
	b.Publish("telemetry/rpm", 99, "/sys/p")

	got := sub.messages()
	if len(got) != 1 || got[0].Payload != 42 {
		t.Fatalf("expected exactly one exact-match delivery, got %+v", got)
	}
}

func TestWildcardSubscriptionReceivesAllDescendants(t *testing.T) {
	b := bus.New()
	sub := newRecorder("a")
	b.Subscribe(sub, "telemetry/*")
	b.Publish("telemetry/speed", 1, "/sys/p")
	b.Publish("telemetry/rpm", 2, "/sys/p")
	b.Publish("other/x", 3, "/sys/p")

	got := sub.messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries under telemetry/*, got %d: %+v", len(got), got)
	}
}

func TestSubscriberMatchedByMultiplePatternsDeliveredOnce(t *testing.T) {
	b := bus.New()
	sub := newRecorder("a")
	b.Subscribe(sub, "telemetry/*")
	b.Subscribe(sub, "telemetry/speed")
	b.Publish("telemetry/speed", 1, "/sys/p")

	got := sub.messages()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery despite two matching patterns, got %d", len(got))
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	b := bus.New()
	sub := newRecorder("a")
	if added := b.Subscribe(sub, "c/1"); !added {
		t.Fatal("expected first subscribe to report added")
	}
	if added := b.Subscribe(sub, "c/1"); added {
		t.Fatal("expected repeat subscribe to report not-newly-added")
	}
	b.Publish("c/1", "x", "/sys/p")
	if got := sub.messages(); len(got) != 1 {
		t.Fatalf("duplicate subscribe must not duplicate delivery, got %d", len(got))
	}
}

func TestUnsubscribeRestoresPriorState(t *testing.T) {
	b := bus.New()
	sub := newRecorder("a")
	b.Subscribe(sub, "c/1")
	if removed := b.Unsubscribe(sub, "c/1"); !removed {
		t.Fatal("expected unsubscribe to report removal")
	}
	b.Publish("c/1", "x", "/sys/p")
	if got := sub.messages(); len(got) != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", len(got))
	}
	if len(b.Patterns()) != 0 {
		t.Fatalf("expected pattern index pruned once empty, got %v", b.Patterns())
	}
}

func TestPublishOrderPreservedPerSubscriber(t *testing.T) {
	b := bus.New()
	sub := newRecorder("a")
	b.Subscribe(sub, "c/*")
	for i := 0; i < 10; i++ {
		b.Publish("c/1", i, "/sys/p")
	}
	got := sub.messages()
	if len(got) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(got))
	}
	for i, m := range got {
		if m.Payload != i {
			t.Fatalf("order not preserved at index %d: got %v", i, m.Payload)
		}
	}
}

func TestSysEventKindPreserved(t *testing.T) {
	b := bus.New()
	sub := newRecorder("a")
	b.Subscribe(sub, "/race/provider")
	b.PublishSys("/race/provider", "req", "/sys/neg")
	got := sub.messages()
	if len(got) != 1 || got[0].Kind != bus.SysEvent {
		t.Fatalf("expected one SysEvent delivery, got %+v", got)
	}
}

func TestLocalPrefixDetection(t *testing.T) {
	if !bus.IsLocalOnly("local/debug/x") {
		t.Fatal("expected local/ prefixed channel to be detected as local-only")
	}
	if bus.IsLocalOnly("telemetry/speed") {
		t.Fatal("did not expect telemetry/speed to be local-only")
	}
}

func TestSubscribersOfIntrospection(t *testing.T) {
	b := bus.New()
	a := newRecorder("a")
	c := newRecorder("c")
	b.Subscribe(a, "telemetry/*")
	b.Subscribe(c, "telemetry/speed")
	subs := b.SubscribersOf("telemetry/speed")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers of telemetry/speed, got %d", len(subs))
	}
}
