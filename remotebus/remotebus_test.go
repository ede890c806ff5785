/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package remotebus_test

import (
	"sync"
	"testing"

	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/remotebus"
	"github.com/nasarace/race-go/wire"
)

type stubTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *stubTransport) Send(peerAddr string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *stubTransport) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func newTestSetup(compress bool) (*bus.Bus, *wire.Registry, *remotebus.Connector, *stubTransport) {
	b := bus.New()
	reg := wire.NewRegistry()
	wire.RegisterCoreTypes(reg)
	tr := &stubTransport{}
	c := remotebus.New("/u/race/remotebus/peer", b, reg, tr, "http://peer/inbound", compress)
	return b, reg, c, tr
}

func TestRemoteSubscribeForwardsLocalPublish(t *testing.T) {
	b, _, c, tr := newTestSetup(false)
	c.RemoteSubscribe("telemetry/speed")
	b.Publish("telemetry/speed", wire.Ping{HeartBeat: 1, TPing: 2}, "/u/car")

	if tr.last() == nil {
		t.Fatal("expected a frame to be forwarded over the transport")
	}
}

func TestLocalOnlyChannelNeverForwarded(t *testing.T) {
	b, _, c, tr := newTestSetup(false)
	c.RemoteSubscribe("local/debug")
	b.Publish("local/debug", wire.Ping{}, "/u/car")

	if tr.last() != nil {
		t.Fatal("local/ prefixed channel must never cross the federation link")
	}
}

func TestRemoteUnsubscribeStopsForwarding(t *testing.T) {
	b, _, c, tr := newTestSetup(false)
	c.RemoteSubscribe("c/1")
	c.RemoteUnsubscribe("c/1")
	b.Publish("c/1", wire.Ping{}, "/u/car")

	if tr.last() != nil {
		t.Fatal("expected no forwarding after RemoteUnsubscribe")
	}
}

func TestReceiveFrameRepublishesLocally(t *testing.T) {
	bLocal, reg, c, _ := newTestSetup(false)
	entry, _ := reg.ByName(wire.TypeBusEvent)
	be := wire.BusEvent{Channel: "c/2", PayloadType: wire.TypePing, Payload: wire.Ping{HeartBeat: 5, TPing: 6}, Sender: "/peer/u/x"}
	frame, err := entry.ToBinary(be)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var got bus.Message
	sub := recvFunc(func(m bus.Message) { got = m })
	bLocal.Subscribe(&sub, "c/*")

	if err := c.ReceiveFrame(frame); err != nil {
		t.Fatalf("receive frame: %v", err)
	}
	if got.Channel != "c/2" {
		t.Fatalf("expected republish on c/2, got %+v", got)
	}
}

func TestReceiveFrameDedupsReplays(t *testing.T) {
	bLocal, reg, c, _ := newTestSetup(false)
	entry, _ := reg.ByName(wire.TypeBusEvent)
	be := wire.BusEvent{Channel: "c/3", PayloadType: wire.TypePing, Payload: wire.Ping{HeartBeat: 1, TPing: 1}, Sender: "/peer/u/x"}
	frame, _ := entry.ToBinary(be)

	count := 0
	sub := recvFunc(func(m bus.Message) { count++ })
	bLocal.Subscribe(&sub, "c/*")

	if err := c.ReceiveFrame(frame); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if err := c.ReceiveFrame(frame); err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one republish after replay dedup, got %d", count)
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	bLocal, _, c, tr := newTestSetup(true)
	c.RemoteSubscribe("c/4")
	bLocal.Publish("c/4", wire.Ping{HeartBeat: 9, TPing: 10}, "/u/car")
	frame := tr.last()
	if frame == nil {
		t.Fatal("expected a compressed frame to be sent")
	}
	if err := c.ReceiveFrame(frame); err != nil {
		t.Fatalf("decode own compressed frame: %v", err)
	}
}

// recvFunc adapts a func to bus.Subscriber for tests.
type recvFunc func(bus.Message)

func (f recvFunc) Deliver(msg bus.Message) { f(msg) }
func (f recvFunc) SubscriberID() string    { return "test-recv" }
