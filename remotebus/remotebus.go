// Package remotebus implements the RemoteBusConnector: a local proxy
// that subscribes and publishes on behalf of peers living in another
// universe, so the in-process bus.Bus never needs to know how to
// serialize itself. Transport is HTTP over valyala/fasthttp, payloads
// are wire.BusEvent frames optionally lz4-compressed, and a cuckoofilter
// membership sketch suppresses replay/fan-out loops between federated
// universes.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package remotebus

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/nasarace/race-go/bus"
	"github.com/nasarace/race-go/cmn/nlog"
	"github.com/nasarace/race-go/wire"
	"github.com/pierrec/lz4/v3"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"github.com/valyala/fasthttp"
)

// dedupCapacity bounds the cuckoofilter's tracked-event window; sized to
// withstand a federation link's burst without false-negative eviction
// becoming the common case.
const dedupCapacity = 1 << 16

// Transport abstracts the outbound leg so tests can substitute a stub
// without binding a real socket; the production implementation is
// *HTTPTransport (fasthttp-backed).
type Transport interface {
	Send(peerAddr string, frame []byte) error
}

// HTTPTransport posts BusEvent frames to a peer connector's inbound
// endpoint using a shared, connection-pooled fasthttp.Client rather than
// dialing per message.
type HTTPTransport struct {
	Client *fasthttp.Client
}

func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: &fasthttp.Client{Name: "race-go-remotebus"}}
}

func (t *HTTPTransport) Send(peerAddr string, frame []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(peerAddr)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/octet-stream")
	req.SetBody(frame)

	if err := t.Client.Do(req, resp); err != nil {
		return fmt.Errorf("remotebus: send to %s: %w", peerAddr, err)
	}
	if sc := resp.StatusCode(); sc != fasthttp.StatusOK {
		return fmt.Errorf("remotebus: peer %s replied status %d", peerAddr, sc)
	}
	return nil
}

// Connector is one RemoteBusConnector actor-facing relay. It is itself a
// bus.Subscriber: channels forwarded on behalf of a remote peer are
// subscribed on the local bus with the Connector as the subscriber, and
// Deliver ships the event out over Transport.
type Connector struct {
	path      string // canonical actor path, e.g. /universeA/race/remotebus/universeB
	local     *bus.Bus
	reg       *wire.Registry
	transport Transport
	peerAddr  string
	compress  bool

	mu           sync.Mutex
	remoteSubs   map[string]struct{} // channels subscribed on behalf of the peer
	seen         *cuckoo.Filter
	dropped      int64
	warningsSent int64
}

func New(path string, local *bus.Bus, reg *wire.Registry, transport Transport, peerAddr string, compress bool) *Connector {
	return &Connector{
		path:       path,
		local:      local,
		reg:        reg,
		transport:  transport,
		peerAddr:   peerAddr,
		compress:   compress,
		remoteSubs: make(map[string]struct{}),
		seen:       cuckoo.NewFilter(dedupCapacity),
	}
}

func (c *Connector) SubscriberID() string { return c.path }

// RemoteSubscribe subscribes the local bus on behalf of the remote peer.
func (c *Connector) RemoteSubscribe(channel string) {
	c.mu.Lock()
	if _, ok := c.remoteSubs[channel]; ok {
		c.mu.Unlock()
		return
	}
	c.remoteSubs[channel] = struct{}{}
	c.mu.Unlock()
	c.local.Subscribe(c, channel)
}

// RemoteUnsubscribe undoes RemoteSubscribe for channel.
func (c *Connector) RemoteUnsubscribe(channel string) {
	c.mu.Lock()
	if _, ok := c.remoteSubs[channel]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.remoteSubs, channel)
	c.mu.Unlock()
	c.local.Unsubscribe(c, channel)
}

// Deliver is called by the local bus for every event on a channel
// subscribed on the peer's behalf; it republishes the event across the
// federation link.
func (c *Connector) Deliver(msg bus.Message) {
	if bus.IsLocalOnly(msg.Channel) {
		return // never forwarded, by construction of the reserved prefix
	}
	be := wire.BusEvent{Channel: msg.Channel, PayloadType: typeNameOf(c.reg, msg.Payload), Payload: msg.Payload, Sender: msg.Sender}
	frame, err := c.encode(be)
	if err != nil {
		c.warn(msg, err)
		return
	}
	if err := c.transport.Send(c.peerAddr, frame); err != nil {
		nlog.Errorf("remotebus %s: send failed: %v", c.path, err)
	}
}

// typeNameOf resolves the registered type name for v so the peer's
// registry can decode it, falling back to the generic serializer's name;
// see wire.Registry.WriteEmbedded for the embedded-framing fallback.
func typeNameOf(reg *wire.Registry, v any) string {
	if be, ok := v.(wire.BusEvent); ok {
		return be.PayloadType
	}
	switch v.(type) {
	case wire.Ping:
		return wire.TypePing
	case wire.Pong:
		return wire.TypePong
	default:
		return "generic"
	}
}

func (c *Connector) warn(msg bus.Message, err error) {
	c.mu.Lock()
	c.dropped++
	c.warningsSent++
	c.mu.Unlock()
	nlog.Warningf("remotebus %s: dropping message on %s from %s: serialization contract unmet: %v",
		c.path, msg.Channel, msg.Sender, err)
}

func (c *Connector) encode(be wire.BusEvent) ([]byte, error) {
	entry, ok := c.reg.ByName(wire.TypeBusEvent)
	if !ok {
		return nil, fmt.Errorf("remotebus: %s not registered", wire.TypeBusEvent)
	}
	raw, err := entry.ToBinary(be)
	if err != nil {
		return nil, err
	}
	if !c.compress {
		return raw, nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Connector) decode(frame []byte) (wire.BusEvent, error) {
	raw := frame
	if c.compress {
		zr := lz4.NewReader(bytes.NewReader(frame))
		decompressed, err := io.ReadAll(zr)
		if err != nil {
			return wire.BusEvent{}, err
		}
		raw = decompressed
	}
	entry, ok := c.reg.ByName(wire.TypeBusEvent)
	if !ok {
		return wire.BusEvent{}, fmt.Errorf("remotebus: %s not registered", wire.TypeBusEvent)
	}
	v, err := entry.FromBinary(raw)
	if err != nil {
		return wire.BusEvent{}, err
	}
	return v.(wire.BusEvent), nil
}

// dedupKey derives a stable replay key from the raw frame bytes; two
// peers forwarding the same event back and forth must converge after one
// hop.
func dedupKey(frame []byte) []byte {
	return frame
}

// ReceiveFrame decodes a frame received from the peer and republishes it
// on the local bus, unless it is a replay this connector has already
// seen; the cuckoofilter gives a low-memory approximate "have I relayed
// this exact frame already" test.
func (c *Connector) ReceiveFrame(frame []byte) error {
	key := dedupKey(frame)
	c.mu.Lock()
	if c.seen.Lookup(key) {
		c.mu.Unlock()
		return nil
	}
	c.seen.InsertUnique(key)
	c.mu.Unlock()

	be, err := c.decode(frame)
	if err != nil {
		return fmt.Errorf("remotebus %s: decode: %w", c.path, err)
	}
	c.local.Publish(be.Channel, be.Payload, be.Sender)
	return nil
}

// Handler returns a fasthttp.RequestHandler suitable for serving this
// connector's inbound endpoint.
func (c *Connector) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !ctx.IsPost() {
			ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			return
		}
		if err := c.ReceiveFrame(ctx.PostBody()); err != nil {
			nlog.Errorf("remotebus %s: %v", c.path, err)
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
	}
}

// Stats reports drop/warning counters for monitor export.
func (c *Connector) Stats() (dropped, warnings int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped, c.warningsSent
}
