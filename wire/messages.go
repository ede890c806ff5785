/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package wire

// Ping/Pong are the heartbeat pair exchanged between the Monitor and each
// registered actor. BusEvent is the cross-universe envelope for a
// published channel message. These are registered into a Registry by
// RegisterCoreTypes so that every universe, regardless of which domain
// actors it also registers, can encode/decode the kernel's own system
// messages.
type (
	Ping struct {
		HeartBeat int64
		TPing     int64
	}
	Pong struct {
		HeartBeat int64
		TPing     int64
		MsgCount  int64
	}
	BusEvent struct {
		Channel     string
		PayloadType string
		Payload     any
		Sender      string
	}
)

const (
	TypePing     = "race.Ping"
	TypePong     = "race.Pong"
	TypeBusEvent = "race.BusEvent"
)

// RegisterCoreTypes registers the kernel's own wire types. Call once per
// Registry; idempotent (Registry.Register is idempotent by type name).
func RegisterCoreTypes(reg *Registry) {
	reg.Register(TypePing,
		func(w *Writer, v any) error {
			p := v.(Ping)
			w.WriteI64(p.HeartBeat)
			w.WriteI64(p.TPing)
			return nil
		},
		func(r *Reader) (any, error) {
			p := Ping{HeartBeat: r.ReadI64(), TPing: r.ReadI64()}
			return p, r.Err()
		},
	)

	reg.Register(TypePong,
		func(w *Writer, v any) error {
			p := v.(Pong)
			w.WriteI64(p.HeartBeat)
			w.WriteI64(p.TPing)
			w.WriteI64(p.MsgCount)
			return nil
		},
		func(r *Reader) (any, error) {
			p := Pong{HeartBeat: r.ReadI64(), TPing: r.ReadI64(), MsgCount: r.ReadI64()}
			return p, r.Err()
		},
	)

	reg.Register(TypeBusEvent,
		func(w *Writer, v any) error {
			be := v.(BusEvent)
			w.WriteString(be.Channel)
			if err := reg.WriteEmbedded(w, be.PayloadType, be.Payload); err != nil {
				return err
			}
			w.WriteRef(be.Sender)
			return nil
		},
		func(r *Reader) (any, error) {
			channel := r.ReadString()
			payload, typeName, err := reg.ReadEmbedded(r)
			if err != nil {
				return nil, err
			}
			sender := r.ReadRef()
			if r.Err() != nil {
				return nil, r.Err()
			}
			return BusEvent{Channel: channel, PayloadType: typeName, Payload: payload, Sender: sender}, nil
		},
	)
}
