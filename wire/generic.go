/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package wire

import "github.com/tinylib/msgp/msgp"

// genericEncode/genericDecode back the registry's fallback serializer with
// msgp's low-level interface{} helpers, the same machinery tinylib/msgp
// generates Marshal/Unmarshal methods around, rather than hand-rolling a
// second ad hoc tag-length-value format for values this system doesn't
// have a dedicated serializer for.
func genericEncode(w *Writer, v any) error {
	b, err := msgp.AppendIntf(nil, v)
	if err != nil {
		return err
	}
	w.WriteBytes(b)
	return nil
}

func genericDecode(r *Reader) (any, error) {
	b := r.ReadBytes()
	if r.Err() != nil {
		return nil, r.Err()
	}
	v, _, err := msgp.ReadIntfBytes(b)
	return v, err
}
