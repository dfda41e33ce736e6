// Package codecadapter implements the store.Codec port over
// github.com/ugorji/go/codec's CBOR handle, the canonical wire format for
// patch blobs and shard payloads.
package codecadapter

import (
	"reflect"

	"github.com/ugorji/go/codec"
)

// CBOR is a store.Codec backed by a shared, read-only-after-init
// CborHandle. A single handle is safe for concurrent Encode/Decode calls
// once configured, so one instance can be shared across a whole graph
// controller.
type CBOR struct {
	handle codec.CborHandle
}

// New returns a ready-to-use CBOR codec. Decoding into interface{} yields
// map[string]interface{} for maps (set through the handle's MapType), which
// is the proto-safe representation the Codec port requires — a plain Go map
// can never alias a host object prototype.
func New() *CBOR {
	c := &CBOR{}
	c.handle.Canonical = true
	c.handle.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return c
}

// Encode serializes value to CBOR bytes.
func (c *CBOR) Encode(value interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &c.handle)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode deserializes CBOR bytes into out, which should be a pointer.
func (c *CBOR) Decode(data []byte, out interface{}) error {
	dec := codec.NewDecoderBytes(data, &c.handle)
	return dec.Decode(out)
}
