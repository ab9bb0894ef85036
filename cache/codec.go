package cache

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns values into persistent-tier payloads and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// MsgpackCodec is the default Codec. Map keys are sorted so equal values
// always produce equal payloads.
type MsgpackCodec struct{}

// Encode implements Codec.
func (MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (MsgpackCodec) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
