// Package codec turns cached sequences into bytes and back.
//
// Codecs are generic so the same wrappers (Limit, Compressed) work for any
// value, but the cache itself only ever stores Sequence values.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Sequence is the codec shape used by byte-oriented storage backends.
type Sequence = Codec[[]string]

// ByName returns the sequence codec registered under name.
// Recognized names: json, msgpack, cbor, proto. Empty selects msgpack.
func ByName(name string) (Sequence, error) {
	switch name {
	case "", "msgpack":
		return Msgpack[[]string]{}, nil
	case "json":
		return JSON[[]string]{}, nil
	case "cbor":
		return NewCBOR[[]string](true)
	case "proto", "protobuf":
		return ProtoList{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
