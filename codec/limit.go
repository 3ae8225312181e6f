package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Limit.Decode for oversized payloads.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit rejects payloads longer than MaxDecode bytes before they reach Inner.
// Encode is forwarded unchanged. MaxDecode <= 0 disables the check.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
