package codec

import "fmt"

// Limit wraps another codec and rejects oversized payloads on decode,
// bounding memory use when the backing store is shared with other writers.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxDecode int // bytes; 0 disables the check
}

func (c Limit[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
