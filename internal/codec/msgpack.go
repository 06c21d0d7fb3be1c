package codec

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// Msgpack encodes the mapping as a single MessagePack map. Integers decode as
// int64/uint64, floats keep their width, and []byte and time.Time survive a
// round trip.
type Msgpack struct{}

// Name implements Codec.
func (Msgpack) Name() string { return MsgpackName }

// Marshal implements Codec.
func (Msgpack) Marshal(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	out, err := msgp.AppendMapStrIntf(make([]byte, 0, 64), data)
	if err != nil {
		return nil, fmt.Errorf("codec: encode msgpack: %w", err)
	}
	return out, nil
}

// Unmarshal implements Codec.
func (Msgpack) Unmarshal(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	data, rest, err := msgp.ReadMapStrIntfBytes(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decode msgpack: %w", err)
	}
	if len(rest) > 0 {
		return nil, ErrTrailingData
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
