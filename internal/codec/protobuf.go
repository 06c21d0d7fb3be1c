package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Protobuf encodes the mapping as a google.protobuf.Struct. The Struct value
// model is JSON-shaped: every number decodes as float64 and []byte values are
// stored as base64 strings.
type Protobuf struct{}

// Name implements Codec.
func (Protobuf) Name() string { return ProtobufName }

// Marshal implements Codec.
func (Protobuf) Marshal(data map[string]any) ([]byte, error) {
	msg, err := structpb.NewStruct(data)
	if err != nil {
		return nil, fmt.Errorf("codec: convert protobuf struct: %w", err)
	}
	out, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("codec: encode protobuf: %w", err)
	}
	return out, nil
}

// Unmarshal implements Codec.
func (Protobuf) Unmarshal(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return map[string]any{}, nil
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("codec: decode protobuf: %w", err)
	}
	data := msg.AsMap()
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
