// Package codec serializes session mappings. Every codec is self-describing:
// values carry their own type tags so a mapping can be decoded without a
// schema.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// MsgpackName selects the MessagePack codec (default).
	MsgpackName = "msgpack"
	// ProtobufName selects the google.protobuf.Struct codec.
	ProtobufName = "protobuf"
)

// ErrTrailingData is returned when a payload decodes cleanly but is followed
// by unconsumed bytes.
var ErrTrailingData = errors.New("codec: trailing data after mapping")

// Codec converts a session mapping to and from its on-disk form.
type Codec interface {
	Name() string
	Marshal(data map[string]any) ([]byte, error)
	// Unmarshal decodes payload. An empty payload yields an empty mapping.
	Unmarshal(payload []byte) (map[string]any, error)
}

var registry = map[string]Codec{
	MsgpackName:  Msgpack{},
	ProtobufName: Protobuf{},
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return Msgpack{}
}

// Lookup resolves a codec by name (case-insensitive). An empty name selects
// the default codec.
func Lookup(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default(), nil
	}
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown codec %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	return c, nil
}

// Names lists registered codec names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
