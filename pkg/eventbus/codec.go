package eventbus

import "encoding/json"

// Codec serializes event payloads and consumption results. Implementations
// must be deterministic: the result hash depends on the encoded bytes.
type Codec interface {
	// Encode serializes a value for storage.
	Encode(v any) ([]byte, error)

	// Decode deserializes stored bytes into the given value.
	Decode(data []byte, v any) error
}

// JSONCodec is the default codec.
type JSONCodec struct{}

// Compile-time interface check.
var _ Codec = JSONCodec{}

// Encode implements Codec.
func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
