package codec

import (
	"encoding/json"
)

// JSONCodec serializes argument arrays the way legacy peers do: a plain JSON
// array, numbers decoded as float64 and objects as map[string]any.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
