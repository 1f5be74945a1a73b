// Package codec converts between Go values and the bytes the authenticated
// XML-RPC layer puts on the wire.
//
// Two formats are involved:
//
//   - JSON, for the argument array that gets encrypted into the single
//     ciphertext parameter (Codec / JSONCodec).
//   - XML-RPC, for the methodCall and methodResponse envelopes (EncodeCall,
//     DecodeCall, EncodeResponse, EncodeFault, DecodeResponse, ServerCodec).
package codec

// Codec serializes argument payloads.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Default is the payload codec used when none is configured.
var Default Codec = &JSONCodec{}
