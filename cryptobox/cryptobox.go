// Package cryptobox seals argument arrays into a single opaque string and opens
// them again on the receiving side.
//
// Both peers derive the cipher key from the same shared secret, so a blob that
// opens to a non-empty array proves knowledge of the secret. Nothing else is
// authenticated by the Legacy scheme: there is no MAC and ECB leaks block
// patterns. Sealed is the authenticated alternative; it is not wire compatible
// with Legacy peers.
package cryptobox

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"secure-xmlrpc/codec"
)

// Scheme names, as used in configuration.
const (
	SchemeLegacy = "legacy-ecb"
	SchemeSealed = "xchacha20poly1305"
)

// trimSet mirrors the characters legacy peers strip from decrypted plaintext.
const trimSet = " \t\n\r\x00\x0b"

// Box seals and opens argument arrays under one shared secret.
type Box interface {
	// Seal encodes args as a JSON array and encrypts it.
	Seal(args []any) (string, error)
	// Open decrypts blob and returns the argument array, or nil when the blob
	// does not decrypt to a non-empty JSON array.
	Open(blob string) []any
}

// New returns the Box for scheme keyed by secret. An empty scheme selects Legacy.
func New(scheme, secret string) (Box, error) {
	switch scheme {
	case "", SchemeLegacy:
		return NewLegacy(secret), nil
	case SchemeSealed:
		return NewSealed(secret)
	default:
		return nil, fmt.Errorf("cryptobox: unknown scheme %q", scheme)
	}
}

// Seal encrypts args under key with the Legacy scheme.
func Seal(args []any, key string) (string, error) {
	return NewLegacy(key).Seal(args)
}

// Open decrypts blob under key with the Legacy scheme.
func Open(blob, key string) []any {
	return NewLegacy(key).Open(blob)
}

// Hash returns the hex md5 digest of the concatenated parts.
func Hash(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func encodeArgs(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	return codec.Default.Encode(args)
}

func decodeArgs(plain []byte) []any {
	var v any
	if err := codec.Default.Decode(plain, &v); err != nil {
		return nil
	}
	args, ok := v.([]any)
	if !ok || len(args) == 0 {
		return nil
	}
	return args
}
