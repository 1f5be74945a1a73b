package cryptobox

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"strings"

	"github.com/andreburgaud/crypt2go/ecb"
)

// Legacy is AES in ECB mode keyed by the hex md5 of the secret (32 bytes,
// AES-256), zero padded. No IV is involved.
type Legacy struct {
	key []byte
}

// NewLegacy derives the Legacy key from secret.
func NewLegacy(secret string) *Legacy {
	return &Legacy{key: []byte(Hash(secret))}
}

func (b *Legacy) Seal(args []any) (string, error) {
	plain, err := encodeArgs(args)
	if err != nil {
		return "", err
	}
	return b.sealRaw(plain)
}

func (b *Legacy) Open(blob string) []any {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil
	}
	plain := make([]byte, len(raw))
	ecb.NewECBDecrypter(block).CryptBlocks(plain, raw)
	return decodeArgs(bytes.Trim(plain, trimSet))
}

// zeroPad pads to a whole number of blocks with NUL bytes. Input that is
// already aligned is left as is, matching mcrypt.
func zeroPad(b []byte, size int) []byte {
	if rem := len(b) % size; rem != 0 {
		b = append(b, make([]byte, size-rem)...)
	}
	return b
}

// sealRaw encrypts an already encoded plaintext.
func (b *Legacy) sealRaw(plain []byte) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}
	padded := zeroPad(plain, block.BlockSize())
	out := make([]byte, len(padded))
	ecb.NewECBEncrypter(block).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}
