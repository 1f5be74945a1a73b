package cryptobox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedInfo = "secure-xmlrpc/args/v1"

// Sealed is XChaCha20-Poly1305 keyed through HKDF-SHA256 over the secret. The
// random nonce travels as the first 24 bytes of the blob.
type Sealed struct {
	aead cipher.AEAD
}

// NewSealed derives the Sealed key from secret.
func NewSealed(secret string) (*Sealed, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(sealedInfo)), key); err != nil {
		return nil, fmt.Errorf("cryptobox: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: init aead: %w", err)
	}
	return &Sealed{aead: aead}, nil
}

func (b *Sealed) Seal(args []any) (string, error) {
	plain, err := encodeArgs(args)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptobox: nonce: %w", err)
	}
	out := b.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (b *Sealed) Open(blob string) []any {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil || len(raw) < b.aead.NonceSize()+b.aead.Overhead() {
		return nil
	}
	nonce, ct := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil
	}
	return decodeArgs(plain)
}
