package services

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sealed:"

var errUnsealed = errors.New("sealed value could not be opened")

// KeySealer encrypts provider credentials stored in admin_settings with
// NaCl secretbox. A sealer without a key passes values through untouched.
type KeySealer struct {
	key     *[32]byte
	entropy io.Reader
}

// NewKeySealer takes a hex encoded 32 byte key. An empty key disables sealing.
func NewKeySealer(hexKey string) (*KeySealer, error) {
	if hexKey == "" {
		return &KeySealer{entropy: rand.Reader}, nil
	}

	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode seal key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("seal key must be 32 bytes, got %d", len(raw))
	}

	var key [32]byte
	copy(key[:], raw)
	return &KeySealer{key: &key, entropy: rand.Reader}, nil
}

// Enabled reports whether values are sealed on write.
func (s *KeySealer) Enabled() bool {
	return s.key != nil
}

func (s *KeySealer) Seal(plaintext string) (string, error) {
	if s.key == nil {
		return plaintext, nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(s.entropy, nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open returns plaintext for sealed values and the value itself otherwise,
// so keys written before sealing was enabled keep working.
func (s *KeySealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s.key == nil {
		return "", errUnsealed
	}

	box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(box) < 24 {
		return "", errUnsealed
	}

	var nonce [24]byte
	copy(nonce[:], box[:24])
	plaintext, ok := secretbox.Open(nil, box[24:], &nonce, s.key)
	if !ok {
		return "", errUnsealed
	}
	return string(plaintext), nil
}
