// Package crypto provides a ready-made AES-256-GCM implementation of the
// engine's EncryptionService. Applications with an external KMS or vault
// should implement the interface against that instead.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/vetstack/authcore"
)

const keySize = 32

// AESGCM encrypts with the current key version and decrypts with any
// known version, so keys can rotate without re-encrypting stored
// credentials first.
type AESGCM struct {
	aeads   map[uint32]cipher.AEAD
	current uint32
}

// NewAESGCM builds the service from 32-byte keys indexed by version.
// current names the version used for new ciphertexts.
func NewAESGCM(keys map[uint32][]byte, current uint32) (*AESGCM, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one key is required")
	}
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("current key version %d not present", current)
	}

	aeads := make(map[uint32]cipher.AEAD, len(keys))
	for version, key := range keys {
		if len(key) != keySize {
			return nil, fmt.Errorf("key version %d: need %d bytes, got %d", version, keySize, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		aeads[version] = aead
	}

	return &AESGCM{aeads: aeads, current: current}, nil
}

// NewAESGCMSingle wraps one key as version 1.
func NewAESGCMSingle(key []byte) (*AESGCM, error) {
	return NewAESGCM(map[uint32][]byte{1: key}, 1)
}

// Encrypt seals plaintext under the current key with a fresh nonce. The
// GCM tag is carried separately in the bundle.
func (s *AESGCM) Encrypt(_ context.Context, plaintext []byte) (authcore.CipherBundle, error) {
	aead := s.aeads[s.current]

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return authcore.CipherBundle{}, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - aead.Overhead()

	return authcore.CipherBundle{
		Cipher:     sealed[:tagStart],
		IV:         nonce,
		Tag:        sealed[tagStart:],
		KeyVersion: s.current,
	}, nil
}

// Decrypt opens the bundle with the key version it was sealed under.
func (s *AESGCM) Decrypt(_ context.Context, bundle authcore.CipherBundle) ([]byte, error) {
	aead, ok := s.aeads[bundle.KeyVersion]
	if !ok {
		return nil, fmt.Errorf("unknown key version %d", bundle.KeyVersion)
	}
	if len(bundle.IV) != aead.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}

	sealed := make([]byte, 0, len(bundle.Cipher)+len(bundle.Tag))
	sealed = append(sealed, bundle.Cipher...)
	sealed = append(sealed, bundle.Tag...)

	return aead.Open(nil, bundle.IV, sealed, nil)
}
