package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = 16 + refreshSecretSize
	backupKeySize       = 24
)

// NewSessionID returns a random 16-byte session identifier in canonical
// UUID form. The raw bytes are recoverable, which lets the refresh token
// embed the session ID without a store lookup.
func NewSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRefreshSecret returns the random half of an opaque refresh token.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashRefreshSecret is the only form of the refresh secret ever persisted.
func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs sessionID+secret into one opaque base64url string.
func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := uuid.Parse(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:16], sid[:])
	copy(raw[16:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken splits an opaque refresh token back into its session
// ID and secret. Any malformed input fails without revealing which part
// was wrong.
func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var sid uuid.UUID
	copy(sid[:], raw[:16])
	copy(secret[:], raw[16:])

	return sid.String(), secret, nil
}

// recovery codes use the RFC 4648 base32 alphabet; no 0/1/8/9 lookalikes
const recoveryAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// NewRecoveryCode returns one XXXX-XXXX recovery code.
func NewRecoveryCode() (string, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}

	buf := make([]byte, 9)
	for i := 0; i < 8; i++ {
		pos := i
		if i >= 4 {
			pos = i + 1
		}
		buf[pos] = recoveryAlphabet[int(raw[i])%len(recoveryAlphabet)]
	}
	buf[4] = '-'

	return string(buf), nil
}

// NewBackupKey returns the single long-form recovery credential issued at
// MFA setup.
func NewBackupKey() (string, error) {
	var raw [backupKeySize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:]), nil
}

// SaltedHash binds a secret to a user ID so identical codes issued to
// different users never share a stored hash.
func SaltedHash(userID, value string) [32]byte {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(value))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
