// Package cryptobox implements the single-use credential scheme used to
// protect cabinet passwords in transit: X25519 sealed boxes with all key
// material and ciphertext carried as hex strings.
//
// The server hands out the public key, the client seals the password under
// it, and the server opens the ciphertext with the stored keypair. Every
// failure on the open path (bad hex, bad key material, failed decryption,
// non-UTF-8 plaintext) collapses into ErrDecryptionFailed so the caller
// learns nothing about which step rejected the input.
package cryptobox

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/nacl/box"
)

// ErrDecryptionFailed is the single error returned for any failure while
// recovering a plaintext from a sealed box.
var ErrDecryptionFailed = errors.New("decryption failed")

const keySize = 32

// GenerateKeypair creates a fresh X25519 keypair and returns both halves
// hex-encoded, public key first.
func GenerateKeypair() (publicKey, secretKey string, err error) {
	pk, sk, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(pk[:]), hex.EncodeToString(sk[:]), nil
}

// SealHex encrypts plaintext to the given hex public key and returns the
// sealed box hex-encoded. This is what a client does before submitting a
// password; the server only ever calls OpenHex.
func SealHex(publicKey string, plaintext []byte) (string, error) {
	pk, err := decodeKey(publicKey)
	if err != nil {
		return "", err
	}
	sealed, err := box.SealAnonymous(nil, plaintext, pk, rand.Reader)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sealed), nil
}

// OpenHex decrypts a hex-encoded sealed box with the given hex keypair and
// returns the plaintext, which must be valid UTF-8 text.
func OpenHex(publicKey, secretKey, ciphertext string) (string, error) {
	pk, err := decodeKey(publicKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	sk, err := decodeKey(secretKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	sealed, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	plaintext, ok := box.OpenAnonymous(nil, sealed, pk, sk)
	if !ok {
		return "", ErrDecryptionFailed
	}
	if !utf8.Valid(plaintext) {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func decodeKey(s string) (*[keySize]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != keySize {
		return nil, errors.New("invalid key length")
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
