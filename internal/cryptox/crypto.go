// Package cryptox seals and opens byte payloads with a passphrase. It is used
// for exported backup archives that leave the device.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32
)

// ErrDecrypt is returned when a sealed payload cannot be opened, either
// because the passphrase is wrong or the ciphertext was modified.
var ErrDecrypt = errors.New("unable to decrypt payload")

// Sealed is an AES-GCM ciphertext with the parameters needed to open it.
type Sealed struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// DeriveKey derives a 256-bit key from passphrase and salt with argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// Seal encrypts plaintext under a key derived from passphrase. A fresh salt
// and nonce are generated for every call.
func Seal(plaintext, passphrase []byte) (*Sealed, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}

	key := DeriveKey(passphrase, salt)
	defer Wipe(key)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	return &Sealed{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open reverses Seal.
func Open(s *Sealed, passphrase []byte) ([]byte, error) {
	if s == nil || len(s.Salt) == 0 || len(s.Nonce) == 0 {
		return nil, ErrDecrypt
	}

	key := DeriveKey(passphrase, s.Salt)
	defer Wipe(key)
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aead.NonceSize() {
		return nil, ErrDecrypt
	}

	plaintext, err := aead.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Wipe overwrites b with zeros so passphrases and keys do not linger in
// memory. A nil slice is a no-op.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
