// Package seal holds the per-paste cryptography: passphrase key
// derivation, AES-256-GCM sealing and HMAC signatures.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"github.com/pkg/errors"
	"unicode/utf8"
)

// ErrDecrypt is the only error surfaced by the decrypt path.
var ErrDecrypt = errors.New("decryption failed")

// Sealed is the hex form persisted alongside a paste.
type Sealed struct {
	Value string
	Nonce string
	Salt  string
}

func newAEAD(passphrase, salt []byte) (cipher.AEAD, error) {
	key := DeriveKey(passphrase, salt)
	defer wipe(key)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptBytes consumes nonce and returns the ciphertext together with the
// nonce value it took.
func EncryptBytes(plaintext []byte, nonce *OneShotNonce, passphrase, salt []byte) (ct, iv []byte, err error) {
	iv, err = nonce.Take()
	if err != nil {
		return nil, nil, err
	}
	if len(iv) != NonceSize {
		return nil, nil, errors.Errorf("nonce must be %d bytes", NonceSize)
	}
	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, nil, errors.Wrap(err, "init cipher")
	}
	return aead.Seal(nil, iv, plaintext, nil), iv, nil
}

func DecryptBytes(ciphertext []byte, nonce *OneShotNonce, passphrase, salt []byte) ([]byte, error) {
	iv, err := nonce.Take()
	if err != nil || len(iv) != NonceSize {
		return nil, ErrDecrypt
	}
	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, ErrDecrypt
	}
	plain, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Encrypt seals plaintext under a key derived from passphrase with a fresh
// salt and nonce.
func Encrypt(plaintext, passphrase string) (Sealed, error) {
	salt, err := NewSalt()
	if err != nil {
		return Sealed{}, err
	}
	nonce, err := NewNonce()
	if err != nil {
		return Sealed{}, err
	}
	ct, iv, err := EncryptBytes([]byte(plaintext), nonce, []byte(passphrase), salt)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{
		Value: hex.EncodeToString(ct),
		Nonce: hex.EncodeToString(iv),
		Salt:  hex.EncodeToString(salt),
	}, nil
}

func Decrypt(s Sealed, passphrase string) (string, error) {
	ct, err := hex.DecodeString(s.Value)
	if err != nil {
		return "", ErrDecrypt
	}
	iv, err := hex.DecodeString(s.Nonce)
	if err != nil {
		return "", ErrDecrypt
	}
	salt, err := hex.DecodeString(s.Salt)
	if err != nil || len(salt) == 0 {
		return "", ErrDecrypt
	}
	plain, err := DecryptBytes(ct, NonceFrom(iv), []byte(passphrase), salt)
	if err != nil {
		return "", ErrDecrypt
	}
	if !utf8.Valid(plain) {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
