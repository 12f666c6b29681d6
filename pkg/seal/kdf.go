package seal

import (
	"crypto/rand"
	"crypto/sha512"
	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
	"io"
)

const (
	KDFIterations = 100000
	KeySize       = 32
	SaltSize      = 16
)

func DeriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, KDFIterations, KeySize, sha512.New)
}

func NewSalt() ([]byte, error) {
	b := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.Wrap(err, "read salt")
	}
	return b, nil
}
