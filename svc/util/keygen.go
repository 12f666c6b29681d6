package util

import (
	"crypto/rand"
	"github.com/pkg/errors"
	"math/big"
	"upaste/pkg/domain"
)

// KeyAlphabet is lowercase alphanumerics without the look-alikes l, 1, i, o and 0.
const KeyAlphabet = "abcdefghjkmnpqrstuvwxyz23456789"

const (
	MinKeyLen      = 5
	FallbackKeyLen = 32
	maxKeyGrowth   = 12
)

var alphabetSize = big.NewInt(int64(len(KeyAlphabet)))

// GenKey allocates a public key starting at MinKeyLen. exists is called
// once per candidate and should run inside the caller's transaction.
func GenKey(exists func(string) (bool, error)) (string, error) {
	return GenKeyFrom(MinKeyLen, exists)
}

// GenKeyFrom grows the key by one character per collision. After
// maxKeyGrowth collisions it makes a single attempt at FallbackKeyLen.
func GenKeyFrom(length int, exists func(string) (bool, error)) (string, error) {
	if length < MinKeyLen {
		length = MinKeyLen
	}
	for attempt := 0; attempt <= maxKeyGrowth && length < FallbackKeyLen; attempt++ {
		ok, key, err := tryKey(length, exists)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
		length++
	}
	ok, key, err := tryKey(FallbackKeyLen, exists)
	if err != nil {
		return "", err
	}
	if ok {
		return key, nil
	}
	return "", domain.ErrKeyAllocation
}

func tryKey(length int, exists func(string) (bool, error)) (bool, string, error) {
	key, err := RandomKey(length)
	if err != nil {
		return false, "", err
	}
	taken, err := exists(key)
	if err != nil {
		return false, "", err
	}
	return !taken, key, nil
}

func RandomKey(length int) (string, error) {
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = KeyAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidKey reports whether s could have been produced by the allocator.
func ValidKey(s string) bool {
	if len(s) < MinKeyLen || len(s) > FallbackKeyLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !inAlphabet(s[i]) {
			return false
		}
	}
	return true
}
func inAlphabet(c byte) bool {
	for i := 0; i < len(KeyAlphabet); i++ {
		if KeyAlphabet[i] == c {
			return true
		}
	}
	return false
}
