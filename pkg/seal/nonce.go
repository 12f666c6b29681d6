package seal

import (
	"crypto/rand"
	"github.com/pkg/errors"
	"io"
	"sync"
)

const NonceSize = 12

var ErrNonceReused = errors.New("nonce already consumed")

// OneShotNonce hands out its value exactly once. Every later Take fails,
// so a nonce can never feed two seal operations.
type OneShotNonce struct {
	mu    sync.Mutex
	value []byte
	used  bool
}

func NewNonce() (*OneShotNonce, error) {
	b := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}
	return &OneShotNonce{value: b}, nil
}

// NonceFrom wraps a nonce loaded from storage. The slice is copied.
func NonceFrom(b []byte) *OneShotNonce {
	v := make([]byte, len(b))
	copy(v, b)
	return &OneShotNonce{value: v}
}

func (n *OneShotNonce) Take() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.used {
		return nil, ErrNonceReused
	}
	n.used = true
	v := n.value
	n.value = nil
	return v, nil
}
