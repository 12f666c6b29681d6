package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ClientHasher maps client addresses to opaque rate-limit identities. The
// HMAC key rotates every interval so identities cannot be linked across
// epochs.
type ClientHasher struct {
	interval time.Duration
	pepper   []byte
	clock    Clock

	mu    sync.Mutex
	epoch int64
	key   []byte
}

func NewClientHasher(pepper []byte, interval time.Duration, clock Clock) (*ClientHasher, error) {
	if interval < time.Minute {
		return nil, errors.New("rotation interval must be >= 1 minute")
	}
	if len(pepper) < 16 {
		return nil, errors.New("pepper must be at least 16 bytes")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	p := make([]byte, len(pepper))
	copy(p, pepper)
	return &ClientHasher{interval: interval, pepper: p, clock: clock, epoch: -1}, nil
}

func (h *ClientHasher) Hash(ip string) string {
	h.mu.Lock()
	epoch := h.clock.Now().Unix() / int64(h.interval.Seconds())
	if epoch != h.epoch {
		if h.key != nil {
			Wipe(h.key)
		}
		h.key = h.deriveKey(epoch)
		h.epoch = epoch
	}
	mac := hmac.New(sha256.New, h.key)
	h.mu.Unlock()
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}
func (h *ClientHasher) deriveKey(epoch int64) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte("client-hash-v1:" + strconv.FormatInt(epoch, 10)))
	return mac.Sum(nil)
}

func (h *ClientHasher) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	Wipe(h.key)
	Wipe(h.pepper)
}
