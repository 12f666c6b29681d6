package util

import (
	"testing"
	"time"
)

func TestClientHasherDeterministicWithinEpoch(t *testing.T) {
	clock := &FixedClock{T: time.Unix(1700000000, 0)}
	h, err := NewClientHasher([]byte("pepper-pepper-pepper-pepper-1234"), time.Hour, clock)
	if err != nil {
		t.Fatalf("NewClientHasher failed: %v", err)
	}
	defer h.Stop()

	a := h.Hash("192.168.1.100")
	b := h.Hash("192.168.1.100")
	if a != b {
		t.Fatalf("hash changed within epoch: %s != %s", a, b)
	}
	if a == h.Hash("192.168.1.101") {
		t.Fatal("different addresses share a hash")
	}
	if len(a) != 32 {
		t.Errorf("hash length = %d, want 32", len(a))
	}

	clock.Advance(2 * time.Hour)
	if a == h.Hash("192.168.1.100") {
		t.Fatal("hash did not rotate with the epoch")
	}
}

func TestClientHasherRejectsWeakConfig(t *testing.T) {
	if _, err := NewClientHasher([]byte("short"), time.Hour, nil); err == nil {
		t.Error("expected error for short pepper")
	}
	if _, err := NewClientHasher([]byte("pepper-pepper-pepper-pepper-1234"), time.Second, nil); err == nil {
		t.Error("expected error for short interval")
	}
}

func TestRedactKey(t *testing.T) {
	if got := RedactKey("abcdefg"); got != "ab***" {
		t.Errorf("RedactKey = %q", got)
	}
	if got := RedactKey("abc"); got != "***" {
		t.Errorf("RedactKey short = %q", got)
	}
}
