package domain

import (
	"testing"
	"time"
)

func TestPasteExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)
	tests := []struct {
		name string
		exp  *time.Time
		want bool
	}{
		{"no ttl", nil, false},
		{"elapsed", &past, true},
		{"exactly now", &now, true},
		{"future", &future, false},
	}
	for _, tt := range tests {
		p := &Paste{ExpDate: tt.exp}
		if got := p.Expired(now); got != tt.want {
			t.Errorf("%s: Expired() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPasteEncrypted(t *testing.T) {
	if (&Paste{}).Encrypted() {
		t.Error("plain paste reported as encrypted")
	}
	if !(&Paste{Nonce: "aa", Salt: "bb"}).Encrypted() {
		t.Error("sealed paste reported as plain")
	}
	if !(&Paste{Nonce: "aa"}).Encrypted() {
		t.Error("half-sealed paste must be treated as encrypted")
	}
}
