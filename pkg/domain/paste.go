package domain

import (
	"time"
)

// Paste is one stored row. Content holds hex ciphertext when Nonce and
// Salt are set, plaintext otherwise.
type Paste struct {
	ID          int64      `json:"-"`
	Key         string     `json:"key"`
	Content     string     `json:"content"`
	ContentType string     `json:"content_type"`
	DateCreated time.Time  `json:"-"`
	DateViewed  time.Time  `json:"-"`
	ExpDate     *time.Time `json:"-"`
	Nonce       string     `json:"-"`
	Salt        string     `json:"-"`
	Signature   string     `json:"-"`
}

func (p *Paste) Encrypted() bool {
	return p.Nonce != "" || p.Salt != ""
}

// Expired reports whether the hard TTL has elapsed at now.
func (p *Paste) Expired(now time.Time) bool {
	return p.ExpDate != nil && !p.ExpDate.After(now)
}

type NewPaste struct {
	Content     string
	ContentType string
	TTL         time.Duration
	Passphrase  string
}
