// Package svc holds the paste repository and the expiry sweeper.
package svc

import (
	"context"
	"time"
	"unicode/utf8"
	"upaste/metrics"
	"upaste/pkg/domain"
	"upaste/pkg/seal"
	"upaste/svc/db"
	"upaste/svc/util"

	"github.com/pkg/errors"
)

const (
	maxInsertAttempts = 3
	maxTTL            = 100 * 365 * 24 * time.Hour
)

// Store is the transactional storage the repository runs on.
type Store interface {
	WithTx(ctx context.Context, fn func(*db.Tx) error) error
	Exists(ctx context.Context, key string) (bool, error)
	CountOutdated(ctx context.Context, cutoff, now time.Time) (int64, error)
	DeleteOutdated(ctx context.Context, cutoff, now time.Time) (int64, error)
}

type Pastes struct {
	store      Store
	signingKey []byte
	clock      util.Clock
}

func NewPastes(store Store, signingKey []byte, clock util.Clock) *Pastes {
	if store == nil || len(signingKey) == 0 {
		panic("paste repository: nil store or empty signing key")
	}
	if clock == nil {
		clock = util.SystemClock{}
	}
	key := make([]byte, len(signingKey))
	copy(key, signingKey)
	return &Pastes{store: store, signingKey: key, clock: clock}
}

// Insert signs and optionally encrypts the paste, then allocates a key and
// writes the row in one transaction. The returned row holds what was
// stored, so Content is ciphertext for encrypted pastes.
func (p *Pastes) Insert(ctx context.Context, in domain.NewPaste) (*domain.Paste, error) {
	if in.TTL < 0 || in.TTL > maxTTL {
		return nil, domain.ErrInvalidTTL
	}
	if !utf8.ValidString(in.Content) {
		return nil, domain.ErrInvalidRequest
	}
	now := p.clock.Now().Truncate(time.Second)
	row := &domain.Paste{
		Content:     in.Content,
		ContentType: in.ContentType,
		DateCreated: now,
		DateViewed:  now,
		Signature:   seal.Sign(in.Content, p.signingKey),
	}
	if in.TTL > 0 {
		secs := (in.TTL + time.Second - 1) / time.Second
		exp := now.Add(secs * time.Second)
		row.ExpDate = &exp
	}
	if in.Passphrase != "" {
		sealed, err := seal.Encrypt(in.Content, in.Passphrase)
		if err != nil {
			return nil, errors.Wrap(err, "encrypt paste")
		}
		row.Content, row.Nonce, row.Salt = sealed.Value, sealed.Nonce, sealed.Salt
		metrics.EncryptionOps.WithLabelValues("encrypt").Inc()
	}

	startLen := util.MinKeyLen
	for attempt := 1; ; attempt++ {
		err := p.store.WithTx(ctx, func(tx *db.Tx) error {
			key, err := util.GenKeyFrom(startLen, tx.KeyExists)
			if err != nil {
				return err
			}
			row.Key = key
			return tx.InsertPaste(row)
		})
		if err == nil {
			break
		}
		if db.IsUniqueViolation(err) && attempt < maxInsertAttempts {
			metrics.KeyCollisions.Inc()
			util.Debug().Int("attempt", attempt).Msg("key conflict on insert, retrying")
			startLen++
			continue
		}
		return nil, errors.Wrap(err, "insert paste")
	}
	metrics.PasteCreated.Inc()
	return row, nil
}

// TouchAndGet bumps date_viewed and returns the paste with plaintext
// content. A paste whose ttl has elapsed is deleted, the deletion is
// committed, and ErrNotFound is returned.
func (p *Pastes) TouchAndGet(ctx context.Context, key, passphrase string) (*domain.Paste, error) {
	now := p.clock.Now()
	var row *domain.Paste
	expired := false
	err := p.store.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.TouchPaste(key, now); err != nil {
			return err
		}
		got, err := tx.GetByKey(key)
		if err != nil {
			return err
		}
		if got.Expired(now) {
			expired = true
			return tx.DeleteByID(got.ID)
		}
		row = got
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "touch paste")
	}
	if expired {
		metrics.PasteLazyExpired.Inc()
		util.Debug().Str("key", util.RedactKey(key)).Msg("paste expired on read")
		return nil, domain.ErrNotFound
	}
	plain, err := p.open(row, passphrase)
	if err != nil {
		return nil, err
	}
	row.Content = plain
	metrics.PasteRetrieved.Inc()
	return row, nil
}

func (p *Pastes) open(row *domain.Paste, passphrase string) (string, error) {
	plain := row.Content
	if row.Encrypted() {
		if row.Nonce == "" || row.Salt == "" {
			return "", p.reject(row.Key, "incomplete_crypto_params")
		}
		if passphrase == "" {
			return "", p.reject(row.Key, "passphrase_missing")
		}
		metrics.EncryptionOps.WithLabelValues("decrypt").Inc()
		s, err := seal.Decrypt(seal.Sealed{Value: row.Content, Nonce: row.Nonce, Salt: row.Salt}, passphrase)
		if err != nil {
			return "", p.reject(row.Key, "aead")
		}
		plain = s
	}
	if !seal.Verify(plain, row.Signature, p.signingKey) {
		return "", p.reject(row.Key, "signature")
	}
	return plain, nil
}

// reject logs the internal reason and returns the single public error.
func (p *Pastes) reject(key, reason string) error {
	metrics.DecryptionFailures.WithLabelValues(reason).Inc()
	if reason == "signature" {
		util.Warn().Str("key", util.RedactKey(key)).Msg("paste signature mismatch")
	} else {
		util.Debug().Str("key", util.RedactKey(key)).Str("reason", reason).Msg("paste decryption failed")
	}
	return domain.ErrDecryption
}

func (p *Pastes) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := p.store.Exists(ctx, key)
	return ok, errors.Wrap(err, "exists")
}

// CountOutdated predicts what DeleteOutdated(cutoff, now) would remove,
// with now taken from the repository clock.
func (p *Pastes) CountOutdated(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := p.store.CountOutdated(ctx, cutoff, p.clock.Now())
	return n, errors.Wrap(err, "count outdated")
}

func (p *Pastes) DeleteOutdated(ctx context.Context, cutoff, now time.Time) (int64, error) {
	n, err := p.store.DeleteOutdated(ctx, cutoff, now)
	return n, errors.Wrap(err, "delete outdated")
}

// Now exposes the repository clock to callers that pair it with DeleteOutdated.
func (p *Pastes) Now() time.Time {
	return p.clock.Now()
}
