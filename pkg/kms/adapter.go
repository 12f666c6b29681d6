// Package kms resolves server secrets through Vault, AWS KMS and Secrets
// Manager, or a local key for development.
package kms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

var (
	ErrProviderUnavailable = errors.New("kms provider unavailable")
	ErrSecretNotFound      = errors.New("secret not found")
)

const opTimeout = 10 * time.Second

// EncryptionContext is bound to a ciphertext as associated data; decrypting
// with a different context fails.
type EncryptionContext map[string]string

type Provider interface {
	Name() string
	Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
	GetSecret(ctx context.Context, name string) (string, error)
}

type Adapter struct {
	primary        Provider
	fallback       Provider
	failClosed     bool
	requirePrimary bool
}

// NewAdapter picks Vault when VAULT_ADDR is set, then AWS when AWS_REGION is
// set, then Cloud KMS when GCP_KMS_KEY_NAME is set. KMS_LOCAL_KEY provides the fallback unless KMS_REQUIRE_PRIMARY=true.
func NewAdapter(ctx context.Context) (*Adapter, error) {
	requirePrimary := strings.ToLower(os.Getenv("KMS_REQUIRE_PRIMARY")) == "true"
	var primary, fallback Provider
	switch {
	case os.Getenv("VAULT_ADDR") != "":
		vp, err := newVaultProvider(ctx, os.Getenv("VAULT_ADDR"))
		if err != nil {
			return nil, fmt.Errorf("vault provider: %w", err)
		}
		primary = vp
	case os.Getenv("AWS_REGION") != "":
		ap, err := newAWSProvider(ctx, os.Getenv("AWS_REGION"))
		if err != nil {
			return nil, fmt.Errorf("aws provider: %w", err)
		}
		primary = ap
	case os.Getenv("GCP_KMS_KEY_NAME") != "":
		gp, err := newGCPProvider(ctx, os.Getenv("GCP_KMS_KEY_NAME"))
		if err != nil {
			return nil, fmt.Errorf("gcp provider: %w", err)
		}
		primary = gp
	}
	if !requirePrimary {
		if key := os.Getenv("KMS_LOCAL_KEY"); key != "" {
			lp, err := newLocalProvider(key)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize local provider: %w", err)
			}
			fallback = lp
		}
	}
	if primary == nil && fallback == nil {
		if requirePrimary {
			return nil, errors.New("KMS_REQUIRE_PRIMARY=true but no primary provider configured (VAULT_ADDR, AWS_REGION, GCP_KMS_KEY_NAME)")
		}
		return nil, errors.New("no KMS providers configured (VAULT_ADDR, AWS_REGION, GCP_KMS_KEY_NAME, KMS_LOCAL_KEY)")
	}
	failClosed := os.Getenv("KMS_FAIL_CLOSED") != "false"
	return newAdapter(primary, fallback, failClosed, requirePrimary), nil
}
func newAdapter(primary, fallback Provider, failClosed, requirePrimary bool) *Adapter {
	return &Adapter{
		primary:        primary,
		fallback:       fallback,
		failClosed:     failClosed,
		requirePrimary: requirePrimary,
	}
}

// Provider names the provider that will serve the next call.
func (a *Adapter) Provider() string {
	if a.primary != nil {
		return a.primary.Name()
	}
	return a.fallback.Name()
}

// do runs op on the primary and falls back only when policy allows it.
func do[T any](a *Adapter, op string, call func(Provider) (T, error)) (T, error) {
	var zero T
	if a.primary != nil {
		v, err := call(a.primary)
		if err == nil {
			return v, nil
		}
		if a.requirePrimary {
			return zero, fmt.Errorf("primary %s failed (KMS_REQUIRE_PRIMARY=true): %w", op, err)
		}
		if a.failClosed || a.fallback == nil {
			return zero, fmt.Errorf("kms %s failed: %w", op, err)
		}
	}
	if a.fallback != nil {
		return call(a.fallback)
	}
	return zero, ErrProviderUnavailable
}

func (a *Adapter) Encrypt(ctx context.Context, plaintext []byte, encContext EncryptionContext) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	aad := serializeEncryptionContext(encContext)
	return do(a, "encrypt", func(p Provider) ([]byte, error) {
		return p.Encrypt(ctx, plaintext, aad)
	})
}
func (a *Adapter) Decrypt(ctx context.Context, ciphertext []byte, encContext EncryptionContext) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	aad := serializeEncryptionContext(encContext)
	return do(a, "decrypt", func(p Provider) ([]byte, error) {
		return p.Decrypt(ctx, ciphertext, aad)
	})
}
func (a *Adapter) GetSecret(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return do(a, "get secret", func(p Provider) (string, error) {
		v, err := p.GetSecret(ctx, name)
		if err == nil && v == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrSecretNotFound, name)
		}
		return v, err
	})
}

func serializeEncryptionContext(ctx EncryptionContext) []byte {
	if len(ctx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(ctx[k])
		buf.WriteByte(';')
	}
	return buf.Bytes()
}
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
