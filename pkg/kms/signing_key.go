package kms

import (
	"context"
	"encoding/base64"
	"fmt"
)

// signingKeyContext binds wrapped signing keys to their purpose.
var signingKeyContext = EncryptionContext{"purpose": "upaste-signing-key"}

const MinSigningKeyLen = 32

// WrapSigningKey encrypts key for storage in SIGNING_KEY_CIPHERTEXT.
func WrapSigningKey(ctx context.Context, a *Adapter, key []byte) (string, error) {
	if len(key) < MinSigningKeyLen {
		return "", fmt.Errorf("signing key must be at least %d bytes", MinSigningKeyLen)
	}
	ct, err := a.Encrypt(ctx, key, signingKeyContext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// UnwrapSigningKey reverses WrapSigningKey.
func UnwrapSigningKey(ctx context.Context, a *Adapter, wrapped string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("SIGNING_KEY_CIPHERTEXT must be base64: %w", err)
	}
	key, err := a.Decrypt(ctx, ct, signingKeyContext)
	if err != nil {
		return nil, fmt.Errorf("unwrap signing key: %w", err)
	}
	if len(key) < MinSigningKeyLen {
		return nil, fmt.Errorf("unwrapped signing key is shorter than %d bytes", MinSigningKeyLen)
	}
	return key, nil
}

// FetchSigningKey reads the signing key from the secret store.
func FetchSigningKey(ctx context.Context, a *Adapter, name string) ([]byte, error) {
	v, err := a.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(v) < MinSigningKeyLen {
		return nil, fmt.Errorf("secret %s is shorter than %d bytes", name, MinSigningKeyLen)
	}
	return []byte(v), nil
}
