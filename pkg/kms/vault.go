package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// vaultProvider uses the transit engine for encryption and a KV v2 mount
// for secrets.
type vaultProvider struct {
	client     *vault.Client
	transit    string
	keyName    string
	secretPath string
}

func newVaultProvider(ctx context.Context, addr string) (*vaultProvider, error) {
	conf := vault.DefaultConfig()
	conf.Address = addr
	conf.Timeout = 5 * time.Second
	client, err := vault.NewClient(conf)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		raw, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(raw)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	return &vaultProvider{
		client:     client,
		transit:    getEnvOrDefault("VAULT_MOUNT_PATH", "transit"),
		keyName:    getEnvOrDefault("VAULT_KEY_ID", "upaste-signing"),
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/upaste"),
	}, nil
}

func (v *vaultProvider) Name() string { return "vault" }

func (v *vaultProvider) transitWrite(ctx context.Context, op string, data map[string]interface{}, aad []byte) (map[string]interface{}, error) {
	if len(aad) > 0 {
		data["context"] = base64.StdEncoding.EncodeToString(aad)
	}
	secret, err := v.client.Logical().WriteWithContext(ctx, v.transit+"/"+op+"/"+v.keyName, data)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, fmt.Errorf("vault: empty %s response", op)
	}
	return secret.Data, nil
}

func (v *vaultProvider) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	out, err := v.transitWrite(ctx, "encrypt", map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}, aad)
	if err != nil {
		return nil, err
	}
	ct, ok := out["ciphertext"].(string)
	if !ok {
		return nil, errors.New("vault: ciphertext not found")
	}
	return []byte(ct), nil
}

func (v *vaultProvider) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	out, err := v.transitWrite(ctx, "decrypt", map[string]interface{}{
		"ciphertext": string(ciphertext),
	}, aad)
	if err != nil {
		return nil, err
	}
	pt, ok := out["plaintext"].(string)
	if !ok {
		return nil, errors.New("vault: plaintext not found")
	}
	return base64.StdEncoding.DecodeString(pt)
}

func (v *vaultProvider) GetSecret(ctx context.Context, name string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath+"/"+name)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}
