package kms

import (
	"context"
	"fmt"

	gcpkms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
)

// gcpProvider wraps a Cloud KMS symmetric key. Cloud KMS holds no named
// secrets, so GetSecret always misses and the adapter policy decides whether
// the fallback may answer.
type gcpProvider struct {
	client  *gcpkms.KeyManagementClient
	keyName string
}

func newGCPProvider(ctx context.Context, keyName string) (*gcpProvider, error) {
	client, err := gcpkms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating cloud kms client: %w", err)
	}
	return &gcpProvider{client: client, keyName: keyName}, nil
}

func (g *gcpProvider) Name() string { return "gcp" }

func (g *gcpProvider) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	resp, err := g.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:                        g.keyName,
		Plaintext:                   plaintext,
		AdditionalAuthenticatedData: aad,
	})
	if err != nil {
		return nil, fmt.Errorf("cloud kms encrypt failed: %w", err)
	}
	return resp.Ciphertext, nil
}

func (g *gcpProvider) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	resp, err := g.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:                        g.keyName,
		Ciphertext:                  ciphertext,
		AdditionalAuthenticatedData: aad,
	})
	if err != nil {
		return nil, fmt.Errorf("cloud kms decrypt failed: %w", err)
	}
	return resp.Plaintext, nil
}

func (g *gcpProvider) GetSecret(ctx context.Context, name string) (string, error) {
	return "", fmt.Errorf("%w: %s (cloud kms stores no secrets)", ErrSecretNotFound, name)
}
