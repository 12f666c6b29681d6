package kms

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type awsProvider struct {
	kmsClient *kms.Client
	smClient  *secretsmanager.Client
	keyID     string
}

func newAWSProvider(ctx context.Context, region string) (*awsProvider, error) {
	conf, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		kmsClient: kms.NewFromConfig(conf),
		smClient:  secretsmanager.NewFromConfig(conf),
		keyID:     getEnvOrDefault("KMS_MASTER_KEY_ID", "alias/upaste-signing"),
	}, nil
}

func (a *awsProvider) Name() string { return "aws" }

func awsContext(aad []byte) map[string]string {
	if len(aad) == 0 {
		return nil
	}
	return map[string]string{"context": base64.StdEncoding.EncodeToString(aad)}
}

func (a *awsProvider) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	out, err := a.kmsClient.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             &a.keyID,
		Plaintext:         plaintext,
		EncryptionContext: awsContext(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms encrypt failed: %w", err)
	}
	return out.CiphertextBlob, nil
}

func (a *awsProvider) Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error) {
	out, err := a.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob:    ciphertext,
		EncryptionContext: awsContext(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt failed: %w", err)
	}
	return out.Plaintext, nil
}

func (a *awsProvider) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := a.smClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s is binary, not string", name)
	}
	return *out.SecretString, nil
}
