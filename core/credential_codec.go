package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CredentialCodec converts a token pair to and from the per-field encrypted
// credential map stored on a connection. Each field is sealed independently
// so refreshing only the access token re-encrypts only that field.
type CredentialCodec struct {
	Secrets SecretProvider
}

func NewCredentialCodec(secrets SecretProvider) (*CredentialCodec, error) {
	if secrets == nil {
		return nil, fmt.Errorf("core: secret provider is required")
	}
	return &CredentialCodec{Secrets: secrets}, nil
}

func (c *CredentialCodec) Seal(ctx context.Context, tokens TokenPair) (map[string]string, error) {
	if c == nil || c.Secrets == nil {
		return nil, fmt.Errorf("core: credential codec is not configured")
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return nil, fmt.Errorf("core: access token is required")
	}

	fields := map[string]string{
		CredentialFieldAccessToken: tokens.AccessToken,
	}
	if strings.TrimSpace(tokens.RefreshToken) != "" {
		fields[CredentialFieldRefreshToken] = tokens.RefreshToken
	}
	if strings.TrimSpace(tokens.ProviderUserID) != "" {
		fields[CredentialFieldProviderUserID] = tokens.ProviderUserID
	}
	if tokens.ExpiresAt != nil {
		fields[CredentialFieldExpiresAt] = tokens.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	sealed := make(map[string]string, len(fields))
	for field, value := range fields {
		ciphertext, err := c.Secrets.Encrypt(ctx, []byte(value))
		if err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("core: encrypt credential field %q", field), err)
		}
		sealed[field] = string(ciphertext)
	}
	return sealed, nil
}

// SealField seals a single field for partial rotation.
func (c *CredentialCodec) SealField(ctx context.Context, field string, value string) (string, error) {
	if c == nil || c.Secrets == nil {
		return "", fmt.Errorf("core: credential codec is not configured")
	}
	if strings.TrimSpace(field) == "" || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("core: credential field and value are required")
	}
	ciphertext, err := c.Secrets.Encrypt(ctx, []byte(value))
	if err != nil {
		return "", NewConfigurationError(fmt.Sprintf("core: encrypt credential field %q", field), err)
	}
	return string(ciphertext), nil
}

// Open decrypts a connection's credential map back into a token pair.
// Decryption failure is a configuration error: it is fatal for the
// connection and must never trigger a network retry.
func (c *CredentialCodec) Open(ctx context.Context, credentials map[string]string) (TokenPair, error) {
	if c == nil || c.Secrets == nil {
		return TokenPair{}, fmt.Errorf("core: credential codec is not configured")
	}
	if len(credentials) == 0 {
		return TokenPair{}, NewConfigurationError("core: connection has no stored credentials", nil)
	}

	opened := make(map[string]string, len(credentials))
	for field, ciphertext := range credentials {
		if strings.TrimSpace(ciphertext) == "" {
			continue
		}
		plaintext, err := c.Secrets.Decrypt(ctx, []byte(ciphertext))
		if err != nil {
			return TokenPair{}, NewConfigurationError(fmt.Sprintf("core: decrypt credential field %q", field), err)
		}
		opened[field] = string(plaintext)
	}

	tokens := TokenPair{
		AccessToken:    opened[CredentialFieldAccessToken],
		RefreshToken:   opened[CredentialFieldRefreshToken],
		ProviderUserID: opened[CredentialFieldProviderUserID],
	}
	if tokens.AccessToken == "" {
		return TokenPair{}, NewConfigurationError("core: stored credentials are missing an access token", nil)
	}
	if raw := strings.TrimSpace(opened[CredentialFieldExpiresAt]); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return TokenPair{}, NewConfigurationError("core: stored credential expiry is malformed", err)
		}
		expiresAt := parsed.UTC()
		tokens.ExpiresAt = &expiresAt
	}
	return tokens, nil
}
