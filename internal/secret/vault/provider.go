// Package vault resolves vault:// secret references from HashiCorp Vault.
package vault

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// Config holds the Vault connection settings. The gateway authenticates
// with a pre-issued token; token lifecycle is the operator's concern.
type Config struct {
	Address string
	Token   string
}

// Provider reads secrets from Vault. A vault://secret/data/infergate#key
// reference reads the logical path before the # and picks the named field,
// defaulting to "value" when no field is given.
type Provider struct {
	client *vault.Client
}

// New creates a Vault provider and verifies the configuration is complete.
// No request is made until the first Get.
func New(cfg Config) (*Provider, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("vault token is required")
	}

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.Address

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Provider{client: client}, nil
}

// Get reads one secret field from Vault.
func (p *Provider) Get(ctx context.Context, path string) (string, error) {
	secretPath, field := splitField(path)

	secret, err := p.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("read vault secret %q: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault secret %q not found", secretPath)
	}

	// KV v2 nests the payload under a "data" key.
	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[field]
	if !ok {
		return "", fmt.Errorf("field %q not found in vault secret %q", field, secretPath)
	}
	return fmt.Sprintf("%v", value), nil
}

// Close releases the provider. The underlying HTTP client needs no
// teardown.
func (p *Provider) Close() error {
	return nil
}

func splitField(path string) (secretPath, field string) {
	if idx := strings.LastIndex(path, "#"); idx != -1 {
		return path[:idx], path[idx+1:]
	}
	return path, "value"
}
