package secret

import "context"

// Provider fetches secrets from one backing source.
type Provider interface {
	// Get retrieves the secret at path. The path is the reference with its
	// scheme stripped: "OLLAMA_API_KEY" for env, "secret/data/infergate#key"
	// for vault.
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}
