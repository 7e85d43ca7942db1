// Package env resolves env:// secret references from process environment
// variables.
package env

import (
	"context"
	"fmt"
	"os"
)

// Provider reads secrets from the environment. An env://NAME reference
// resolves to $NAME.
type Provider struct{}

// New creates the environment provider.
func New() *Provider {
	return &Provider{}
}

// Get returns the value of the named variable. Unset variables are an
// error so a typoed reference fails loudly at startup instead of routing
// with an empty key.
func (p *Provider) Get(_ context.Context, name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", name)
	}
	return value, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
