package vault

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeVault serves a KV v2 secret at secret/data/infergate and a KV v1
// style secret at kv/legacy.
func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "unit-test-token" {
			http.Error(w, `{"errors":["permission denied"]}`, http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/secret/data/infergate":
			_, _ = w.Write([]byte(`{"data":{"data":{"api_key":"sk-local-123","jwt_secret":"signing-key"}}}`))
		case "/v1/kv/legacy":
			_, _ = w.Write([]byte(`{"data":{"value":"legacy-secret"}}`))
		default:
			http.Error(w, `{"errors":[]}`, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	srv := fakeVault(t)
	p, err := New(Config{Address: srv.URL, Token: "unit-test-token"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_RequiresAddressAndToken(t *testing.T) {
	_, err := New(Config{Token: "tok"})
	require.Error(t, err)

	_, err = New(Config{Address: "http://127.0.0.1:8200"})
	require.Error(t, err)
}

func TestProvider_GetKVv2Field(t *testing.T) {
	p := newTestProvider(t)

	value, err := p.Get(context.Background(), "secret/data/infergate#api_key")
	require.NoError(t, err)
	require.Equal(t, "sk-local-123", value)

	value, err = p.Get(context.Background(), "secret/data/infergate#jwt_secret")
	require.NoError(t, err)
	require.Equal(t, "signing-key", value)
}

func TestProvider_GetDefaultsToValueField(t *testing.T) {
	p := newTestProvider(t)

	value, err := p.Get(context.Background(), "kv/legacy")
	require.NoError(t, err)
	require.Equal(t, "legacy-secret", value)
}

func TestProvider_GetMissingField(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.Get(context.Background(), "secret/data/infergate#absent")
	require.Error(t, err)
	require.Contains(t, err.Error(), "absent")
}

func TestProvider_GetMissingSecret(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.Get(context.Background(), "secret/data/nothing#api_key")
	require.Error(t, err)
}
