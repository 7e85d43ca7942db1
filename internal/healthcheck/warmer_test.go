package healthcheck

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infergate/infergate"
	"github.com/infergate/infergate/pkg/router"
	"github.com/infergate/infergate/providers/ollamalike"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyBackend answers the tags probe, optionally with 503.
type flakyBackend struct {
	srv  *httptest.Server
	down atomic.Bool
}

func newFlakyBackend(t *testing.T) *flakyBackend {
	t.Helper()
	b := &flakyBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.down.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func newWarmerClient(t *testing.T, b *flakyBackend) *infergate.Client {
	t.Helper()
	prov := ollamalike.New(ollamalike.Info{
		Name:           "ollama",
		Kind:           router.KindInteractive,
		DefaultBaseURL: b.srv.URL,
	})
	client, err := infergate.New(
		infergate.WithProviderInstance("ollama", prov),
		infergate.WithLogger(testLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func available(t *testing.T, client *infergate.Client) bool {
	t.Helper()
	statuses := client.ProviderStatus(context.Background())
	require.Len(t, statuses, 1)
	return statuses[0].Available
}

func TestWarmer_RunOnceRefreshesStaleVerdicts(t *testing.T) {
	backend := newFlakyBackend(t)
	client := newWarmerClient(t, backend)

	warmer := NewWarmer(Config{Enabled: true, Interval: time.Second, Timeout: time.Second}, StaticClient{Client: client}, testLogger())
	warmer.runOnce(context.Background())
	require.True(t, available(t, client))

	// The backend goes down, but the cached verdict still says up.
	backend.down.Store(true)
	require.True(t, available(t, client), "verdict stays cached until the next sweep")

	// A forced sweep bypasses the cache.
	warmer.runOnce(context.Background())
	require.False(t, available(t, client))

	backend.down.Store(false)
	warmer.runOnce(context.Background())
	require.True(t, available(t, client))
}

func TestWarmer_StartHonorsDisabled(t *testing.T) {
	backend := newFlakyBackend(t)
	client := newWarmerClient(t, backend)

	warmer := NewWarmer(Config{Enabled: false}, StaticClient{Client: client}, testLogger())
	warmer.Start(context.Background())
	require.False(t, warmer.started.Load())
}

func TestWarmer_StartIsIdempotent(t *testing.T) {
	backend := newFlakyBackend(t)
	client := newWarmerClient(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	warmer := NewWarmer(Config{Enabled: true, Interval: time.Hour, Timeout: time.Second}, StaticClient{Client: client}, testLogger())
	warmer.Start(ctx)
	warmer.Start(ctx)
	require.True(t, warmer.started.Load())
}

func TestWarmer_DefaultsIntervalAndTimeout(t *testing.T) {
	warmer := NewWarmer(Config{Enabled: true}, nil, nil)
	require.Equal(t, defaultProbeInterval, warmer.cfg.Interval)
	require.Equal(t, defaultProbeTimeout, warmer.cfg.Timeout)
}
