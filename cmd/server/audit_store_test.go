package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infergate/infergate/internal/config"
)

func TestBuildAuditStore_Disabled(t *testing.T) {
	store, stop, err := buildAuditStore(context.Background(), &config.Config{}, discardLogger())
	require.NoError(t, err)
	require.Nil(t, store)
	require.Nil(t, stop)
}

func TestBuildAuditStore_MemoryBackend(t *testing.T) {
	cfg := &config.Config{
		Audit: config.Audit{Enabled: true, Backend: "memory", MemoryCapacity: 10},
	}

	store, stop, err := buildAuditStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, store)
	// No retention window, no background job.
	require.Nil(t, stop)
}

func TestBuildAuditStore_DefaultsToMemory(t *testing.T) {
	cfg := &config.Config{
		Audit: config.Audit{Enabled: true},
	}

	store, stop, err := buildAuditStore(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Nil(t, stop)
}

func TestBuildAuditStore_UnknownBackend(t *testing.T) {
	cfg := &config.Config{
		Audit: config.Audit{Enabled: true, Backend: "cassandra"},
	}

	_, _, err := buildAuditStore(context.Background(), cfg, discardLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "cassandra")
}

type fakeRetentionStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakeRetentionStore) DeleteRecords(olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, olderThan)
	return 1, nil
}

func (f *fakeRetentionStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestStartRetentionJob_PurgesImmediately(t *testing.T) {
	store := &fakeRetentionStore{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := startRetentionJob(ctx, store, 24*time.Hour, discardLogger())
	require.NotNil(t, stop)
	defer stop()

	require.Equal(t, 1, store.calls())

	store.mu.Lock()
	cutoff := store.cutoffs[0]
	store.mu.Unlock()
	require.WithinDuration(t, time.Now().Add(-24*time.Hour), cutoff, time.Minute)

	stop()
	stop()
}

func TestStartRetentionJob_NoRetentionNoJob(t *testing.T) {
	store := &fakeRetentionStore{}

	stop := startRetentionJob(context.Background(), store, 0, discardLogger())
	require.Nil(t, stop)
	require.Equal(t, 0, store.calls())
}
