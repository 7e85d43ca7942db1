package routers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/infergate/infergate/pkg/router"
)

// DefaultLedgerKeyPrefix namespaces performance hashes in Redis.
const DefaultLedgerKeyPrefix = "infergate:ledger"

// RedisLedgerStore implements router.LedgerStore using Redis for shared
// statistics. Gateway instances pointed at the same backend converge on one
// view of provider performance; the smoothing update runs inside a Lua
// script so concurrent writers cannot interleave.
//
// Keys are hash-tagged with the provider id so Redis Cluster keeps each
// provider's hash in a single slot.
type RedisLedgerStore struct {
	client redis.UniversalClient
	prefix string
	alpha  float64

	seedsMu sync.RWMutex
	seeds   map[router.ProviderID]router.Performance

	// Precompiled Lua scripts
	recordScript *redis.Script
	resetScript  *redis.Script
}

var _ router.LedgerStore = (*RedisLedgerStore)(nil)

// RedisLedgerOption configures RedisLedgerStore.
type RedisLedgerOption func(*RedisLedgerStore)

// WithLedgerKeyPrefix sets the Redis key prefix (default: "infergate:ledger").
func WithLedgerKeyPrefix(prefix string) RedisLedgerOption {
	return func(r *RedisLedgerStore) {
		r.prefix = prefix
	}
}

// WithLedgerAlpha sets the smoothing factor in (0, 1] (default: 0.1).
func WithLedgerAlpha(alpha float64) RedisLedgerOption {
	return func(r *RedisLedgerStore) {
		if alpha > 0 && alpha <= 1 {
			r.alpha = alpha
		}
	}
}

// NewRedisLedgerStore creates a Redis-backed ledger store. Seeds are applied
// lazily: a provider's hash is created from its seed on the first Record or
// returned synthetically by Get and Snapshot until then, so a new instance
// joining an existing deployment never clobbers live records.
func NewRedisLedgerStore(client redis.UniversalClient, seeds map[router.ProviderID]router.Performance, opts ...RedisLedgerOption) *RedisLedgerStore {
	store := &RedisLedgerStore{
		client: client,
		prefix: DefaultLedgerKeyPrefix,
		alpha:  DefaultAlpha,
		seeds:  make(map[router.ProviderID]router.Performance, len(seeds)),
	}
	for id, seed := range seeds {
		store.seeds[id] = seed
	}

	// Apply options
	for _, opt := range opts {
		opt(store)
	}

	// Precompile Lua scripts
	store.recordScript = redis.NewScript(recordOutcomeScript)
	store.resetScript = redis.NewScript(resetOutcomeScript)

	return store
}

// Get retrieves the record for one provider.
func (r *RedisLedgerStore) Get(ctx context.Context, id router.ProviderID) (router.Performance, error) {
	fields, err := r.client.HGetAll(ctx, r.providerKey(id)).Result()
	if err != nil {
		return router.Performance{}, fmt.Errorf("redis ledger get: %w", err)
	}
	if len(fields) == 0 {
		if seed, ok := r.seed(id); ok {
			return seedRecord(id, seed), nil
		}
		return router.Performance{}, router.ErrPerformanceNotFound
	}
	return parsePerformanceHash(id, fields), nil
}

// Record folds one call outcome into the provider's hash. Providers without
// a seed adopt the first sample directly: passing the sample as its own seed
// makes the smoothing update resolve to the sample.
func (r *RedisLedgerStore) Record(ctx context.Context, id router.ProviderID, latencyMs float64, success bool) error {
	seedLatency := latencyMs
	seedRate := 0.0
	if success {
		seedRate = 1.0
	}
	if seed, ok := r.seed(id); ok {
		seedLatency = seed.AvgLatencyMs
		seedRate = seed.SuccessRate
	}

	keys := []string{r.providerKey(id)}
	args := []interface{}{latencyMs, boolToInt(success), r.alpha, seedLatency, seedRate}

	if err := r.recordScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis ledger record: %w", err)
	}
	return nil
}

// Snapshot returns the current record for every seeded provider. Hashes are
// fetched in one pipeline round trip; providers with no traffic yet report
// their seed estimate with a zero request count.
func (r *RedisLedgerStore) Snapshot(ctx context.Context) (map[router.ProviderID]router.Performance, error) {
	r.seedsMu.RLock()
	ids := make([]router.ProviderID, 0, len(r.seeds))
	seeds := make(map[router.ProviderID]router.Performance, len(r.seeds))
	for id, seed := range r.seeds {
		ids = append(ids, id)
		seeds[id] = seed
	}
	r.seedsMu.RUnlock()

	pipe := r.client.Pipeline()
	cmds := make(map[router.ProviderID]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, r.providerKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis ledger snapshot: %w", err)
	}

	out := make(map[router.ProviderID]router.Performance, len(ids))
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			out[id] = seedRecord(id, seeds[id])
			continue
		}
		out[id] = parsePerformanceHash(id, fields)
	}
	return out, nil
}

// Reset replaces every provider's hash with its seed estimate and installs
// the given seeds for subsequent lazy creation.
func (r *RedisLedgerStore) Reset(ctx context.Context, seeds map[router.ProviderID]router.Performance) error {
	for id, seed := range seeds {
		keys := []string{r.providerKey(id)}
		args := []interface{}{seed.AvgLatencyMs, seed.SuccessRate}
		if err := r.resetScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
			return fmt.Errorf("redis ledger reset %s: %w", id, err)
		}
	}

	r.seedsMu.Lock()
	r.seeds = make(map[router.ProviderID]router.Performance, len(seeds))
	for id, seed := range seeds {
		r.seeds[id] = seed
	}
	r.seedsMu.Unlock()

	return nil
}

// Close releases any resources held by the store.
func (r *RedisLedgerStore) Close() error {
	// Redis client is shared, don't close it here
	return nil
}

func (r *RedisLedgerStore) seed(id router.ProviderID) (router.Performance, bool) {
	r.seedsMu.RLock()
	defer r.seedsMu.RUnlock()
	seed, ok := r.seeds[id]
	return seed, ok
}

func (r *RedisLedgerStore) providerKey(id router.ProviderID) string {
	return fmt.Sprintf("%s:{%s}", r.prefix, id)
}

func seedRecord(id router.ProviderID, seed router.Performance) router.Performance {
	return router.Performance{
		Provider:     id,
		AvgLatencyMs: seed.AvgLatencyMs,
		SuccessRate:  seed.SuccessRate,
	}
}

func parsePerformanceHash(id router.ProviderID, fields map[string]string) router.Performance {
	perf := router.Performance{Provider: id}
	if v, err := strconv.ParseFloat(fields["avg_latency_ms"], 64); err == nil {
		perf.AvgLatencyMs = v
	}
	if v, err := strconv.ParseFloat(fields["success_rate"], 64); err == nil {
		perf.SuccessRate = v
	}
	if v, err := strconv.ParseInt(fields["request_count"], 10, 64); err == nil {
		perf.RequestCount = v
	}
	if v, err := strconv.ParseInt(fields["last_updated_ms"], 10, 64); err == nil && v > 0 {
		perf.LastUpdated = time.UnixMilli(v)
	}
	return perf
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
