package routers

// This file contains Lua scripts for atomic Redis operations on the
// performance ledger. Running the smoothing math inside Redis keeps
// concurrent writers from interleaving when several gateway instances
// share one backend.

const (
	// recordOutcomeScript folds one request outcome into a provider's
	// performance hash, seeding the hash on first touch.
	//
	// Keys:
	//   KEYS[1] - performance hash key (e.g. "infergate:ledger:{ollama}")
	//
	// Args:
	//   ARGV[1] - latency sample in milliseconds (float)
	//   ARGV[2] - success flag (1 or 0)
	//   ARGV[3] - smoothing factor alpha (float)
	//   ARGV[4] - seed average latency in milliseconds (float)
	//   ARGV[5] - seed success rate (float)
	//
	// Returns:
	//   {avg_latency_ms, success_rate, request_count} after the update
	recordOutcomeScript = `
local key = KEYS[1]

local latency = tonumber(ARGV[1])
local success = tonumber(ARGV[2])
local alpha = tonumber(ARGV[3])
local seed_latency = tonumber(ARGV[4])
local seed_rate = tonumber(ARGV[5])

local time_data = redis.call('TIME')
local now_ms = tonumber(time_data[1]) * 1000 + math.floor(tonumber(time_data[2]) / 1000)

local avg = tonumber(redis.call('HGET', key, 'avg_latency_ms'))
local rate = tonumber(redis.call('HGET', key, 'success_rate'))

if not avg then
    avg = seed_latency
end
if not rate then
    rate = seed_rate
end

local sample = 0
if success == 1 then
    sample = 1
end

avg = avg * (1.0 - alpha) + latency * alpha
rate = rate * (1.0 - alpha) + sample * alpha

-- Lua numbers truncate to integers when passed to commands, which would
-- zero out fractional rates. Stringify explicitly.
local count = redis.call('HINCRBY', key, 'request_count', 1)
redis.call('HSET', key, 'avg_latency_ms', tostring(avg))
redis.call('HSET', key, 'success_rate', tostring(rate))
redis.call('HSET', key, 'last_updated_ms', now_ms)

return {tostring(avg), tostring(rate), count}
`

	// resetOutcomeScript replaces a provider's performance hash with its
	// seed estimate.
	//
	// Keys:
	//   KEYS[1] - performance hash key
	//
	// Args:
	//   ARGV[1] - seed average latency in milliseconds (float)
	//   ARGV[2] - seed success rate (float)
	//
	// Returns:
	//   "OK"
	resetOutcomeScript = `
local key = KEYS[1]

redis.call('DEL', key)
redis.call('HSET', key, 'avg_latency_ms', ARGV[1])
redis.call('HSET', key, 'success_rate', ARGV[2])
redis.call('HSET', key, 'request_count', 0)
redis.call('HSET', key, 'last_updated_ms', 0)

return redis.status_reply("OK")
`
)
