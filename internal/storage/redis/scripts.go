package redis

const (
	// recordSnapshotScript stores a snapshot, indexes it by day and advances
	// the latest pointer only when the snapshot is newer
	recordSnapshotScript = `
local snapshot_key = KEYS[1]    -- {prefix}:snapshot:{id}
local index_key = KEYS[2]       -- {prefix}:snapshots:daily:{date}
local latest_key = KEYS[3]      -- {prefix}:snapshot:latest

local id = ARGV[1]              -- unix milliseconds
local timestamp = ARGV[2]
local utilization = ARGV[3]
local resets_at = ARGV[4]
local ttl_seconds = tonumber(ARGV[5])

redis.call('HSET', snapshot_key,
  'id', id,
  'timestamp', timestamp,
  'utilization', utilization,
  'resets_at', resets_at
)

redis.call('ZADD', index_key, tonumber(id), id)

if ttl_seconds > 0 then
  redis.call('EXPIRE', snapshot_key, ttl_seconds)
  redis.call('EXPIRE', index_key, ttl_seconds)
end

local current = redis.call('GET', latest_key)
if (not current) or tonumber(current) < tonumber(id) then
  redis.call('SET', latest_key, id)
end

return 'OK'
`
)
