package redis

import goredis "github.com/redis/go-redis/v9"

// KEYS: inactive, active, schedule, delayed
// ARGV: now, owner, job key prefix
var claimNextScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, m in ipairs(due) do
	local jk = ARGV[3] .. m
	local p = tonumber(redis.call('HGET', jk, 'priority') or '0')
	redis.call('ZREM', KEYS[3], m)
	redis.call('ZREM', KEYS[4], m)
	redis.call('ZADD', KEYS[1], -p, m)
	redis.call('HSET', jk, 'state', 'inactive', 'updated_at', ARGV[1])
end
local top = redis.call('ZRANGE', KEYS[1], 0, 0)
if #top == 0 then
	return false
end
local m = top[1]
local jk = ARGV[3] .. m
local p = tonumber(redis.call('HGET', jk, 'priority') or '0')
redis.call('ZREM', KEYS[1], m)
redis.call('ZADD', KEYS[2], -p, m)
redis.call('HINCRBY', jk, 'attempts_made', 1)
redis.call('HSET', jk, 'state', 'active', 'locked_by', ARGV[2], 'updated_at', ARGV[1])
return m
`)

// KEYS: job
// ARGV: now, owner, queue key prefix, member, required state
var claimScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local st = redis.call('HGET', KEYS[1], 'state')
if st == 'active' then
	return -2
end
if ARGV[5] ~= '' and st ~= ARGV[5] then
	return -3
end
local q = redis.call('HGET', KEYS[1], 'queue')
local p = tonumber(redis.call('HGET', KEYS[1], 'priority') or '0')
local base = ARGV[3] .. q .. ':'
redis.call('ZREM', base .. st, ARGV[4])
redis.call('ZREM', base .. 'schedule', ARGV[4])
redis.call('ZADD', base .. 'active', -p, ARGV[4])
redis.call('HINCRBY', KEYS[1], 'attempts_made', 1)
redis.call('HSET', KEYS[1], 'state', 'active', 'locked_by', ARGV[2], 'updated_at', ARGV[1])
return 1
`)

// KEYS: job
// ARGV: from, to, owner, has result, result, error, run_at, now, queue key prefix, member
var transitionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local st = redis.call('HGET', KEYS[1], 'state')
if ARGV[1] ~= '' and st ~= ARGV[1] then
	return -2
end
if ARGV[3] ~= '' and redis.call('HGET', KEYS[1], 'locked_by') ~= ARGV[3] then
	return -2
end
local q = redis.call('HGET', KEYS[1], 'queue')
local p = tonumber(redis.call('HGET', KEYS[1], 'priority') or '0')
local base = ARGV[9] .. q .. ':'
redis.call('ZREM', base .. st, ARGV[10])
redis.call('ZREM', base .. 'schedule', ARGV[10])
redis.call('ZADD', base .. ARGV[2], -p, ARGV[10])
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'updated_at', ARGV[8])
if ARGV[4] == '1' then
	redis.call('HSET', KEYS[1], 'output', ARGV[5])
end
if ARGV[6] ~= '' then
	redis.call('HSET', KEYS[1], 'error', ARGV[6])
end
if ARGV[2] ~= 'active' then
	redis.call('HSET', KEYS[1], 'locked_by', '')
end
if ARGV[2] == 'delayed' then
	redis.call('HSET', KEYS[1], 'run_at', ARGV[7])
	redis.call('ZADD', base .. 'schedule', tonumber(ARGV[7]), ARGV[10])
end
if ARGV[2] == 'inactive' then
	redis.call('PUBLISH', base .. 'new', '1')
end
return 1
`)

// KEYS: job
// ARGV: queue key prefix, member
var removeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
local st = redis.call('HGET', KEYS[1], 'state')
local q = redis.call('HGET', KEYS[1], 'queue')
local base = ARGV[1] .. q .. ':'
redis.call('ZREM', base .. st, ARGV[2])
redis.call('ZREM', base .. 'schedule', ARGV[2])
redis.call('DEL', KEYS[1])
return 1
`)
