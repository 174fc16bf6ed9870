package repository

import "github.com/redis/go-redis/v9"

// Transition scripts run the whole check-then-write sequence inside Redis so
// that concurrent callers on the same request are serialized. Each returns
// {status} on rejection or {status, HGETALL} on success.
//
// KEYS[1] request hash, ARGV[1] caller id, ARGV[2] now (unix ms), ARGV[3] request id.

// KEYS[2] is the caller's claimed index.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {'not_found'} end
local f = redis.call('HMGET', KEYS[1], 'created_by', 'completed_by', 'expires_at', 'created_at')
if tonumber(f[3]) <= tonumber(ARGV[2]) then return {'not_found'} end
if f[1] == ARGV[1] then return {'self_help'} end
if f[2] and f[2] ~= '' then
  if f[2] ~= ARGV[1] then return {'already_claimed'} end
  return {'unchanged', redis.call('HGETALL', KEYS[1])}
end
redis.call('HSET', KEYS[1], 'completed_by', ARGV[1], 'helper_confirmed', '1', 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[2], f[4], ARGV[3])
return {'claimed', redis.call('HGETALL', KEYS[1])}
`)

// KEYS[2] is the open GEO set; a closed request leaves it.
var confirmScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {'not_found'} end
local f = redis.call('HMGET', KEYS[1], 'created_by', 'completed_by', 'expires_at', 'helper_confirmed', 'is_completed')
if tonumber(f[3]) <= tonumber(ARGV[2]) then return {'not_found'} end
if f[1] ~= ARGV[1] then return {'forbidden'} end
if not f[2] or f[2] == '' then return {'no_helper'} end
if f[5] == '1' then return {'unchanged', redis.call('HGETALL', KEYS[1])} end
redis.call('HSET', KEYS[1], 'seeker_confirmed', '1', 'updated_at', ARGV[2])
if f[4] == '1' then
  redis.call('HSET', KEYS[1], 'is_completed', '1', 'completed_at', ARGV[2])
  redis.call('ZREM', KEYS[2], ARGV[3])
  return {'closed', redis.call('HGETALL', KEYS[1])}
end
return {'confirmed', redis.call('HGETALL', KEYS[1])}
`)
