package redisstore

import "github.com/redis/go-redis/v9"

// Every mutation is a single script so that the existence check and the
// update execute atomically on the server.

// KEYS: room, roomNames, global, rooms, members
// ARGV: id, name, nameKey, isGlobal, createdBy, createdAt, lastMessageAt,
// lastMessageAt (unix micros), members...
// Returns 1 on success, -1 when the name is taken, -2 when a global room exists.
var createRoomScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[3]) == 1 then
  return -1
end
if ARGV[4] == '1' and redis.call('EXISTS', KEYS[3]) == 1 then
  return -2
end
redis.call('HSET', KEYS[2], ARGV[3], ARGV[1])
if ARGV[4] == '1' then
  redis.call('SET', KEYS[3], ARGV[1])
end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'name', ARGV[2], 'global', ARGV[4], 'createdBy', ARGV[5],
  'createdAt', ARGV[6], 'lastMessageAt', ARGV[7], 'lastMessageAtMicros', ARGV[8],
  'messageCount', 0)
redis.call('SADD', KEYS[4], ARGV[1])
for i = 9, #ARGV do
  redis.call('SADD', KEYS[5], ARGV[i])
end
return 1
`)

// KEYS: room, members
// ARGV: userID, add ("1") or remove ("0")
// Returns -1 when the room is absent.
var membershipScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if ARGV[2] == '1' then
  return redis.call('SADD', KEYS[2], ARGV[1])
end
return redis.call('SREM', KEYS[2], ARGV[1])
`)

// KEYS: room
// ARGV: at (unix micros), at (formatted)
var touchRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HINCRBY', KEYS[1], 'messageCount', 1)
local last = tonumber(redis.call('HGET', KEYS[1], 'lastMessageAtMicros') or '0')
if tonumber(ARGV[1]) > last then
  redis.call('HSET', KEYS[1], 'lastMessageAt', ARGV[2], 'lastMessageAtMicros', ARGV[1])
end
return 1
`)

// KEYS: user, online
// ARGV: userID, online ("1"/"0"), lastSeen
var presenceScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[1], 'online', ARGV[2], 'lastSeen', ARGV[3])
if ARGV[2] == '1' then
  redis.call('SADD', KEYS[2], ARGV[1])
else
  redis.call('SREM', KEYS[2], ARGV[1])
end
return 1
`)

// KEYS: message
// ARGV: deletedAt, placeholder
// Returns 1 when this call deleted the message, 0 when it was already deleted.
var softDeleteScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local current = redis.call('HGET', KEYS[1], 'deletedAt')
if current and current ~= '' then
  return 0
end
redis.call('HSET', KEYS[1], 'deletedAt', ARGV[1], 'content', ARGV[2])
return 1
`)

// KEYS: message, reactions
// ARGV: member
// Returns 1 when added, 0 when removed. Scores keep insertion order.
var toggleReactionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('ZSCORE', KEYS[2], ARGV[1]) then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 0
end
local seq = redis.call('HINCRBY', KEYS[1], 'reactionSeq', 1)
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return 1
`)

// KEYS: message, readBy
// ARGV: userID
// Returns 1 when appended, 0 when already present. Readers are only ever
// added, so the set's cardinality is the next position.
var addReaderScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('ZADD', KEYS[2], 'NX', redis.call('ZCARD', KEYS[2]), ARGV[1])
`)

// KEYS: message
// ARGV: read ("1"/"0")
var setReadScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[1], 'read', ARGV[1])
return 1
`)
