package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a window check for one limit dimension.
type Decision struct {
	Allowed    bool
	Used       int64
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter enforces per-key inbound limits over a one-minute sliding window
// backed by Redis sorted sets. Two dimensions are tracked per API key:
// request count and consumed tokens. Window entries carry a weight (1 per
// request, the token count per completion) so both dimensions share the
// same arithmetic. A nil Redis client disables enforcement (fail open).
type Limiter struct {
	rdb    *redis.Client
	window time.Duration
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, window: time.Minute}
}

const (
	requestKeyPrefix = "relay:rl:req:"
	tokenKeyPrefix   = "relay:rl:tok:"
)

// takeScript trims expired entries, sums the weights left in the window,
// and admits the new entry only when it fits under the limit. Members are
// "<unixmicro>:<nonce>:<weight>"; the weight is the trailing field.
// KEYS[1] = window key
// ARGV = window start (unix micro), now (unix micro), member, weight,
// limit, TTL seconds.
// Returns [used, 1=allowed/0=denied, oldest entry score].
var takeScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local member = ARGV[3]
local weight = tonumber(ARGV[4])
local limit = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local used = 0
for _, m in ipairs(redis.call('ZRANGE', key, 0, -1)) do
    used = used + (tonumber(string.match(m, ':(%d+)$')) or 0)
end

local oldest = now
local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if head[2] then
    oldest = tonumber(head[2])
end

if used + weight > limit then
    redis.call('EXPIRE', key, ttl)
    return {used, 0, oldest}
end

redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)
return {used + weight, 1, oldest}
`)

// sumScript trims expired entries and reports the weight left in the
// window without admitting anything. Same member encoding as takeScript.
// Returns [used, oldest entry score].
var sumScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local used = 0
for _, m in ipairs(redis.call('ZRANGE', key, 0, -1)) do
    used = used + (tonumber(string.match(m, ':(%d+)$')) or 0)
end

local oldest = now
local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if head[2] then
    oldest = tonumber(head[2])
end

return {used, oldest}
`)

// TakeRequest counts one request against keyID's per-minute request budget.
func (l *Limiter) TakeRequest(ctx context.Context, keyID string, limit int) (Decision, error) {
	if l.rdb == nil {
		return l.open(limit, 1), nil
	}

	now := time.Now()
	member := fmt.Sprintf("%d:%d:1", now.UnixMicro(), rand.Int63())

	vals, err := takeScript.Run(ctx, l.rdb, []string{requestKeyPrefix + keyID},
		now.Add(-l.window).UnixMicro(), now.UnixMicro(), member, 1, limit, l.ttlSeconds(),
	).Int64Slice()
	if err != nil || len(vals) != 3 {
		// Redis trouble never blocks traffic.
		return l.open(limit, 1), nil
	}
	return l.decision(vals[0], vals[1] == 1, vals[2], int64(limit)), nil
}

// CheckTokens reports whether keyID's token consumption over the window
// still has headroom. Consumption is recorded after completions via
// AddTokens, so this gates on past usage only.
func (l *Limiter) CheckTokens(ctx context.Context, keyID string, limit int) (Decision, error) {
	if l.rdb == nil {
		return l.open(limit, 0), nil
	}

	now := time.Now()
	vals, err := sumScript.Run(ctx, l.rdb, []string{tokenKeyPrefix + keyID},
		now.Add(-l.window).UnixMicro(), now.UnixMicro(),
	).Int64Slice()
	if err != nil || len(vals) != 2 {
		return l.open(limit, 0), nil
	}
	return l.decision(vals[0], vals[0] < int64(limit), vals[1], int64(limit)), nil
}

// AddTokens records consumed completion tokens against keyID's window.
// The tokens were already spent upstream, so this never rejects.
func (l *Limiter) AddTokens(ctx context.Context, keyID string, tokens int) error {
	if l.rdb == nil || tokens <= 0 {
		return nil
	}

	now := time.Now()
	key := tokenKeyPrefix + keyID
	member := fmt.Sprintf("%d:%d:%d", now.UnixMicro(), rand.Int63(), tokens)

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.Expire(ctx, key, l.window+time.Second)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Limiter) ttlSeconds() int64 {
	return int64(l.window.Seconds()) + 1
}

// open is the fail-open decision used when Redis is absent or unreachable.
func (l *Limiter) open(limit, used int) Decision {
	remaining := int64(limit - used)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Used:      int64(used),
		Remaining: remaining,
		ResetAt:   time.Now().Add(l.window),
	}
}

// decision maps window state into a Decision. Reset is when the oldest
// entry falls out of the window, not a flat now+window guess.
func (l *Limiter) decision(used int64, allowed bool, oldestMicro, limit int64) Decision {
	d := Decision{Allowed: allowed, Used: used, Remaining: limit - used}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.ResetAt = time.UnixMicro(oldestMicro).Add(l.window)
	if !allowed {
		d.RetryAfter = time.Until(d.ResetAt)
		if d.RetryAfter < time.Second {
			d.RetryAfter = time.Second
		}
	}
	return d
}
