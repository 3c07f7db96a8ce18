package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/milkrun/internal/config"
)

// Refill is computed from redis TIME so every replica shares one clock.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local now_parts = redis.call("TIME")
local now = (now_parts[1] * 1000) + math.floor(now_parts[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])

if tokens == nil then
  tokens = burst
else
  local delta = math.max(0, now - ts)
  tokens = math.min(burst, tokens + (delta / 1000) * rate)
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens)}
`

const webhookRateKey = "milkrun:ratelimit:webhook:%s"

var (
	ErrRateLimitKeyEmpty = errors.New("rate limit key is empty")
	ErrRateLimitInvalid  = errors.New("rate limit rate and burst must be positive")
)

// RateLimitResult is one token bucket decision.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter is a token bucket shared by all replicas through redis.
type RateLimiter struct {
	client *goredis.Client
	script *goredis.Script
	rate   float64
	burst  int
}

// NewRateLimiter returns nil when redis is not configured; a nil limiter
// allows everything.
func NewRateLimiter(client *goredis.Client, cfg config.Config) *RateLimiter {
	if client == nil {
		return nil
	}
	return &RateLimiter{
		client: client,
		script: goredis.NewScript(tokenBucketScript),
		rate:   cfg.RateLimit.WebhookRate,
		burst:  cfg.RateLimit.WebhookBurst,
	}
}

// AllowWebhook takes one token from the provider's bucket.
func (r *RateLimiter) AllowWebhook(ctx context.Context, provider string) (RateLimitResult, error) {
	if r == nil {
		return RateLimitResult{Allowed: true}, nil
	}
	return r.Allow(ctx, fmtKey(webhookRateKey, provider), r.rate, r.burst)
}

func (r *RateLimiter) Allow(ctx context.Context, key string, rate float64, burst int) (RateLimitResult, error) {
	if r == nil || r.client == nil {
		return RateLimitResult{Allowed: true}, nil
	}
	if key == "" {
		return RateLimitResult{}, ErrRateLimitKeyEmpty
	}
	if rate <= 0 || burst <= 0 {
		return RateLimitResult{}, ErrRateLimitInvalid
	}

	res, err := r.script.Run(ctx, r.client, []string{key}, rate, burst, bucketTTL(rate, burst).Milliseconds()).Slice()
	if err != nil {
		return RateLimitResult{}, err
	}
	if len(res) < 2 {
		return RateLimitResult{}, errors.New("unexpected rate limit script reply")
	}

	allowed, _ := res[0].(int64)
	tokensRaw, _ := res[1].(string)
	tokens, err := strconv.ParseFloat(tokensRaw, 64)
	if err != nil {
		return RateLimitResult{}, err
	}

	result := RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(math.Floor(tokens)),
	}
	if !result.Allowed {
		result.RetryAfter = time.Duration((1 - tokens) / rate * float64(time.Second))
	}
	return result, nil
}

// bucketTTL keeps an idle bucket long enough to refill twice.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func fmtKey(format, part string) string {
	if part == "" {
		part = "default"
	}
	return fmt.Sprintf(format, part)
}
