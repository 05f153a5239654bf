package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateConfig is a token bucket: Rate tokens per second up to Burst.
type RateConfig struct {
	Rate  float64
	Burst float64
}

// HandshakeLimiter throttles WebSocket upgrades per client with a token bucket
// kept in Redis, so a reconnect storm from one terminal cannot flood the
// engine with connect/disconnect broadcasts.
type HandshakeLimiter struct {
	client redis.Scripter
	cfg    RateConfig
	prefix string
	script *redis.Script
	logger *zap.Logger
}

// NewHandshakeLimiter returns nil when client is nil or the config disables limiting.
func NewHandshakeLimiter(client redis.Scripter, cfg RateConfig, logger *zap.Logger) *HandshakeLimiter {
	if client == nil || cfg.Rate <= 0 || cfg.Burst <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandshakeLimiter{
		client: client,
		cfg:    cfg,
		prefix: "rl:ws",
		script: redis.NewScript(tokenBucketLua),
		logger: logger,
	}
}

// Middleware rejects handshakes over budget with 429 and a Retry-After header.
// A Redis failure lets the handshake through.
func (l *HandshakeLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := clientIdentifier(r)
		allowed, retryAfter, err := l.allow(r.Context(), id)
		if err != nil {
			l.logger.Warn("rate limiter unavailable", zap.String("client", id), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", formatRetryAfter(retryAfter))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *HandshakeLimiter) allow(ctx context.Context, id string) (bool, time.Duration, error) {
	key := l.prefix + ":" + id
	res, err := l.script.Run(ctx, l.client, []string{key}, time.Now().UnixMilli(), l.cfg.Rate, l.cfg.Burst).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, errors.New("unexpected rate limiter reply")
	}
	allowed, err := toInt64(values[0])
	if err != nil {
		return false, 0, err
	}
	if allowed == 1 {
		return true, 0, nil
	}
	waitMs, err := toInt64(values[1])
	if err != nil {
		return false, 0, err
	}
	return false, time.Duration(waitMs) * time.Millisecond, nil
}

func clientIdentifier(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return id
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	if r.RemoteAddr == "" {
		return "anonymous"
	}
	return r.RemoteAddr
}

func formatRetryAfter(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, errors.New("unsupported reply type")
	}
}

// Returns {allowed, wait_ms}. Tokens are stored scaled by 1000 so the bucket
// state survives Redis' integer reply conversion.
const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = burst * 1000
end
if ts == nil or ts > now_ms then
  ts = now_ms
end

tokens = math.min(burst * 1000, tokens + (now_ms - ts) * rate)

local allowed = 0
local wait_ms = 0
if tokens >= 1000 then
  tokens = tokens - 1000
  allowed = 1
else
  wait_ms = math.ceil((1000 - tokens) / rate)
end

redis.call('HSET', key, 'tokens', math.floor(tokens), 'ts', now_ms)
redis.call('PEXPIRE', key, math.ceil(burst / rate * 1000) + 1000)
return {allowed, wait_ms}
`
