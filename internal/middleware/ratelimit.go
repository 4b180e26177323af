package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/monkbot/gateway/internal/services"
	"github.com/monkbot/gateway/internal/utils"
	"github.com/monkbot/gateway/pkg/logger"
	"github.com/monkbot/gateway/pkg/response"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const tooManyRequestsMessage = "Too many requests, please try again later."

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Backend() string
}

// keyLimiter holds a rate limiter and last-seen time per key.
type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key in process memory.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	rps      rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new RateLimiter.
// rps is the allowed requests per second; burst is the max burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*keyLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.limiters[key]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = &keyLimiter{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanup removes entries not seen for 5 minutes.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for key, v := range rl.limiters {
				if time.Since(v.lastSeen) > 5*time.Minute {
					delete(rl.limiters, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.getLimiter(key).Allow(), nil
}

func (rl *RateLimiter) Backend() string { return "memory" }

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// slidingWindowScript trims the window, counts it and records the new
// request only when under the limit, all inside one Redis call.
//
// KEYS[1] window key; ARGV: window start, now, limit, member, ttl ms.
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisLimiter is a sliding-window limiter shared by every replica that
// talks to the same Redis. It admits burst requests per burst/rps seconds.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, rps float64, burst int) *RedisLimiter {
	if burst <= 0 {
		burst = 1
	}
	window := time.Second
	if rps > 0 {
		window = time.Duration(float64(burst) / rps * float64(time.Second))
	}
	return &RedisLimiter{
		client: client,
		limit:  burst,
		window: window,
		prefix: "monkbot:ratelimit:",
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	ttl := (r.window + time.Second).Milliseconds()

	admitted, err := slidingWindowScript.Run(ctx, r.client, []string{r.prefix + key},
		strconv.FormatInt(now.Add(-r.window).UnixMicro(), 10),
		strconv.FormatInt(now.UnixMicro(), 10),
		strconv.Itoa(r.limit),
		member,
		strconv.FormatInt(ttl, 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	return admitted == 1, nil
}

func (r *RedisLimiter) Backend() string { return "redis" }

// CredentialKey identifies the caller by a hash of its bearer token, or by
// client IP when none is sent. The raw token never becomes a map or Redis
// key.
func CredentialKey(c *gin.Context) string {
	if token := services.ParseBearer(c.GetHeader("Authorization")); token != "" {
		return "key:" + utils.HashAPIKey(token)
	}
	return "ip:" + c.ClientIP()
}

// RateLimit enforces limiter per CredentialKey. Limiter errors let the
// request through.
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), CredentialKey(c))
		if err != nil {
			logger.Warn().Err(err).Str("backend", limiter.Backend()).Msg("[RateLimit] limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			response.AbortMessage(c, http.StatusTooManyRequests, tooManyRequestsMessage)
			return
		}
		c.Next()
	}
}
