// Package lim throttles requests per client.
package lim

import (
	"context"
	"net/http"
	"time"
	"upaste/metrics"
	"upaste/svc/util"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const redisBudget = 100 * time.Millisecond

// Counter is a shared fixed-window counter, normally Redis.
type Counter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

type Options struct {
	RPM            int
	Burst          int
	CacheSize      int
	TrustedProxies []string
}

type Limiter struct {
	shared         Counter
	hasher         *util.ClientHasher
	local          *lru.Cache[string, *rate.Limiter]
	rpm            int
	burst          int
	trustedProxies []string
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New builds a limiter. shared and hasher may be nil; without a hasher
// client addresses are used as identities directly.
func New(o Options, shared Counter, hasher *util.ClientHasher) (*Limiter, error) {
	if o.RPM <= 0 || o.Burst <= 0 {
		return nil, errors.New("rpm and burst must be positive")
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 10000
	}
	cache, err := lru.New[string, *rate.Limiter](o.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "limiter cache")
	}
	return &Limiter{
		shared:         shared,
		hasher:         hasher,
		local:          cache,
		rpm:            o.RPM,
		burst:          o.Burst,
		trustedProxies: o.TrustedProxies,
	}, nil
}

func (l *Limiter) identity(r *http.Request) string {
	ip := GetRealIP(r, l.trustedProxies)
	if l.hasher == nil {
		return ip
	}
	return l.hasher.Hash(ip)
}

// Check consumes one request for the caller on endpoint. The shared
// counter is tried first; when it is missing or failing the in-process
// token bucket decides.
func (l *Limiter) Check(r *http.Request, endpoint string) Result {
	id := l.identity(r)
	now := time.Now()
	if l.shared != nil {
		ctx, cancel := context.WithTimeout(r.Context(), redisBudget)
		usage, err := l.shared.RateLimit(ctx, endpoint+":"+id, l.rpm, time.Minute)
		cancel()
		if err == nil {
			metrics.RateLimitBackend.WithLabelValues("redis").Inc()
			remaining := l.rpm - usage
			if remaining < 0 {
				remaining = 0
			}
			return Result{
				Allowed:   usage <= l.rpm,
				Limit:     l.rpm,
				Remaining: remaining,
				Reset:     now.Add(time.Minute),
			}
		}
		util.Warn().Err(err).Msg("shared rate limit unavailable, using local limiter")
	}
	metrics.RateLimitBackend.WithLabelValues("local").Inc()
	return l.checkLocal(endpoint+":"+id, now)
}

func (l *Limiter) checkLocal(key string, now time.Time) Result {
	lim, ok := l.local.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst)
		if prev, loaded, _ := l.local.PeekOrAdd(key, lim); loaded {
			lim = prev
		}
	}
	allowed := lim.AllowN(now, 1)
	remaining := int(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     l.rpm,
		Remaining: remaining,
		Reset:     now.Add(time.Minute),
	}
}
