package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per user. Idle buckets are
// swept so the pool does not grow with every user ever seen.
type limiterPool struct {
	mu      sync.Mutex
	m       map[uuid.UUID]*limiterEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	swept   time.Time
}

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

func (p *limiterPool) get(userID uuid.UUID, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.swept) > p.idleTTL {
		for id, e := range p.m {
			if now.Sub(e.lastSeen) > p.idleTTL {
				delete(p.m, id)
			}
		}
		p.swept = now
	}

	e, ok := p.m[userID]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.limit, p.burst)}
		p.m[userID] = e
	}
	e.lastSeen = now
	return e.l
}

// RateLimit allows each authenticated user rps requests per second with
// the given burst. It must run after Auth.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	pool := &limiterPool{
		m:       make(map[uuid.UUID]*limiterEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			l := pool.get(GetUserID(r.Context()), now)
			if !l.AllowN(now, 1) {
				retry := time.Duration(float64(time.Second) / rps)
				w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "transient", "Too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
