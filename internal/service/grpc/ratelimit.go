package grpcsvc

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/vladislavdragonenkov/orders/internal/rpcerror"
)

// DefaultLimiterIdleTTL: лимитер клиента удаляется после такого простоя.
const DefaultLimiterIdleTTL = 10 * time.Minute

type peerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter ограничивает частоту запросов для каждого адреса клиента.
// Лимитеры клиентов, не обращавшихся дольше idleTTL, удаляются.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*peerLimiter
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter создаёт ограничитель: rps запросов в секунду и всплеск burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*peerLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		idleTTL:  DefaultLimiterIdleTTL,
		now:      time.Now,
	}
}

// Allow сообщает, можно ли обработать ещё один запрос от key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	pl, ok := rl.limiters[key]
	if !ok {
		pl = &peerLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = pl
	}
	pl.lastSeen = now
	return pl.limiter.AllowN(now, 1)
}

// sweep удаляет простаивающие лимитеры не чаще раза в idleTTL.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idleTTL {
		return
	}
	rl.lastSweep = now
	for key, pl := range rl.limiters {
		if now.Sub(pl.lastSeen) >= rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
}

// size возвращает число отслеживаемых клиентов.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// UnaryServerInterceptor отклоняет запросы сверх лимита ошибкой rpcerror.ErrRateLimited.
func (rl *RateLimiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !rl.Allow(peerKey(ctx)) {
			return nil, rpcerror.ErrRateLimited
		}
		return handler(ctx, req)
	}
}

// peerKey возвращает IP клиента без порта.
func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
