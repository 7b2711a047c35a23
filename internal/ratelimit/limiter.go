// ABOUTME: Per-client token bucket limiters with idle expiry and a size cap
// ABOUTME: Guards the unauthenticated ceremony and token endpoints against brute force

package ratelimit

import (
	"container/list"
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/2389/warden/internal/apierr"
)

// Config controls a Registry.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// IdleTTL is how long an unused client keeps its bucket. Defaults to 10 minutes.
	IdleTTL time.Duration
	// MaxClients caps the number of tracked clients. Defaults to 10000.
	MaxClients int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	element  *list.Element
}

// Registry hands out one limiter per client key. When full, the least
// recently seen client is evicted.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*entry
	order   *list.List // least recently seen at front
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a registry and starts its cleanup goroutine.
func New(cfg Config) *Registry {
	if cfg.IdleTTL == 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 10000
	}
	if cfg.Burst == 0 {
		cfg.Burst = max(1, int(cfg.RequestsPerSecond))
	}
	r := &Registry{
		clients: make(map[string]*entry),
		order:   list.New(),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		ttl:     cfg.IdleTTL,
		maxSize: cfg.MaxClients,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go r.cleanup()
	return r
}

// Allow reports whether key may make a request now.
func (r *Registry) Allow(key string) bool {
	r.mu.Lock()
	now := r.now()
	e, ok := r.clients[key]
	if ok {
		e.lastSeen = now
		r.order.MoveToBack(e.element)
	} else {
		if len(r.clients) >= r.maxSize {
			r.evictOldest()
		}
		e = &entry{limiter: rate.NewLimiter(r.limit, r.burst), lastSeen: now}
		e.element = r.order.PushBack(key)
		r.clients[key] = e
	}
	r.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// evictOldest must be called with mu held.
func (r *Registry) evictOldest() {
	front := r.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	r.order.Remove(front)
	delete(r.clients, key)
}

func (r *Registry) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.prune()
		case <-r.done:
			return
		}
	}
}

// prune drops clients idle for longer than the TTL.
func (r *Registry) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	for front := r.order.Front(); front != nil; front = r.order.Front() {
		key, _ := front.Value.(string)
		if r.clients[key].lastSeen.After(cutoff) {
			return
		}
		r.order.Remove(front)
		delete(r.clients, key)
	}
}

// Close stops the cleanup goroutine. It is safe to call multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}

// ClientIP returns the caller address of r, preferring the first
// X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the client's rate with 429.
func Middleware(reg *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !reg.Allow(ClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				apierr.WriteProblem(w, r, apierr.TooManyRequests("Rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UnaryInterceptor applies the registry to gRPC calls, keyed by peer address.
func UnaryInterceptor(reg *Registry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !reg.Allow(peerHost(ctx)) {
			return nil, apierr.GRPCStatus(apierr.TooManyRequests("Rate limit exceeded"))
		}
		return handler(ctx, req)
	}
}

func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
