// ratelimit.go — ограничение частоты попыток входа по адресу клиента.
// Токен-бакет на IP (golang.org/x/time/rate); неактивные лимитеры
// периодически вычищаются.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginRateLimiter — per-IP лимитер попыток входа.
type LoginRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	rate      rate.Limit
	burst     int
	done      chan struct{}
	closeOnce sync.Once
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLoginRateLimiter создаёт лимитер: perSecond запросов в секунду
// с burst-ёмкостью на каждый клиентский IP.
func NewLoginRateLimiter(perSecond float64, burst int) *LoginRateLimiter {
	l := &LoginRateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		done:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Close останавливает фоновую очистку лимитеров. Идемпотентен.
func (l *LoginRateLimiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

// Allow сообщает, разрешена ли попытка для данного IP.
func (l *LoginRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.limiters[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// cleanup удаляет лимитеры клиентов, не появлявшихся 10 минут.
// Завершается по Close.
func (l *LoginRateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, cl := range l.limiters {
				if time.Since(cl.lastSeen) > 10*time.Minute {
					delete(l.limiters, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware возвращает HTTP middleware, отвечающий 429 при превышении лимита.
// Применяется только к login-маршрутам.
func (l *LoginRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !l.Allow(ip) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "too many login attempts, retry later", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP извлекает IP клиента из RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
