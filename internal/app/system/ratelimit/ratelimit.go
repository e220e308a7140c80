// internal/app/system/ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
)

// Limiter is a fixed-window counter per key. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	duration time.Duration
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type window struct {
	count     int
	expiresAt time.Time
}

// New creates a limiter allowing limit requests per key per duration.
// Call Stop to end its cleanup goroutine.
func New(limit int, duration time.Duration) *Limiter {
	l := &Limiter{
		windows:  make(map[string]*window),
		limit:    limit,
		duration: duration,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop(duration * 2)
	return l
}

// Allow records a request for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.After(w.expiresAt) {
		l.windows[key] = &window{count: 1, expiresAt: now.Add(l.duration)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// RetryAfter returns how long until key's window resets, or 0 if it has
// capacity.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || w.count < l.limit {
		return 0
	}
	if d := w.expiresAt.Sub(l.now()); d > 0 {
		return d
	}
	return 0
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Stop ends the cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			now := l.now()
			for key, w := range l.windows {
				if now.After(w.expiresAt) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// ClientIP returns the host part of r.RemoteAddr. Proxy headers are ignored
// here; behind a trusted proxy, chi's middleware.RealIP sets RemoteAddr from
// them first.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// PerIP returns middleware that limits each client IP and answers 429 with a
// JSON body and Retry-After when the limit is hit.
func PerIP(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !l.Allow(ip) {
				TooMany(w, l.RetryAfter(ip))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TooMany writes the 429 response.
func TooMany(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	jsonresp.Error(w, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please wait and try again.")
}

// PhoneLimiter limits OTP requests both per client IP and per phone number:
// many phones from one IP, and one phone targeted from many IPs.
type PhoneLimiter struct {
	ip    *Limiter
	phone *Limiter
}

// NewPhoneLimiter uses 10 requests per IP per minute and 5 per phone per
// 15 minutes.
func NewPhoneLimiter() *PhoneLimiter {
	return NewPhoneLimiterWithConfig(10, time.Minute, 5, 15*time.Minute)
}

func NewPhoneLimiterWithConfig(ipLimit int, ipWindow time.Duration, phoneLimit int, phoneWindow time.Duration) *PhoneLimiter {
	return &PhoneLimiter{ip: New(ipLimit, ipWindow), phone: New(phoneLimit, phoneWindow)}
}

// Check records an attempt and reports whether it may proceed, with the
// wait before retrying when it may not.
func (pl *PhoneLimiter) Check(r *http.Request, phone string) (bool, time.Duration) {
	ip := ClientIP(r)
	if !pl.ip.Allow(ip) {
		return false, pl.ip.RetryAfter(ip)
	}
	if phone != "" && !pl.phone.Allow(phone) {
		return false, pl.phone.RetryAfter(phone)
	}
	return true, 0
}

// ResetPhone clears the phone window after a successful verification.
func (pl *PhoneLimiter) ResetPhone(phone string) {
	pl.phone.Reset(phone)
}

func (pl *PhoneLimiter) Stop() {
	pl.ip.Stop()
	pl.phone.Stop()
}
