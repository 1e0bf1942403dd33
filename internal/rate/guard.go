package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitError is returned when a call is blocked locally.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a provider budget and honours server cooldowns.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return WrapHTTPWithGuard(NewGuard(decl), base)
}

func WrapHTTPWithGuard(guard *Guard, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: guard}
	return &client
}

func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:    decl,
		now:     time.Now,
		buckets: make(map[Window]*bucket),
	}
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: g.now()}
	}
	return g
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		blockedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one request from every window when allowed.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		if b.capacity <= 0 {
			return Decision{Allowed: false, Reason: "disabled"}
		}
		refill(b, window.duration(), now)
		if b.tokens < 1 {
			retryAt := now.Add(window.duration() / time.Duration(b.capacity))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	for window, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
	}
	return Decision{Allowed: true}
}

// RecordResponse applies Retry-After from 429/503 responses.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	lastStatusGauge.WithLabelValues(g.decl.ProviderName()).Set(float64(status))
	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return
	}

	wait := retryAfter(headers.Get("Retry-After"), g.now())
	if wait <= 0 && status == http.StatusTooManyRequests {
		wait = g.decl.defaultCooldown
	}
	if wait <= 0 {
		return
	}

	g.mu.Lock()
	g.cooldown = g.now().Add(wait)
	g.mu.Unlock()
	retryAfterGauge.WithLabelValues(g.decl.ProviderName()).Set(wait.Seconds())
}

func retryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return at.Sub(now)
	}
	return 0
}

func refill(b *bucket, window time.Duration, now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		rate := float64(b.capacity) / window.Seconds()
		b.tokens = min(float64(b.capacity), b.tokens+elapsed*rate)
	}
	b.last = now
}
