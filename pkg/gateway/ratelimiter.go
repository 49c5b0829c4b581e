package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 120
	defaultMaxConcurrent     = 10
)

// ClientRateLimiter bounds one client's request rate and the number of its
// requests in flight.
type ClientRateLimiter struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	maxConcurrent int
	inFlight      int
}

// NewClientRateLimiter allows requestsPerMinute with a burst of the same
// size. Non-positive values select the defaults.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	return &ClientRateLimiter{
		limiter:       rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute),
		maxConcurrent: maxConcurrent,
	}
}

// Acquire reserves a request slot. It returns the RPC error code and
// reason when the request must be refused; Release must follow a
// successful Acquire.
func (r *ClientRateLimiter) Acquire() (int, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return TooManyConcurrent, "too many concurrent requests", false
	}
	if !r.limiter.Allow() {
		return RateLimitExceeded, "rate limit exceeded", false
	}
	r.inFlight++
	return 0, "", true
}

func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}

// InFlight returns the number of requests being served.
func (r *ClientRateLimiter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}
