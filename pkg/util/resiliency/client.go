// Package resiliency wraps outbound HTTP calls with a circuit breaker and
// W3C trace propagation. It never retries: callers own their retry budget.
package resiliency

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without contacting the upstream.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Client is an http.Client guarded by a CircuitBreaker.
type Client struct {
	client  *http.Client
	breaker *CircuitBreaker
}

func NewClient(name string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		breaker: NewCircuitBreaker(name, 5, 10*time.Second),
	}
}

// NewClientWith uses the given transport client, for tests.
func NewClientWith(hc *http.Client, breaker *CircuitBreaker) *Client {
	return &Client{client: hc, breaker: breaker}
}

// Do sends req once. Transport errors and 5xx responses count against the
// breaker; a 5xx response is still returned to the caller.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("traceparent") == "" {
		req.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-01", randomHex(16), randomHex(8)))
	}

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, c.breaker.name)
	}

	resp, err := c.client.Do(req)
	if err != nil || resp.StatusCode >= 500 {
		c.breaker.Failure()
		return resp, err
	}
	c.breaker.Success()
	return resp, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Best-effort fallback if the system RNG fails.
		return fmt.Sprintf("%0*x", n*2, time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

type breakerState string

const (
	stateClosed   breakerState = "CLOSED"
	stateOpen     breakerState = "OPEN"
	stateHalfOpen breakerState = "HALF_OPEN"
)

// CircuitBreaker implements a simple state machine for failure detection.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	failureCount int
	threshold    int
	lastFailure  time.Time
	resetTimeout time.Duration
	state        breakerState
	now          func() time.Time
}

func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: timeout,
		state:        stateClosed,
		now:          time.Now,
	}
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = stateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.failureCount >= cb.threshold || cb.state == stateHalfOpen {
		cb.state = stateOpen
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == stateOpen
}
