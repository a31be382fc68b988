package resiliency

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.NotEmpty(t, r.Header.Get("traceparent"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("test", time.Second)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("b", 2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.Failure()
	assert.True(t, cb.Allow())
	cb.Failure()
	assert.True(t, cb.Open())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow(), "half-open after reset timeout")
	cb.Failure()
	assert.True(t, cb.Open(), "a half-open failure reopens")

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	cb.Success()
	assert.False(t, cb.Open())
}

func TestClientRejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("b", 1, time.Hour)
	cb.Failure()
	c := NewClientWith(http.DefaultClient, cb)

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)
	_, err = c.Do(req)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}
