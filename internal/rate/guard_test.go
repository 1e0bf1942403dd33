package rate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardBudget(t *testing.T) {
	g := NewGuard(Provider("test").MaxRequestsPer(Minute, 2))
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }
	for _, b := range g.buckets {
		b.last = now
	}

	assert.True(t, g.ShouldCall().Allowed)
	assert.True(t, g.ShouldCall().Allowed)
	blocked := g.ShouldCall()
	assert.False(t, blocked.Allowed)
	assert.Equal(t, "budget", blocked.Reason)

	now = now.Add(30 * time.Second)
	assert.True(t, g.ShouldCall().Allowed)
}

func TestGuardHonoursRetryAfter(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := WrapHTTP(Provider("test").MaxRequestsPer(Minute, 100), nil)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	_, err = client.Get(server.URL)
	require.Error(t, err)
	var rlErr RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "cooldown", rlErr.Reason)
	assert.Equal(t, 1, hits)
}

func TestDefaultCooldownWithoutHeader(t *testing.T) {
	g := NewGuard(Provider("test").CooldownOn429(time.Minute))
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	g.RecordResponse(http.StatusTooManyRequests, http.Header{})
	assert.False(t, g.ShouldCall().Allowed)

	now = now.Add(61 * time.Second)
	assert.True(t, g.ShouldCall().Allowed)
}

func TestRetryAfterParsing(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, retryAfter("5", now))
	assert.Equal(t, 10*time.Second, retryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, retryAfter("soon", now))
}
