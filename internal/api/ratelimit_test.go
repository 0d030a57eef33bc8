package api

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterRefillsAcrossWindow(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(5, 15*time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"), "clients are limited independently")

	now = now.Add(3 * time.Minute)
	assert.True(t, l.Allow("10.0.0.1"), "one attempt refills every window/attempts")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	assert.Len(t, l.clients, 2)

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	assert.Len(t, l.clients, 1)
}

func TestNilRateLimiter(t *testing.T) {
	var l *RateLimiter
	assert.Nil(t, NewRateLimiter(0, time.Minute))
	assert.True(t, l.Allow("anyone"))
}

func TestClientIP(t *testing.T) {
	l := NewRateLimiter(5, time.Minute)
	require.NoError(t, l.TrustProxies("10.0.0.0/8", "192.0.2.1"))

	tests := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"direct client", "198.51.100.4:51234", nil, "198.51.100.4"},
		{"direct client forging the header", "198.51.100.4:51234", []string{"203.0.113.7"}, "198.51.100.4"},
		{"behind a trusted proxy", "10.1.2.3:443", []string{"203.0.113.7"}, "203.0.113.7"},
		{"forged hop before the proxy", "10.1.2.3:443", []string{"1.1.1.1, 203.0.113.7"}, "203.0.113.7"},
		{"chain of trusted proxies", "192.0.2.1:443", []string{"203.0.113.7, 10.0.0.5"}, "203.0.113.7"},
		{"repeated headers", "10.1.2.3:443", []string{"1.1.1.1", "203.0.113.9"}, "203.0.113.9"},
		{"trusted proxy without header", "10.1.2.3:443", nil, "10.1.2.3"},
		{"garbage hop", "10.1.2.3:443", []string{"unknown"}, "10.1.2.3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/v1/payments/p1/pay", nil)
			r.RemoteAddr = tc.remote
			for _, v := range tc.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tc.want, l.clientIP(r))
		})
	}
}

func TestForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	l := NewRateLimiter(5, 15*time.Minute)
	accepted := 0
	for i := 0; i < 50; i++ {
		r := httptest.NewRequest("POST", "/api/v1/payments/p1/pay", nil)
		r.RemoteAddr = "198.51.100.4:51234"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		if l.Allow(l.clientIP(r)) {
			accepted++
		}
	}
	assert.Equal(t, 5, accepted)
}

func TestTrustProxiesRejectsGarbage(t *testing.T) {
	l := NewRateLimiter(5, time.Minute)
	assert.Error(t, l.TrustProxies("10.0.0.0/8", "gateway"))

	var off *RateLimiter
	assert.NoError(t, off.TrustProxies("gateway"))
}
