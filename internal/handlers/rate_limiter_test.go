package handlers

import (
	"testing"
	"time"
)

func TestWindowRateLimiter(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected first two calls allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("expected third call rejected")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("expected other key allowed")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("expected window reset")
	}
}

func TestNewRateLimiterDisabled(t *testing.T) {
	if NewRateLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	if NewRateLimiter(5, 0, nil) != nil {
		t.Fatalf("expected nil limiter for zero window")
	}
}
