package main

import (
	"testing"
	"time"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := newRateLimiter(time.Minute, 3)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !rl.allow("1.2.3.4", now) {
			t.Fatalf("request %d rejected inside the limit", i+1)
		}
	}
	if rl.allow("1.2.3.4", now.Add(time.Second)) {
		t.Fatalf("request over the limit was allowed inside the window")
	}
	// other sources are counted independently
	if !rl.allow("5.6.7.8", now) {
		t.Fatalf("different ip rejected")
	}
	// the window resets wholesale once it elapses
	if !rl.allow("1.2.3.4", now.Add(time.Minute)) {
		t.Fatalf("request rejected after the window elapsed")
	}
}

func TestRateLimiterSweepsExpiredWindows(t *testing.T) {
	rl := newRateLimiter(time.Minute, 3)
	now := time.Now()
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if !rl.allow(ip, now) {
			t.Fatalf("request from %s rejected", ip)
		}
	}
	// a request after the window expires sweeps the stale entries
	if !rl.allow("10.0.0.4", now.Add(2*time.Minute)) {
		t.Fatalf("fresh request rejected")
	}
	rl.mu.Lock()
	n := len(rl.windows)
	rl.mu.Unlock()
	if n != 1 {
		t.Fatalf("expired windows not swept: %d entries", n)
	}
}
