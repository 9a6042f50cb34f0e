package httpapi

import "testing"

func TestSessionRateLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	l := newSessionRateLimiter(1, 2)
	if !l.allow("s1") {
		t.Fatal("first request should be allowed")
	}
	if !l.allow("s1") {
		t.Fatal("second request (within burst) should be allowed")
	}
	if l.allow("s1") {
		t.Fatal("third immediate request should be rate limited")
	}
}

func TestSessionRateLimiterTracksSessionsIndependently(t *testing.T) {
	l := newSessionRateLimiter(1, 1)
	if !l.allow("s1") {
		t.Fatal("s1 first request should be allowed")
	}
	if !l.allow("s2") {
		t.Fatal("s2 should have its own independent budget")
	}
}
