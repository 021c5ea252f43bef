package task

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToMaxWithinWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("call %d: expected allowed", i)
		}
	}

	if rl.Allow() {
		t.Fatal("4th call within window: expected blocked")
	}
}

func TestRateLimiter_SlidesWindowForward(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)

	if !rl.Allow() {
		t.Fatal("first call: expected allowed")
	}

	if rl.Allow() {
		t.Fatal("second call inside window: expected blocked")
	}

	time.Sleep(25 * time.Millisecond)

	if !rl.Allow() {
		t.Fatal("call after window elapsed: expected allowed")
	}
}

func TestRateLimiter_Block_PinsClosedRegardlessOfWindow(t *testing.T) {
	rl := NewRateLimiter(5, time.Millisecond)

	rl.Block()

	if rl.Allow() {
		t.Fatal("expected blocked immediately after Block")
	}
}
