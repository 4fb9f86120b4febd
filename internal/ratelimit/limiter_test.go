package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_Allow(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
	current := time.Now()
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "account-1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d denied, want allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "account-1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("third call allowed, want denied")
	}
}

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "account-1"); !allowed {
		t.Fatal("first key denied")
	}
	if allowed, _ := limiter.Allow(ctx, "account-2"); !allowed {
		t.Error("second key denied, windows must be independent")
	}
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	current := time.Now()
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "account-1"); !allowed {
		t.Fatal("first call denied")
	}
	if allowed, _ := limiter.Allow(ctx, "account-1"); allowed {
		t.Fatal("second call allowed inside window")
	}

	current = current.Add(time.Minute + time.Second)

	if allowed, _ := limiter.Allow(ctx, "account-1"); !allowed {
		t.Error("call denied after window slid past the recorded event")
	}
}

func TestMemoryLimiter_DeniedCallsNotRecorded(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	current := time.Now()
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	limiter.Allow(ctx, "account-1")

	// Hammer the denied path; none of these may extend the lockout.
	for i := 0; i < 10; i++ {
		current = current.Add(time.Second)
		if allowed, _ := limiter.Allow(ctx, "account-1"); allowed {
			t.Fatal("call allowed inside window")
		}
	}

	// One window after the single admitted event, the key is free again.
	current = current.Add(time.Minute)
	if allowed, _ := limiter.Allow(ctx, "account-1"); !allowed {
		t.Error("denied attempts extended the window")
	}
}

func TestMemoryLimiter_Cleanup(t *testing.T) {
	limiter := NewMemoryLimiter(5, time.Minute)
	current := time.Now()
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	limiter.Allow(ctx, "stale-key")

	current = current.Add(retentionPeriod + time.Minute)
	limiter.Allow(ctx, "fresh-key")

	if got := limiter.ActiveKeys(); got != 1 {
		t.Errorf("ActiveKeys() = %d, want 1 after retention sweep", got)
	}
}
