package quota

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func setupLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRateLimiter(client), mr
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	rl, _ := setupLimiter(t)
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		allowed, err := rl.CheckAndIncrement(context.Background(), userID, 5)
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	rl, _ := setupLimiter(t)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		if _, err := rl.CheckAndIncrement(context.Background(), userID, 3); err != nil {
			t.Fatalf("request %d: unexpected error: %v", i+1, err)
		}
	}

	allowed, err := rl.CheckAndIncrement(context.Background(), userID, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("expected 4th request to be blocked")
	}
}

func TestRateLimiter_UsersIndependent(t *testing.T) {
	rl, _ := setupLimiter(t)
	first := uuid.New()
	second := uuid.New()

	for i := 0; i < 2; i++ {
		if _, err := rl.CheckAndIncrement(context.Background(), first, 2); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	allowed, err := rl.CheckAndIncrement(context.Background(), second, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("expected independent user to be allowed")
	}
}

func TestRateLimiter_ErrorSurfaced(t *testing.T) {
	rl, mr := setupLimiter(t)
	mr.Close() // kill Redis

	_, err := rl.CheckAndIncrement(context.Background(), uuid.New(), 5)
	if err == nil {
		t.Fatal("expected error when Redis is down; the caller decides fail-open")
	}
}

func TestRateLimiter_GetMinuteUsage(t *testing.T) {
	rl, _ := setupLimiter(t)
	userID := uuid.New()

	for i := 0; i < 4; i++ {
		if _, err := rl.CheckAndIncrement(context.Background(), userID, 10); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	usage, err := rl.GetMinuteUsage(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage != 4 {
		t.Fatalf("expected usage 4, got %d", usage)
	}
}
