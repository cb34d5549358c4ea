package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestLocalAcquireRelease(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "promote")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "promote"); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: want ErrHeld, got %v", err)
	}
	// Other keys are independent.
	other, err := l.Acquire(ctx, "other")
	if err != nil {
		t.Fatalf("other key: %v", err)
	}
	other()

	release()
	release() // idempotent

	again, err := l.Acquire(ctx, "promote")
	if err != nil {
		t.Fatalf("after release: %v", err)
	}
	again()
}

func TestRedisAcquireRelease(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("missing REDIS_ADDR env var")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASS")})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l := NewRedis(rdb, 5*time.Second)
	key := "test-" + uuid.NewString()

	release, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, key); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire: want ErrHeld, got %v", err)
	}
	release()

	again, err := l.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("after release: %v", err)
	}
	again()
}
