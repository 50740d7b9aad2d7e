package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := NewFromClient(rdb, zap.NewNop())

	return client, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop(), 0)

	result, err := svc.CheckOrReserve(context.Background(), "user-1", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_InFlight(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop(), 0)
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got: %v", err)
	}
}

func TestIdempotencyService_StoreThenReplay(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop(), time.Hour)
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	msg := "HTTP 404 - Not Found (inbox does not exist)"
	if err := svc.Store(ctx, "user-1", "key-1", &IdempotencyResult{
		OutgoingID: 42,
		Status:     "failed",
		HTTPCode:   404,
		Error:      &msg,
	}); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	cached, err := svc.CheckOrReserve(ctx, "user-1", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if cached == nil || cached.OutgoingID != 42 || cached.HTTPCode != 404 {
		t.Fatalf("unexpected cached result: %+v", cached)
	}
	if cached.Error == nil || *cached.Error != msg {
		t.Errorf("expected error %q, got %v", msg, cached.Error)
	}
	if cached.CreatedAt == 0 {
		t.Error("expected created_at to be stamped")
	}

	if ttl := mr.TTL("idempotency:user-1:key-1"); ttl != time.Hour {
		t.Errorf("expected ttl 1h, got %v", ttl)
	}
}

func TestIdempotencyService_ScopeIsolation(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop(), 0)
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-A", "same-key"); err != nil {
		t.Fatalf("user A failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "user-B", "same-key")
	if err != nil {
		t.Fatalf("user B should succeed: %v", err)
	}
	if result != nil {
		t.Fatal("user B should get nil (new request)")
	}
}

func TestIdempotencyService_Release(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop(), 0)
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.Release(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "user-1", "key-1")
	if err != nil || result != nil {
		t.Fatalf("expected a fresh reservation, got %+v, %v", result, err)
	}
}

func TestIdempotencyService_CorruptEntry(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	svc := NewIdempotencyService(client, zap.NewNop(), 0)
	if err := mr.Set("idempotency:user-1:key-1", "{not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := svc.Check(context.Background(), "user-1", "key-1"); err == nil {
		t.Fatal("expected error for corrupt cache entry")
	}
}
