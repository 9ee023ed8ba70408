package access

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"taskbench/api/internal/principal"
)

func setupTestCache(t *testing.T) (*ScopeCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewScopeCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create scope cache: %v", err)
	}
	return cache, s
}

func TestNewScopeCache(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestScopeCacheSetAndGet(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "key-1", []string{"WBI:1", "WBI:2"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ids, ok, err := cache.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(ids) != 2 || ids[0] != "WBI:1" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestScopeCacheMiss(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	_, ok, err := cache.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss")
	}
}

func TestScopeCacheExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	cache, err := NewScopeCache("redis://"+s.Addr(), time.Second)
	if err != nil {
		t.Fatalf("failed to create scope cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "key-1", []string{"WBI:1"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	_, ok, err := cache.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("expected entry to expire")
	}
}

func TestResolverUsesCache(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()
	cache, err := NewScopeCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create scope cache: %v", err)
	}
	defer cache.Close()

	fake := testStore()
	resolver := NewResolver(fake, cache)
	p := principal.Principal{UserID: "user_1_1", GroupIDs: []string{"group_1"}}

	first, err := resolver.AccessibleWorkbaskets(context.Background(), p, PermOpen)
	if err != nil {
		t.Fatalf("AccessibleWorkbaskets() error = %v", err)
	}
	second, err := resolver.AccessibleWorkbaskets(context.Background(), p, PermOpen)
	if err != nil {
		t.Fatalf("AccessibleWorkbaskets() error = %v", err)
	}

	if fake.calls != 1 {
		t.Fatalf("expected one store read, got %d", fake.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cached scope differs: %v vs %v", first, second)
	}
}

// READ and OPEN scopes must never share a cache entry.
func TestScopeKeyVariesByPermission(t *testing.T) {
	p := principal.Principal{UserID: "user_1_1"}
	if scopeKey(p, PermOpen) == scopeKey(p, PermRead) {
		t.Fatal("scope keys for different permissions must differ")
	}
	other := principal.Principal{UserID: "user_2_1"}
	if scopeKey(p, PermOpen) == scopeKey(other, PermOpen) {
		t.Fatal("scope keys for different principals must differ")
	}
}
