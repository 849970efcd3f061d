package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisStore(client), mr
}

func TestRedisStore_SaveGetDelete(t *testing.T) {
	store, mr := setupTestRedisStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("s1", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists(redisKeyPrefix + "s1") {
		t.Fatal("expected key in redis")
	}
	if ttl := mr.TTL(redisKeyPrefix + "s1"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("unexpected ttl %v", ttl)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.GooglePhotosTokens == nil || string(got.GooglePhotosTokens.Ciphertext) != "sealed" {
		t.Errorf("token blob did not survive round trip: %+v", got.GooglePhotosTokens)
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	store, mr := setupTestRedisStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, testSession("s1", time.Now()))
	mr.FastForward(2 * time.Hour)

	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after ttl, got %v", err)
	}
}

func TestRedisStore_SaveExpiredDeletes(t *testing.T) {
	store, mr := setupTestRedisStore(t)
	ctx := context.Background()

	_ = store.Save(ctx, testSession("s1", time.Now()))
	if err := store.Save(ctx, testSession("s1", time.Now().Add(-2*time.Hour))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if mr.Exists(redisKeyPrefix + "s1") {
		t.Error("expired session should have been removed")
	}
}

func TestRedisStore_UpdateIsAtomic(t *testing.T) {
	store, _ := setupTestRedisStore(t)
	ctx := context.Background()
	_ = store.Save(ctx, testSession("s1", time.Now()))

	appendConcurrently(t, store, "s1", 3)

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.OAuthState) != 3 {
		t.Errorf("expected 3 applied updates, got %d", len(got.OAuthState))
	}
	if err := store.Update(ctx, "missing", func(*Session) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
