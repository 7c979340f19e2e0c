package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"petition/api/internal/signature"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, s := setupTestRedis(t)
	defer s.Close()
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", time.Minute); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestSaveAndLoadSignatures(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	created := time.Date(2025, 8, 9, 10, 0, 0, 0, time.UTC)
	list := []signature.Signature{
		{ID: "2", Handle: "@second", Comment: "compilers", CreatedAt: created.Add(time.Minute), Location: "LOGIC_NODE_2"},
		{ID: "1", Handle: "@first", CreatedAt: created},
	}

	if err := store.SaveSignatures(ctx, list); err != nil {
		t.Fatalf("SaveSignatures failed: %v", err)
	}

	got, err := store.LoadSignatures(ctx)
	if err != nil {
		t.Fatalf("LoadSignatures failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "2" || got[1].ID != "1" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if !got[0].CreatedAt.Equal(list[0].CreatedAt) {
		t.Errorf("created_at not preserved: %v", got[0].CreatedAt)
	}
}

func TestLoadMiss(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	_, err := store.LoadSignatures(context.Background())
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestEntryExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveSignatures(ctx, nil); err != nil {
		t.Fatalf("SaveSignatures failed: %v", err)
	}
	got, err := store.LoadSignatures(ctx)
	if err != nil {
		t.Fatalf("LoadSignatures failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}

	s.FastForward(2 * time.Minute)

	if _, err := store.LoadSignatures(ctx); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after ttl, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveSignatures(ctx, []signature.Signature{{ID: "1"}}); err != nil {
		t.Fatalf("SaveSignatures failed: %v", err)
	}
	if err := store.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := store.LoadSignatures(ctx); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after invalidate, got %v", err)
	}
}

func TestLoadCorruptEntry(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if err := s.Set("petition:signatures", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.LoadSignatures(context.Background()); err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
