package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryKV_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	if _, err := kv.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("missing key: want ErrNotFound, got %v", err)
	}

	if err := kv.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(b) != "v" {
		t.Errorf("Get: want v, got %q", b)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("deleted key: want ErrNotFound, got %v", err)
	}
}

func TestMemoryKV_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	if err := kv.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := kv.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("Get after expiry: want ErrNotFound, got %v", err)
	}
}

func TestMemoryKV_SetNX(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	ok, err := kv.SetNX(ctx, "lock", []byte("1"), 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = kv.SetNX(ctx, "lock", []byte("2"), 0)
	if err != nil || ok {
		t.Fatalf("second SetNX should not win: ok=%v err=%v", ok, err)
	}

	// An expired lock is free again.
	if err := kv.Set(ctx, "stale", []byte("1"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	ok, err = kv.SetNX(ctx, "stale", []byte("2"), 0)
	if err != nil || !ok {
		t.Fatalf("SetNX on expired key: ok=%v err=%v", ok, err)
	}
}

func TestMemoryKV_ValueIsolation(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	v := []byte("abc")
	_ = kv.Set(ctx, "k", v, 0)
	v[0] = 'x'
	got, _ := kv.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
	got[0] = 'y'
	again, _ := kv.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("returned value aliased stored slice: %q", again)
	}
}
