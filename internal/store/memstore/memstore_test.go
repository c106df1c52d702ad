package memstore

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if got, err := s.Get(ctx, "k"); err != nil || got != nil {
		t.Fatalf("absent key = %v, %v; want nil, nil", got, err)
	}

	if err := s.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v1" {
		t.Fatalf("get = %q, %v", got, err)
	}

	existed, err := s.Delete(ctx, "k")
	if err != nil || !existed {
		t.Fatalf("delete = %v, %v", existed, err)
	}
	existed, _ = s.Delete(ctx, "k")
	if existed {
		t.Error("second delete reported existing key")
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.Set(ctx, "k", []byte("v"), 10*time.Millisecond)
	if got, _ := s.Get(ctx, "k"); got == nil {
		t.Fatal("value expired before ttl")
	}

	time.Sleep(20 * time.Millisecond)
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Errorf("expired value still readable: %q", got)
	}
	if s.Len() != 0 {
		t.Errorf("len = %d after expiry read", s.Len())
	}
}

func TestValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	src := []byte("abc")
	s.Set(ctx, "k", src, 0)
	src[0] = 'x'

	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller slice: %q", got)
	}
	got[0] = 'y'
	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("returned value aliased stored slice: %q", again)
	}
}
