package cache

import (
	"errors"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New[string](time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("k", "v")
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("Get() = (%q, %v), want (v, true)", v, ok)
	}
}

func TestGetExpiresLazily(t *testing.T) {
	c := New[string](time.Millisecond)
	c.Set("k", "v")
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected entry to have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after lazy eviction", c.Len())
	}
}

func TestGetOrLoadCachesOnlyOnSuccess(t *testing.T) {
	c := New[int](time.Minute)
	calls := 0
	loadErr := errors.New("boom")

	_, err := c.GetOrLoad("k", func() (int, error) {
		calls++
		return 0, loadErr
	})
	if err != loadErr {
		t.Fatalf("err = %v, want %v", err, loadErr)
	}
	if c.Len() != 0 {
		t.Fatal("expected failed load not to be cached")
	}

	v, err := c.GetOrLoad("k", func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("GetOrLoad() = (%d, %v), want (42, nil)", v, err)
	}

	v2, err := c.GetOrLoad("k", func() (int, error) {
		calls++
		return 99, nil
	})
	if err != nil || v2 != 42 {
		t.Fatalf("second GetOrLoad() = (%d, %v), want cached (42, nil)", v2, err)
	}
	if calls != 2 {
		t.Fatalf("loader called %d times, want 2 (one failure + one success)", calls)
	}
}

func TestInvalidate(t *testing.T) {
	c := New[string](time.Minute)
	c.Set("k", "v")
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected key to be gone after Invalidate")
	}
}
