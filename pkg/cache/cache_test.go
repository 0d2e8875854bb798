package cache

import (
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := New[string]()
	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Errorf("Get = (%q, %v), want (v, true)", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("missing key should not be found")
	}
}

func TestExpiry(t *testing.T) {
	c := New[int]()
	c.Set("k", 42, 10*time.Millisecond)

	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry should be present")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry should not be returned")
	}
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string]()
	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key should be gone")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("other keys should survive a delete")
	}

	c.Clear()
	if _, ok := c.Get("b"); ok {
		t.Error("clear should drop everything")
	}
}

func TestOverwrite(t *testing.T) {
	c := New[string]()
	c.Set("k", "old", time.Minute)
	c.Set("k", "new", time.Minute)

	if got, _ := c.Get("k"); got != "new" {
		t.Errorf("Get = %q, want new", got)
	}
}
