package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type testUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newL1OnlyCache(t *testing.T) *MultiTierCache {
	t.Helper()
	c, err := NewMultiTierCache(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewMultiTierCache() failed: %v", err)
	}
	return c
}

func TestGetOrFetch_NilInterfaceNoPanic(t *testing.T) {
	c := newL1OnlyCache(t)

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("GetOrFetch panicked with nil interface result: %v", r)
		}
	}()

	result, err := GetOrFetch(context.Background(), c, "stringer", func(context.Context) (fmt.Stringer, error) {
		return nil, nil
	}, GetOptions[fmt.Stringer]{})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil result, got: %v", result)
	}
}

func TestGetOrFetch_NilPointerNoPanic(t *testing.T) {
	c := newL1OnlyCache(t)

	load := func(context.Context) (*testUser, error) {
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		result, err := GetOrFetch(context.Background(), c, "user", load, GetOptions[*testUser]{})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if result != nil {
			t.Errorf("Expected nil pointer, got: %v", result)
		}
	}
}

func TestGetOrFetch_TypeMismatchIsMiss(t *testing.T) {
	c := newL1OnlyCache(t)
	ctx := context.Background()

	c.Set(ctx, "count", 42, SetOptions{})

	_, err := GetOrFetch[string](ctx, c, "count", nil, GetOptions[string]{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a value of another type, got: %v", err)
	}

	count, ok := Get(ctx, c, "count", GetOptions[int]{})
	if !ok || count != 42 {
		t.Errorf("Expected 42, got %d (ok=%v)", count, ok)
	}
}

func TestGetOrFetch_ValidResult(t *testing.T) {
	c := newL1OnlyCache(t)
	expected := testUser{ID: "1", Name: "alice"}

	result, err := GetOrFetch(context.Background(), c, "user::1", func(context.Context) (testUser, error) {
		return expected, nil
	}, GetOptions[testUser]{})

	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if result != expected {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestGet_UsesOptionalLoader(t *testing.T) {
	c := newL1OnlyCache(t)
	ctx := context.Background()

	if _, ok := Get(ctx, c, "k", GetOptions[string]{}); ok {
		t.Error("Expected a miss without a loader")
	}

	value, ok := Get(ctx, c, "k", GetOptions[string]{
		Loader: func(context.Context) (string, error) { return "loaded", nil },
	})
	if !ok || value != "loaded" {
		t.Errorf("Expected loaded value, got %q (ok=%v)", value, ok)
	}

	value, ok = Get(ctx, c, "k", GetOptions[string]{})
	if !ok || value != "loaded" {
		t.Errorf("Expected cached value, got %q (ok=%v)", value, ok)
	}
}
