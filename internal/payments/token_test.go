package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newCacheWithClock(fetch TokenFetcher, start time.Time) (*TokenCache, *time.Time) {
	clock := start
	c := NewTokenCache(fetch)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestGetOrRefreshCachesUntilMargin(t *testing.T) {
	start := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	fetches := 0
	cache, clock := newCacheWithClock(func(context.Context) (string, int64, error) {
		fetches++
		return "tok", 3600, nil // duration form
	}, start)

	for i := 0; i < 3; i++ {
		tok, err := cache.GetOrRefresh(context.Background())
		if err != nil || tok != "tok" {
			t.Fatalf("GetOrRefresh: %q, %v", tok, err)
		}
	}
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1", fetches)
	}

	// Just inside the 60s early-refresh margin: must refetch.
	*clock = start.Add(3600*time.Second - 30*time.Second)
	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Fatalf("fetches = %d, want 2 (margin refresh)", fetches)
	}
}

func TestGetOrRefreshAbsoluteEpochExpiry(t *testing.T) {
	start := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	fetches := 0
	cache, clock := newCacheWithClock(func(context.Context) (string, int64, error) {
		fetches++
		// absolute epoch two hours from "now"
		return "tok", start.Add(2 * time.Hour).Unix(), nil
	}, start)

	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	*clock = start.Add(90 * time.Minute)
	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1 (absolute expiry still valid)", fetches)
	}
	*clock = start.Add(2 * time.Hour)
	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Fatalf("fetches = %d, want 2", fetches)
	}
}

func TestGetOrRefreshFetchFailureClearsCache(t *testing.T) {
	start := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	calls := 0
	cache, _ := newCacheWithClock(func(context.Context) (string, int64, error) {
		calls++
		if calls == 1 {
			return "", 0, errors.New("gateway down")
		}
		return "tok2", 3600, nil
	}, start)

	if _, err := cache.GetOrRefresh(context.Background()); err == nil {
		t.Fatal("want fetch error")
	}
	tok, err := cache.GetOrRefresh(context.Background())
	if err != nil || tok != "tok2" {
		t.Fatalf("retry after failure: %q, %v", tok, err)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	start := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	fetches := 0
	cache, _ := newCacheWithClock(func(context.Context) (string, int64, error) {
		fetches++
		return "tok", 3600, nil
	}, start)

	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate()
	if _, err := cache.GetOrRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetches != 2 {
		t.Fatalf("fetches = %d, want 2", fetches)
	}
}
