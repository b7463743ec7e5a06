/*
cache_test.go - Tests for the capacity grid cache

Tests for:
- Hit after Put, miss after Invalidate
- A nil cache is always a miss
- GET /api/capacity fills the cache and a booking retires it
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coaching-engine/booking"
)

// fakeRedis keeps values in a map and answers like go-redis would.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	default:
		f.data[key] = fmt.Sprint(v)
	}
	f.sets++
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	fmt.Sscan(f.data[key], &n)
	n++
	f.data[key] = fmt.Sprint(n)
	return redis.NewIntResult(n, nil)
}

func TestCapacityCache_PutGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewCapacityCache(newFakeRedis(), time.Minute, nil)

	from := monday1800.Add(-18 * time.Hour)
	to := from.Add(24 * time.Hour)
	resp := CapacityResponse{From: from, To: to, Slots: []CapacitySlotDTO{{Hour: 18, Occupied: 4, Capacity: 6, Status: "near_full"}}}

	_, key, ok := c.Get(ctx, 0, from, to)
	assert.False(t, ok)
	require.NotEmpty(t, key)

	c.Put(ctx, key, resp)
	got, _, ok := c.Get(ctx, 0, from, to)
	require.True(t, ok)
	require.Len(t, got.Slots, 1)
	assert.Equal(t, "near_full", got.Slots[0].Status)

	// A different policy revision never shares a grid.
	_, _, ok = c.Get(ctx, 1, from, to)
	assert.False(t, ok)

	c.Invalidate(ctx)
	_, _, ok = c.Get(ctx, 0, from, to)
	assert.False(t, ok)
}

func TestCapacityCache_GridReadBeforeInvalidateStaysRetired(t *testing.T) {
	// GIVEN: A reader that missed and is still computing its grid
	// WHEN: A write invalidates before the reader stores the grid
	// THEN: The stale grid is never served

	ctx := context.Background()
	c := NewCapacityCache(newFakeRedis(), time.Minute, nil)
	from := monday1800.Add(-18 * time.Hour)
	to := from.Add(24 * time.Hour)

	_, key, ok := c.Get(ctx, 0, from, to)
	require.False(t, ok)

	c.Invalidate(ctx)
	c.Put(ctx, key, CapacityResponse{From: from, To: to, Slots: []CapacitySlotDTO{{Hour: 18, Occupied: 1}}})

	_, fresh, ok := c.Get(ctx, 0, from, to)
	assert.False(t, ok)
	assert.NotEqual(t, key, fresh)
}

func TestCapacityCache_NilIsAlwaysMiss(t *testing.T) {
	ctx := context.Background()
	var c *CapacityCache
	assert.Nil(t, NewCapacityCache(nil, time.Minute, nil))

	c.Put(ctx, "capacity:grid:0:0:0:0", CapacityResponse{})
	c.Invalidate(ctx)
	_, key, ok := c.Get(ctx, 0, time.Time{}, time.Time{})
	assert.False(t, ok)
	assert.Empty(t, key)
}

func TestAPI_CapacityUsesCache(t *testing.T) {
	// GIVEN: One booking at Monday 18:00
	// WHEN: The Monday grid is read twice, then another booking lands
	// THEN: The second read is served from Redis and the booking retires it

	e := newTestEnv(t, nil)
	guardian := booking.Guardian("g-1")
	e.book(t, "g-1", monday1800)

	path := "/api/capacity?from=2024-06-10T00:00:00Z&to=2024-06-11T00:00:00Z"
	slotAt := func(resp CapacityResponse, hour int) CapacitySlotDTO {
		for _, s := range resp.Slots {
			if s.Hour == hour {
				return s
			}
		}
		t.Fatalf("no slot at %02d:00", hour)
		return CapacitySlotDTO{}
	}

	rec := e.do(t, http.MethodGet, path, nil, guardian)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decodeAs[CapacityResponse](t, rec)
	assert.Equal(t, 1, slotAt(first, 18).Occupied)
	assert.Equal(t, "available", slotAt(first, 18).Status)
	assert.Equal(t, 1, e.redis.sets)

	rec = e.do(t, http.MethodGet, path, nil, guardian)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, e.redis.sets, "second read should hit the cache")

	e.book(t, "g-2", monday1800)

	rec = e.do(t, http.MethodGet, path, nil, guardian)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, slotAt(decodeAs[CapacityResponse](t, rec), 18).Occupied)
	assert.Equal(t, 2, e.redis.sets)
}

func TestAPI_CapacityRejectsLongWindow(t *testing.T) {
	e := newTestEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/api/capacity?from=2024-06-10T00:00:00Z&to=2024-12-10T00:00:00Z", nil, testAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeAs[ErrorResponse](t, rec).Code)
}
