package vendors

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roadcall/roadside-dispatch/pkg/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGeoRedis implements the Redis surface the index uses, with an exact
// haversine radius check so the inclusive boundary is testable.
type fakeGeoRedis struct {
	mu      sync.Mutex
	members map[string]map[string][2]float64 // key -> member -> (lon, lat)
	kv      map[string]string
}

func newFakeGeoRedis() *fakeGeoRedis {
	return &fakeGeoRedis{
		members: make(map[string]map[string][2]float64),
		kv:      make(map[string]string),
	}
}

func (f *fakeGeoRedis) GeoAdd(_ context.Context, key string, longitude, latitude float64, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[key] == nil {
		f.members[key] = make(map[string][2]float64)
	}
	f.members[key][member] = [2]float64{longitude, latitude}
	return nil
}

func (f *fakeGeoRedis) GeoRadiusMiles(_ context.Context, key string, longitude, latitude, radiusMiles float64, count int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for member, pos := range f.members[key] {
		if geo.HaversineMiles(pos[1], pos[0], latitude, longitude) <= radiusMiles {
			out = append(out, member)
		}
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func (f *fakeGeoRedis) GeoRemove(_ context.Context, key string, member string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[key], member)
	return nil
}

func (f *fakeGeoRedis) SetWithExpiration(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = value.(string)
	return nil
}

func (f *fakeGeoRedis) SetIfAbsent(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kv[key]; ok {
		return false, nil
	}
	f.kv[key] = value.(string)
	return true, nil
}

func (f *fakeGeoRedis) GetString(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kv[key], nil
}

func (f *fakeGeoRedis) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.kv, k)
	}
	return nil
}

func (f *fakeGeoRedis) Close() error { return nil }

func TestGeoIndex_UpsertAndQuery(t *testing.T) {
	index := NewGeoIndex(newFakeGeoRedis())
	ctx := context.Background()

	near := uuid.New()
	far := uuid.New()
	require.NoError(t, index.Upsert(ctx, near, 40.72, -74.00))
	require.NoError(t, index.Upsert(ctx, far, 42.00, -76.00))

	ids, err := index.IDsWithinRadius(ctx, 40.7128, -74.0060, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{near}, ids)
}

func TestGeoIndex_BoundaryInclusive(t *testing.T) {
	fake := newFakeGeoRedis()
	index := NewGeoIndex(fake)
	ctx := context.Background()

	// Place a vendor, measure its exact distance, and query with that
	// distance as the radius: it must be returned.
	id := uuid.New()
	require.NoError(t, index.Upsert(ctx, id, 41.0, -74.0))
	distance := geo.HaversineMiles(41.0, -74.0, 40.7128, -74.0060)

	ids, err := index.IDsWithinRadius(ctx, 40.7128, -74.0060, distance, 10)
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

func TestGeoIndex_Remove(t *testing.T) {
	index := NewGeoIndex(newFakeGeoRedis())
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, index.Upsert(ctx, id, 40.72, -74.00))
	require.NoError(t, index.Remove(ctx, id))

	ids, err := index.IDsWithinRadius(ctx, 40.7128, -74.0060, 50, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGeoIndex_RecordDemand(t *testing.T) {
	fake := newFakeGeoRedis()
	index := NewGeoIndex(fake)
	ctx := context.Background()

	// Two incidents in the same zone share a counter; a distant one gets
	// its own.
	index.RecordDemand(ctx, 40.7128, -74.0060)
	index.RecordDemand(ctx, 40.7129, -74.0061)
	index.RecordDemand(ctx, 34.0522, -118.2437)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	counts := make(map[string]int)
	for key, value := range fake.kv {
		assert.Contains(t, key, "demand:zone:")
		var n int
		_, err := fmt.Sscanf(value, "%d", &n)
		require.NoError(t, err)
		counts[key] = n
	}
	require.Len(t, counts, 2)
	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 3, total)
}

func TestGeoIndex_SkipsMalformedMembers(t *testing.T) {
	fake := newFakeGeoRedis()
	index := NewGeoIndex(fake)
	ctx := context.Background()

	require.NoError(t, fake.GeoAdd(ctx, "vendors:coverage", -74.00, 40.72, "not-a-uuid"))
	id := uuid.New()
	require.NoError(t, index.Upsert(ctx, id, 40.72, -74.00))

	ids, err := index.IDsWithinRadius(ctx, 40.7128, -74.0060, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, ids)
}
