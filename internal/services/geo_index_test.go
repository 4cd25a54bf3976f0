package services

import (
	"context"
	"testing"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redis.NewFromRedis(rdb, testLogger()), mr
}

func newTestGeoIndex(t *testing.T) (*GeoIndexService, *miniredis.Miniredis) {
	t.Helper()
	client, mr := newTestRedis(t)
	return NewGeoIndexService(client, testDispatchConfig(), testLogger()), mr
}

var geoCenter = models.Location{Lat: 41.3111, Lng: 69.2797}

// offsetKm сдвигает точку на север примерно на km километров
func offsetKm(base models.Location, km float64) models.Location {
	return models.Location{Lat: base.Lat + km/111.195, Lng: base.Lng}
}

func TestGeoIndex_UpsertAndQuery(t *testing.T) {
	idx, _ := newTestGeoIndex(t)
	ctx := context.Background()

	driver := availableDriver(models.VehicleTypeCar, 4.5)
	require.NoError(t, idx.Upsert(ctx, driver, offsetKm(geoCenter, 2)))

	candidates, err := idx.Query(ctx, geoCenter, 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	assert.Equal(t, driver.ID, candidates[0].DriverID)
	assert.Equal(t, models.VehicleTypeCar, candidates[0].VehicleType)
	assert.Equal(t, 4.5, candidates[0].Rating)
	assert.True(t, candidates[0].IsAvailable)
	assert.InDelta(t, 2.0, candidates[0].DistanceKm, 0.1)
}

func TestGeoIndex_QueryRespectsRadius(t *testing.T) {
	idx, _ := newTestGeoIndex(t)
	ctx := context.Background()

	inside := availableDriver(models.VehicleTypeCar, 5)
	outside := availableDriver(models.VehicleTypeCar, 5)
	require.NoError(t, idx.Upsert(ctx, inside, offsetKm(geoCenter, 9.5)))
	require.NoError(t, idx.Upsert(ctx, outside, offsetKm(geoCenter, 10.5)))

	candidates, err := idx.Query(ctx, geoCenter, 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, inside.ID, candidates[0].DriverID)
}

func TestGeoIndex_QuerySortedByDistance(t *testing.T) {
	idx, _ := newTestGeoIndex(t)
	ctx := context.Background()

	far := availableDriver(models.VehicleTypeCar, 5)
	near := availableDriver(models.VehicleTypeCar, 5)
	require.NoError(t, idx.Upsert(ctx, far, offsetKm(geoCenter, 7)))
	require.NoError(t, idx.Upsert(ctx, near, offsetKm(geoCenter, 1)))

	candidates, err := idx.Query(ctx, geoCenter, 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, near.ID, candidates[0].DriverID)
	assert.Equal(t, far.ID, candidates[1].DriverID)
}

func TestGeoIndex_QueryVehicleFilter(t *testing.T) {
	idx, _ := newTestGeoIndex(t)
	ctx := context.Background()

	car := availableDriver(models.VehicleTypeCar, 5)
	bike := availableDriver(models.VehicleTypeBicycle, 5)
	require.NoError(t, idx.Upsert(ctx, car, offsetKm(geoCenter, 1)))
	require.NoError(t, idx.Upsert(ctx, bike, offsetKm(geoCenter, 2)))

	wantType := models.VehicleTypeBicycle
	candidates, err := idx.Query(ctx, geoCenter, 10, &wantType, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, bike.ID, candidates[0].DriverID)
}

func TestGeoIndex_QueryLimit(t *testing.T) {
	idx, _ := newTestGeoIndex(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		driver := availableDriver(models.VehicleTypeCar, 5)
		require.NoError(t, idx.Upsert(ctx, driver, offsetKm(geoCenter, float64(i))))
	}

	candidates, err := idx.Query(ctx, geoCenter, 10, nil, 3)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestGeoIndex_StaleEntryEvicted(t *testing.T) {
	idx, mr := newTestGeoIndex(t)
	ctx := context.Background()

	driver := availableDriver(models.VehicleTypeCar, 5)
	require.NoError(t, idx.Upsert(ctx, driver, offsetKm(geoCenter, 1)))

	// Ключ с метаданными пережил окно свежести
	mr.Del(redis.GenerateKey(redis.KeyPrefixDriver, driver.ID.String()))

	candidates, err := idx.Query(ctx, geoCenter, 10, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	// Запись лениво вычищена из гео-множества
	assert.False(t, mr.Exists(redis.KeyAvailableDrivers))
}

func TestGeoIndex_UpsertUnavailableRemoves(t *testing.T) {
	idx, _ := newTestGeoIndex(t)
	ctx := context.Background()

	driver := availableDriver(models.VehicleTypeCar, 5)
	require.NoError(t, idx.Upsert(ctx, driver, offsetKm(geoCenter, 1)))

	driver.IsAvailable = false
	require.NoError(t, idx.Upsert(ctx, driver, offsetKm(geoCenter, 1)))

	candidates, err := idx.Query(ctx, geoCenter, 10, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestGeoIndex_Remove(t *testing.T) {
	idx, mr := newTestGeoIndex(t)
	ctx := context.Background()

	driver := availableDriver(models.VehicleTypeCar, 5)
	require.NoError(t, idx.Upsert(ctx, driver, offsetKm(geoCenter, 1)))
	require.NoError(t, idx.Remove(ctx, driver.ID))

	candidates, err := idx.Query(ctx, geoCenter, 10, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.False(t, mr.Exists(redis.GenerateKey(redis.KeyPrefixDriver, driver.ID.String())))
}
