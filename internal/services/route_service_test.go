package services

import (
	"context"
	"sync"
	"testing"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/metrics"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoutingConfig() *config.RoutingConfig {
	return &config.RoutingConfig{
		CacheTTL:      3600,
		MaxWaypoints:  23,
		OptimizeLimit: 10,
	}
}

type fakeRouteProvider struct {
	mu       sync.Mutex
	resp     *RouteProviderResponse
	err      error
	requests []RouteProviderRequest
}

func (f *fakeRouteProvider) Route(_ context.Context, req *RouteProviderRequest) (*RouteProviderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, *req)
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	return &resp, nil
}

func (f *fakeRouteProvider) calls() []RouteProviderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RouteProviderRequest(nil), f.requests...)
}

func newRouteFixture(t *testing.T, provider *fakeRouteProvider) *RouteService {
	t.Helper()
	cache, _ := newTestRedis(t)
	return NewRouteService(provider, cache, testRoutingConfig(), metrics.New(), testLogger())
}

func routePoints(n int) []models.Location {
	points := make([]models.Location, n)
	for i := range points {
		points[i] = offsetKm(geoCenter, float64(i+1))
	}
	return points
}

func TestCalculateRoute(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{
		DistanceKm:  7.4,
		DurationMin: 15.5,
		Polyline:    "abc123",
	}}
	svc := newRouteFixture(t, provider)

	req := &models.RouteRequest{
		Origin:      geoCenter,
		Destination: offsetKm(geoCenter, 5),
		Waypoints:   []models.Location{offsetKm(geoCenter, 2)},
	}

	route, err := svc.CalculateRoute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 7.4, route.DistanceKm)
	assert.Equal(t, 15.5, route.DurationMin)
	assert.Equal(t, "abc123", route.Polyline)

	calls := provider.calls()
	require.Len(t, calls, 1)
	// Начало, промежуточные точки, конец
	require.Len(t, calls[0].Points, 3)
	assert.Equal(t, req.Origin, calls[0].Points[0])
	assert.Equal(t, req.Destination, calls[0].Points[2])
	assert.Equal(t, "driving", calls[0].Profile)
	assert.False(t, calls[0].Optimize)

	// Прямоугольник покрывает все точки запроса
	assert.GreaterOrEqual(t, route.Bounds.NorthEast.Lat, req.Destination.Lat)
	assert.LessOrEqual(t, route.Bounds.SouthWest.Lat, req.Origin.Lat)
}

func TestCalculateRoute_CachesResult(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{DistanceKm: 3}}
	svc := newRouteFixture(t, provider)

	req := &models.RouteRequest{
		Origin:      geoCenter,
		Destination: offsetKm(geoCenter, 5),
	}

	first, err := svc.CalculateRoute(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.CalculateRoute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, provider.calls(), 1, "second call must be served from cache")
}

func TestCalculateRoute_Validation(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{}}
	svc := newRouteFixture(t, provider)

	cases := map[string]*models.RouteRequest{
		"bad origin": {
			Origin:      models.Location{Lat: 95, Lng: 69},
			Destination: geoCenter,
		},
		"bad destination": {
			Origin:      geoCenter,
			Destination: models.Location{Lat: 41, Lng: 190},
		},
		"too many waypoints": {
			Origin:      geoCenter,
			Destination: offsetKm(geoCenter, 5),
			Waypoints:   routePoints(24),
		},
		"bad waypoint": {
			Origin:      geoCenter,
			Destination: offsetKm(geoCenter, 5),
			Waypoints:   []models.Location{{Lat: -91, Lng: 0}},
		},
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CalculateRoute(context.Background(), req)
			require.Error(t, err)

			var validationErr *apperr.ValidationError
			assert.ErrorAs(t, err, &validationErr)
			assert.False(t, apperr.IsRetryable(err))
		})
	}

	assert.Empty(t, provider.calls(), "provider must not be called for invalid requests")
}

func TestCalculateRoute_BicycleProfile(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{}}
	svc := newRouteFixture(t, provider)

	bike := models.VehicleTypeBicycle
	_, err := svc.CalculateRoute(context.Background(), &models.RouteRequest{
		Origin:      geoCenter,
		Destination: offsetKm(geoCenter, 5),
		VehicleType: &bike,
	})
	require.NoError(t, err)

	calls := provider.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cycling", calls[0].Profile)
}

func TestOptimizeRoute_ProviderBelowLimit(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{
		DistanceKm:    12,
		DurationMin:   30,
		WaypointOrder: []int{2, 0, 1},
	}}
	svc := newRouteFixture(t, provider)

	req := &models.OptimizeRouteRequest{
		Depot:  geoCenter,
		Points: routePoints(3),
	}

	optimized, err := svc.OptimizeRoute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 0, 1}, optimized.WaypointOrder)
	assert.Equal(t, 12.0, optimized.TotalDistanceKm)
	assert.Equal(t, 30.0, optimized.TotalDurationMin)

	calls := provider.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Optimize)
	// Депо в начале и в конце обхода
	require.Len(t, calls[0].Points, 5)
	assert.Equal(t, req.Depot, calls[0].Points[0])
	assert.Equal(t, req.Depot, calls[0].Points[4])
}

func TestOptimizeRoute_ProviderWithoutOrder(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{DistanceKm: 9}}
	svc := newRouteFixture(t, provider)

	optimized, err := svc.OptimizeRoute(context.Background(), &models.OptimizeRouteRequest{
		Depot:  geoCenter,
		Points: routePoints(3),
	})
	require.NoError(t, err)

	// Провайдер не вернул порядок - точки обходятся как заданы
	assert.Equal(t, []int{0, 1, 2}, optimized.WaypointOrder)
}

func TestOptimizeRoute_NearestNeighborAboveLimit(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{DistanceKm: 2, DurationMin: 4}}
	svc := newRouteFixture(t, provider)

	req := &models.OptimizeRouteRequest{
		Depot:  geoCenter,
		Points: routePoints(15),
	}

	optimized, err := svc.OptimizeRoute(context.Background(), req)
	require.NoError(t, err)

	// Порядок - перестановка всех входных индексов
	require.Len(t, optimized.WaypointOrder, 15)
	seen := make(map[int]bool)
	for _, idx := range optimized.WaypointOrder {
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, 15)
		require.False(t, seen[idx], "index %d visited twice", idx)
		seen[idx] = true
	}

	// 16 плеч: депо -> 15 точек -> депо
	assert.Len(t, optimized.Legs, 16)
	assert.InDelta(t, 32.0, optimized.TotalDistanceKm, 1e-9)
	assert.InDelta(t, 64.0, optimized.TotalDurationMin, 1e-9)

	for _, call := range provider.calls() {
		assert.False(t, call.Optimize, "legs are realized without provider-side optimization")
	}
}

func TestNearestNeighborOrder(t *testing.T) {
	depot := models.Location{Lat: 41.0, Lng: 69.0}

	t.Run("greedy by distance", func(t *testing.T) {
		points := []models.Location{
			offsetKm(depot, 9),
			offsetKm(depot, 1),
			offsetKm(depot, 5),
		}
		assert.Equal(t, []int{1, 2, 0}, NearestNeighborOrder(depot, points))
	})

	t.Run("first index wins ties", func(t *testing.T) {
		same := offsetKm(depot, 3)
		points := []models.Location{same, same, same}
		assert.Equal(t, []int{0, 1, 2}, NearestNeighborOrder(depot, points))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, NearestNeighborOrder(depot, nil))
	})
}

func TestOptimizeRoute_SoftConstraints(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{DistanceKm: 40, DurationMin: 90}}
	svc := newRouteFixture(t, provider)

	maxDuration := 60.0
	maxDistance := 30.0
	optimized, err := svc.OptimizeRoute(context.Background(), &models.OptimizeRouteRequest{
		Depot:          geoCenter,
		Points:         routePoints(2),
		MaxDurationMin: &maxDuration,
		MaxDistanceKm:  &maxDistance,
	})
	require.NoError(t, err, "soft constraints must not reject the route")

	assert.True(t, optimized.DurationExceeded)
	assert.True(t, optimized.DistanceExceeded)
}

func TestOptimizeRoute_Savings(t *testing.T) {
	// Оптимизированная дистанция заметно короче наивных поездок
	// депо-точка-депо
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{DistanceKm: 10}}
	svc := newRouteFixture(t, provider)

	req := &models.OptimizeRouteRequest{
		Depot:  geoCenter,
		Points: routePoints(3), // 1, 2 и 3 км от депо
	}

	optimized, err := svc.OptimizeRoute(context.Background(), req)
	require.NoError(t, err)

	naive := 0.0
	for _, p := range req.Points {
		naive += 2 * Haversine(req.Depot, p)
	}
	assert.InDelta(t, naive-10, optimized.SavingsKm, 0.05)
}

func TestOptimizeRoute_SavingsFloorsAtZero(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{DistanceKm: 500}}
	svc := newRouteFixture(t, provider)

	optimized, err := svc.OptimizeRoute(context.Background(), &models.OptimizeRouteRequest{
		Depot:  geoCenter,
		Points: routePoints(2),
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, optimized.SavingsKm)
}

func TestOptimizeRoute_Validation(t *testing.T) {
	provider := &fakeRouteProvider{resp: &RouteProviderResponse{}}
	svc := newRouteFixture(t, provider)

	t.Run("no points", func(t *testing.T) {
		_, err := svc.OptimizeRoute(context.Background(), &models.OptimizeRouteRequest{Depot: geoCenter})
		require.Error(t, err)

		var validationErr *apperr.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	t.Run("bad depot", func(t *testing.T) {
		_, err := svc.OptimizeRoute(context.Background(), &models.OptimizeRouteRequest{
			Depot:  models.Location{Lat: 99, Lng: 0},
			Points: routePoints(2),
		})
		require.Error(t, err)

		var validationErr *apperr.ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	assert.Empty(t, provider.calls())
}
