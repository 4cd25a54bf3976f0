package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/metrics"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/redis"
)

// RouteService рассчитывает маршруты точка-точка через внешнего провайдера
// и оптимизирует обход множества точек. До порога OptimizeLimit порядок
// обхода выбирает провайдер; выше порога работает собственная жадная
// эвристика ближайшего соседа. Результаты кешируются по хешу запроса
type RouteService struct {
	provider RouteProvider
	cache    *redis.Client
	cfg      *config.RoutingConfig
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewRouteService создает сервис маршрутов
func NewRouteService(provider RouteProvider, cache *redis.Client, cfg *config.RoutingConfig, m *metrics.Metrics, log *logger.Logger) *RouteService {
	return &RouteService{
		provider: provider,
		cache:    cache,
		cfg:      cfg,
		metrics:  m,
		log:      log,
	}
}

// CalculateRoute рассчитывает маршрут между двумя точками с опциональными
// промежуточными остановками
func (s *RouteService) CalculateRoute(ctx context.Context, req *models.RouteRequest) (*models.Route, error) {
	if err := s.validateRouteRequest(req); err != nil {
		return nil, err
	}

	cacheKey, err := requestCacheKey("calc", req)
	if err != nil {
		return nil, err
	}

	var cached models.Route
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		s.metrics.RouteCacheTotal.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	s.metrics.RouteCacheTotal.WithLabelValues("miss").Inc()

	points := make([]models.Location, 0, len(req.Waypoints)+2)
	points = append(points, req.Origin)
	points = append(points, req.Waypoints...)
	points = append(points, req.Destination)

	resp, err := s.provider.Route(ctx, &RouteProviderRequest{
		Points:   points,
		Optimize: req.OptimizeWaypoints,
		Profile:  routingProfile(req.VehicleType),
	})
	if err != nil {
		return nil, err
	}

	route := &models.Route{
		DistanceKm:  resp.DistanceKm,
		DurationMin: resp.DurationMin,
		Polyline:    resp.Polyline,
		Steps:       resp.Steps,
		Bounds:      boundsFor(points, resp.Steps),
	}

	ttl := time.Duration(s.cfg.CacheTTL) * time.Second
	if err := s.cache.Set(ctx, cacheKey, route, ttl); err != nil {
		s.log.WithError(err).Warn("Failed to cache route")
	}

	return route, nil
}

// OptimizeRoute выбирает порядок обхода точек доставки от депо и обратно.
// Ограничения по времени и расстоянию мягкие: превышение помечается
// и логируется, но маршрут возвращается
func (s *RouteService) OptimizeRoute(ctx context.Context, req *models.OptimizeRouteRequest) (*models.OptimizedRoute, error) {
	if err := s.validateOptimizeRequest(req); err != nil {
		return nil, err
	}

	cacheKey, err := requestCacheKey("opt", req)
	if err != nil {
		return nil, err
	}

	var cached models.OptimizedRoute
	if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
		s.metrics.RouteCacheTotal.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	s.metrics.RouteCacheTotal.WithLabelValues("miss").Inc()

	var optimized *models.OptimizedRoute
	if len(req.Points) <= s.cfg.OptimizeLimit {
		optimized, err = s.optimizeViaProvider(ctx, req)
	} else {
		optimized, err = s.optimizeNearestNeighbor(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	optimized.SavingsKm = savings(req.Depot, req.Points, optimized.TotalDistanceKm)
	s.applySoftConstraints(req, optimized)

	ttl := time.Duration(s.cfg.CacheTTL) * time.Second
	if err := s.cache.Set(ctx, cacheKey, optimized, ttl); err != nil {
		s.log.WithError(err).Warn("Failed to cache optimized route")
	}

	return optimized, nil
}

// optimizeViaProvider делегирует выбор порядка обхода провайдеру
func (s *RouteService) optimizeViaProvider(ctx context.Context, req *models.OptimizeRouteRequest) (*models.OptimizedRoute, error) {
	points := make([]models.Location, 0, len(req.Points)+2)
	points = append(points, req.Depot)
	points = append(points, req.Points...)
	points = append(points, req.Depot)

	resp, err := s.provider.Route(ctx, &RouteProviderRequest{
		Points:   points,
		Optimize: true,
		Profile:  routingProfile(req.VehicleType),
	})
	if err != nil {
		return nil, err
	}

	order := resp.WaypointOrder
	if len(order) == 0 {
		order = identityOrder(len(req.Points))
	}

	leg := models.Route{
		DistanceKm:  resp.DistanceKm,
		DurationMin: resp.DurationMin,
		Polyline:    resp.Polyline,
		Steps:       resp.Steps,
		Bounds:      boundsFor(points, resp.Steps),
	}

	return &models.OptimizedRoute{
		WaypointOrder:    order,
		TotalDistanceKm:  resp.DistanceKm,
		TotalDurationMin: resp.DurationMin,
		Legs:             []models.Route{leg},
	}, nil
}

// optimizeNearestNeighbor строит порядок обхода жадной эвристикой ближайшего
// соседа, затем реализует каждое плечо через CalculateRoute и суммирует.
// Выбор порядка - O(n^2) по haversine, реализация - O(n) обращений к
// провайдеру; для партий доставок на практике это потолок сложности,
// а не общее решение VRP
func (s *RouteService) optimizeNearestNeighbor(ctx context.Context, req *models.OptimizeRouteRequest) (*models.OptimizedRoute, error) {
	order := NearestNeighborOrder(req.Depot, req.Points)

	stops := make([]models.Location, 0, len(order)+2)
	stops = append(stops, req.Depot)
	for _, idx := range order {
		stops = append(stops, req.Points[idx])
	}
	stops = append(stops, req.Depot)

	optimized := &models.OptimizedRoute{
		WaypointOrder: order,
		Legs:          make([]models.Route, 0, len(stops)-1),
	}

	for i := 0; i < len(stops)-1; i++ {
		leg, err := s.CalculateRoute(ctx, &models.RouteRequest{
			Origin:      stops[i],
			Destination: stops[i+1],
			VehicleType: req.VehicleType,
		})
		if err != nil {
			return nil, err
		}
		optimized.Legs = append(optimized.Legs, *leg)
		optimized.TotalDistanceKm += leg.DistanceKm
		optimized.TotalDurationMin += leg.DurationMin
	}

	return optimized, nil
}

// NearestNeighborOrder возвращает порядок обхода точек: начиная от депо,
// каждый раз выбирается ближайшая непосещенная точка. При равных расстояниях
// побеждает меньший индекс - порядок детерминирован
func NearestNeighborOrder(depot models.Location, points []models.Location) []int {
	order := make([]int, 0, len(points))
	visited := make([]bool, len(points))
	current := depot

	for len(order) < len(points) {
		best := -1
		bestDist := 0.0
		for i, p := range points {
			if visited[i] {
				continue
			}
			d := Haversine(current, p)
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}
		visited[best] = true
		order = append(order, best)
		current = points[best]
	}

	return order
}

// savings - сумма наивных поездок депо-точка-депо минус оптимизированная
// дистанция, с отсечкой в ноль
func savings(depot models.Location, points []models.Location, totalKm float64) float64 {
	naive := 0.0
	for _, p := range points {
		naive += 2 * Haversine(depot, p)
	}

	if saved := naive - totalKm; saved > 0 {
		return saved
	}
	return 0
}

// applySoftConstraints помечает превышение мягких ограничений
func (s *RouteService) applySoftConstraints(req *models.OptimizeRouteRequest, optimized *models.OptimizedRoute) {
	if req.MaxDurationMin != nil && optimized.TotalDurationMin > *req.MaxDurationMin {
		optimized.DurationExceeded = true
		s.log.WithFields(map[string]interface{}{
			"total_duration_min": optimized.TotalDurationMin,
			"max_duration_min":   *req.MaxDurationMin,
		}).Warn("Optimized route exceeds max duration")
	}
	if req.MaxDistanceKm != nil && optimized.TotalDistanceKm > *req.MaxDistanceKm {
		optimized.DistanceExceeded = true
		s.log.WithFields(map[string]interface{}{
			"total_distance_km": optimized.TotalDistanceKm,
			"max_distance_km":   *req.MaxDistanceKm,
		}).Warn("Optimized route exceeds max distance")
	}
}

func (s *RouteService) validateRouteRequest(req *models.RouteRequest) error {
	if !req.Origin.Valid() {
		return apperr.NewValidation("invalid origin coordinates: %.6f, %.6f", req.Origin.Lat, req.Origin.Lng)
	}
	if !req.Destination.Valid() {
		return apperr.NewValidation("invalid destination coordinates: %.6f, %.6f", req.Destination.Lat, req.Destination.Lng)
	}
	if len(req.Waypoints) > s.cfg.MaxWaypoints {
		return apperr.NewValidation("too many waypoints: %d, maximum %d", len(req.Waypoints), s.cfg.MaxWaypoints)
	}
	for i, wp := range req.Waypoints {
		if !wp.Valid() {
			return apperr.NewValidation("invalid waypoint %d coordinates: %.6f, %.6f", i, wp.Lat, wp.Lng)
		}
	}
	return nil
}

func (s *RouteService) validateOptimizeRequest(req *models.OptimizeRouteRequest) error {
	if !req.Depot.Valid() {
		return apperr.NewValidation("invalid depot coordinates: %.6f, %.6f", req.Depot.Lat, req.Depot.Lng)
	}
	if len(req.Points) == 0 {
		return apperr.NewValidation("no delivery points to optimize")
	}
	for i, p := range req.Points {
		if !p.Valid() {
			return apperr.NewValidation("invalid delivery point %d coordinates: %.6f, %.6f", i, p.Lat, p.Lng)
		}
	}
	return nil
}

// requestCacheKey строит ключ кеша route:{type}:{sha256 канонического JSON}
func requestCacheKey(routeType string, req interface{}) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to hash route request: %w", err)
	}

	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%s", redis.KeyPrefixRoute, routeType, hex.EncodeToString(sum[:])), nil
}

// routingProfile сопоставляет тип транспорта профилю провайдера
func routingProfile(vehicleType *models.VehicleType) string {
	if vehicleType == nil {
		return "driving"
	}
	switch *vehicleType {
	case models.VehicleTypeBicycle:
		return "cycling"
	case models.VehicleTypeMotorcycle, models.VehicleTypeCar, models.VehicleTypeVan:
		return "driving"
	default:
		return "driving"
	}
}

// identityOrder возвращает порядок 0..n-1
func identityOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// boundsFor строит ограничивающий прямоугольник по точкам запроса и шагам
func boundsFor(points []models.Location, steps []models.RouteStep) models.BoundingBox {
	all := make([]models.Location, 0, len(points)+2*len(steps))
	all = append(all, points...)
	for _, step := range steps {
		all = append(all, step.Start, step.End)
	}

	if len(all) == 0 {
		return models.BoundingBox{}
	}

	box := models.BoundingBox{
		NorthEast: all[0],
		SouthWest: all[0],
	}
	for _, p := range all[1:] {
		if p.Lat > box.NorthEast.Lat {
			box.NorthEast.Lat = p.Lat
		}
		if p.Lng > box.NorthEast.Lng {
			box.NorthEast.Lng = p.Lng
		}
		if p.Lat < box.SouthWest.Lat {
			box.SouthWest.Lat = p.Lat
		}
		if p.Lng < box.SouthWest.Lng {
			box.SouthWest.Lng = p.Lng
		}
	}

	return box
}
