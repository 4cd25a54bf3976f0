package models

// BoundingBox представляет ограничивающий прямоугольник маршрута
type BoundingBox struct {
	NorthEast Location `json:"north_east"`
	SouthWest Location `json:"south_west"`
}

// RouteStep представляет один шаг маршрута с инструкцией поворота
type RouteStep struct {
	Instruction string   `json:"instruction"`
	DistanceKm  float64  `json:"distance_km"`
	DurationMin float64  `json:"duration_min"`
	Start       Location `json:"start"`
	End         Location `json:"end"`
}

// Route представляет рассчитанный маршрут между точками
type Route struct {
	DistanceKm  float64     `json:"distance_km"`
	DurationMin float64     `json:"duration_min"`
	Polyline    string      `json:"polyline"`
	Steps       []RouteStep `json:"steps"`
	Bounds      BoundingBox `json:"bounds"`
}

// RouteRequest представляет запрос на расчет маршрута
type RouteRequest struct {
	Origin            Location     `json:"origin"`
	Destination       Location     `json:"destination"`
	Waypoints         []Location   `json:"waypoints,omitempty"`
	OptimizeWaypoints bool         `json:"optimize_waypoints,omitempty"`
	VehicleType       *VehicleType `json:"vehicle_type,omitempty"`
}

// OptimizeRouteRequest представляет запрос на оптимизацию обхода точек доставки
type OptimizeRouteRequest struct {
	Depot          Location     `json:"depot"`
	Points         []Location   `json:"points"`
	VehicleType    *VehicleType `json:"vehicle_type,omitempty"`
	MaxDurationMin *float64     `json:"max_duration_min,omitempty"`
	MaxDistanceKm  *float64     `json:"max_distance_km,omitempty"`
}

// OptimizedRoute представляет результат оптимизации: порядок обхода входных
// точек, агрегированные итоги и реализованные плечи маршрута.
// Ограничения по времени и расстоянию мягкие: превышение помечается флагами,
// но маршрут все равно возвращается
type OptimizedRoute struct {
	WaypointOrder    []int   `json:"waypoint_order"`
	TotalDistanceKm  float64 `json:"total_distance_km"`
	TotalDurationMin float64 `json:"total_duration_min"`
	Legs             []Route `json:"legs"`
	SavingsKm        float64 `json:"savings_km"`
	DurationExceeded bool    `json:"duration_exceeded,omitempty"`
	DistanceExceeded bool    `json:"distance_exceeded,omitempty"`
}
