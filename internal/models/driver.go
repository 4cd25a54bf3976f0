package models

import (
	"time"

	"github.com/google/uuid"
)

// Driver представляет водителя в системе
type Driver struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	Name             string      `json:"name" db:"name"`
	Phone            string      `json:"phone" db:"phone"`
	VehicleType      VehicleType `json:"vehicle_type" db:"vehicle_type"`
	Rating           float64     `json:"rating" db:"rating"`
	IsAvailable      bool        `json:"is_available" db:"is_available"`
	ActiveDeliveries int         `json:"active_deliveries" db:"active_deliveries"`
	CurrentLat       *float64    `json:"current_lat,omitempty" db:"current_lat"`
	CurrentLng       *float64    `json:"current_lng,omitempty" db:"current_lng"`
	LastSeenAt       *time.Time  `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

// DriverCandidate представляет водителя-кандидата из гео-индекса,
// аннотированного расстоянием до точки поиска
type DriverCandidate struct {
	DriverID    uuid.UUID   `json:"driver_id"`
	Location    Location    `json:"location"`
	DistanceKm  float64     `json:"distance_km"`
	Rating      float64     `json:"rating"`
	VehicleType VehicleType `json:"vehicle_type"`
	IsAvailable bool        `json:"is_available"`
}

// DriverIndexEntry представляет запись водителя в гео-индексе;
// хранится рядом с гео-множеством и задает окно свежести записи
type DriverIndexEntry struct {
	DriverID    uuid.UUID   `json:"driver_id"`
	Rating      float64     `json:"rating"`
	VehicleType VehicleType `json:"vehicle_type"`
	IsAvailable bool        `json:"is_available"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// CreateDriverRequest представляет запрос на регистрацию водителя
type CreateDriverRequest struct {
	Name        string      `json:"name"`
	Phone       string      `json:"phone"`
	VehicleType VehicleType `json:"vehicle_type"`
}

// UpdateDriverAvailabilityRequest представляет запрос на смену доступности водителя
type UpdateDriverAvailabilityRequest struct {
	IsAvailable bool      `json:"is_available"`
	Location    *Location `json:"location,omitempty"`
}

// DriverLocationRequest представляет входящее обновление локации водителя
type DriverLocationRequest struct {
	Location Location `json:"location"`
	Heading  *float64 `json:"heading,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
}
