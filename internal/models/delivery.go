package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus представляет статус доставки
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusAssigned  DeliveryStatus = "ASSIGNED"
	DeliveryStatusPickedUp  DeliveryStatus = "PICKED_UP"
	DeliveryStatusInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusCancelled DeliveryStatus = "CANCELLED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// Valid проверяет, что статус доставки известен системе
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusAssigned, DeliveryStatusPickedUp,
		DeliveryStatusInTransit, DeliveryStatusDelivered, DeliveryStatusCancelled,
		DeliveryStatusFailed:
		return true
	}
	return false
}

// DeliveryPriority представляет приоритет доставки
type DeliveryPriority string

const (
	PriorityLow    DeliveryPriority = "LOW"
	PriorityNormal DeliveryPriority = "NORMAL"
	PriorityHigh   DeliveryPriority = "HIGH"
	PriorityUrgent DeliveryPriority = "URGENT"
)

// Valid проверяет, что приоритет известен системе
func (p DeliveryPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// PreferredVehicles возвращает набор предпочтительных типов транспорта для приоритета.
// Для LOW и NORMAL допускается велосипед в дополнение к машине и мотоциклу.
func (p DeliveryPriority) PreferredVehicles() []VehicleType {
	preferred := []VehicleType{VehicleTypeCar, VehicleTypeMotorcycle}
	if p == PriorityLow || p == PriorityNormal {
		preferred = append(preferred, VehicleTypeBicycle)
	}
	return preferred
}

// VehicleType представляет тип транспорта водителя
type VehicleType string

const (
	VehicleTypeBicycle    VehicleType = "BICYCLE"
	VehicleTypeMotorcycle VehicleType = "MOTORCYCLE"
	VehicleTypeCar        VehicleType = "CAR"
	VehicleTypeVan        VehicleType = "VAN"
)

// Valid проверяет, что тип транспорта известен системе
func (v VehicleType) Valid() bool {
	switch v {
	case VehicleTypeBicycle, VehicleTypeMotorcycle, VehicleTypeCar, VehicleTypeVan:
		return true
	}
	return false
}

// Location представляет географическую координату
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid проверяет, что координата лежит в допустимых пределах
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Delivery представляет доставку в системе
type Delivery struct {
	ID                  uuid.UUID        `json:"id" db:"id"`
	Status              DeliveryStatus   `json:"status" db:"status"`
	Priority            DeliveryPriority `json:"priority" db:"priority"`
	DriverID            *uuid.UUID       `json:"driver_id,omitempty" db:"driver_id"`
	CustomerName        string           `json:"customer_name" db:"customer_name"`
	CustomerPhone       string           `json:"customer_phone" db:"customer_phone"`
	PickupAddress       string           `json:"pickup_address" db:"pickup_address"`
	DropoffAddress      string           `json:"dropoff_address" db:"dropoff_address"`
	Pickup              Location         `json:"pickup"`
	Dropoff             Location         `json:"dropoff"`
	VehicleType         *VehicleType     `json:"vehicle_type,omitempty" db:"vehicle_type"`
	Fee                 float64          `json:"fee" db:"fee"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`
	EstimatedPickupAt   *time.Time       `json:"estimated_pickup_at,omitempty" db:"estimated_pickup_at"`
	EstimatedDeliveryAt *time.Time       `json:"estimated_delivery_at,omitempty" db:"estimated_delivery_at"`
	PickedUpAt          *time.Time       `json:"picked_up_at,omitempty" db:"picked_up_at"`
	DeliveredAt         *time.Time       `json:"delivered_at,omitempty" db:"delivered_at"`
	FailureReason       *string          `json:"failure_reason,omitempty" db:"failure_reason"`
	CancelReason        *string          `json:"cancel_reason,omitempty" db:"cancel_reason"`
}

// CreateDeliveryRequest представляет запрос на создание доставки
type CreateDeliveryRequest struct {
	CustomerName   string           `json:"customer_name"`
	CustomerPhone  string           `json:"customer_phone"`
	PickupAddress  string           `json:"pickup_address"`
	DropoffAddress string           `json:"dropoff_address"`
	Pickup         Location         `json:"pickup"`
	Dropoff        Location         `json:"dropoff"`
	Priority       DeliveryPriority `json:"priority"`
	VehicleType    *VehicleType     `json:"vehicle_type,omitempty"`
}

// UpdateDeliveryStatusRequest представляет запрос на смену статуса доставки
type UpdateDeliveryStatusRequest struct {
	Status   DeliveryStatus `json:"status"`
	DriverID *uuid.UUID     `json:"driver_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// CancelDeliveryRequest представляет запрос на отмену доставки
type CancelDeliveryRequest struct {
	Reason string `json:"reason"`
}
