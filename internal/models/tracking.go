package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackingEventType представляет тип события в таймлайне доставки
type TrackingEventType string

const (
	TrackingEventDeliveryCreated   TrackingEventType = "DELIVERY_CREATED"
	TrackingEventDriverAssigned    TrackingEventType = "DRIVER_ASSIGNED"
	TrackingEventStatusChanged     TrackingEventType = "STATUS_CHANGED"
	TrackingEventLocationUpdate    TrackingEventType = "LOCATION_UPDATE"
	TrackingEventPickupStarted     TrackingEventType = "PICKUP_STARTED"
	TrackingEventDeliveryStarted   TrackingEventType = "DELIVERY_STARTED"
	TrackingEventDeliveryCompleted TrackingEventType = "DELIVERY_COMPLETED"
	TrackingEventDeliveryCancelled TrackingEventType = "DELIVERY_CANCELLED"
	TrackingEventDeliveryFailed    TrackingEventType = "DELIVERY_FAILED"
)

// TrackingEvent представляет запись таймлайна доставки.
// Записи только добавляются и никогда не изменяются: таймлайн -
// источник правды об истории доставки
type TrackingEvent struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	DeliveryID uuid.UUID         `json:"delivery_id" db:"delivery_id"`
	Type       TrackingEventType `json:"type" db:"type"`
	Status     DeliveryStatus    `json:"status" db:"status"`
	Location   *Location         `json:"location,omitempty"`
	Actor      string            `json:"actor" db:"actor"`
	Note       string            `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
}

// LocationSample представляет один замер локации водителя по доставке
type LocationSample struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	Location   Location  `json:"location"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// CurrentLocation представляет последнюю известную локацию доставки в кеше
// вместе с оценкой времени прибытия, если она рассчитана
type CurrentLocation struct {
	DeliveryID uuid.UUID  `json:"delivery_id"`
	DriverID   uuid.UUID  `json:"driver_id"`
	Location   Location   `json:"location"`
	Heading    *float64   `json:"heading,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
	ETA        *time.Time `json:"eta,omitempty"`
}

// TrackingInfo представляет сводку трекинга доставки:
// текущий статус, локация, ETA и полный таймлайн (от старых событий к новым)
type TrackingInfo struct {
	DeliveryID      uuid.UUID        `json:"delivery_id"`
	Status          DeliveryStatus   `json:"status"`
	DriverID        *uuid.UUID       `json:"driver_id,omitempty"`
	CurrentLocation *CurrentLocation `json:"current_location,omitempty"`
	ETA             *time.Time       `json:"eta,omitempty"`
	Events          []TrackingEvent  `json:"events"`
}
