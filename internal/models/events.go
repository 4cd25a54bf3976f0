package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType представляет тип события очереди
type EventType string

const (
	EventTypeDeliveryCreated     EventType = "delivery.created"
	EventTypeAssignmentRequested EventType = "delivery.assignment.requested"
	EventTypeStatusUpdate        EventType = "delivery.status.update"
	EventTypeDriverLocation      EventType = "driver.location.update"
	EventTypeNotification        EventType = "delivery.notification"
	EventTypeDeadLetter          EventType = "delivery.dead_letter"
)

// Event представляет базовое событие очереди.
// Data хранится сырым JSON: конкретный тип полезной нагрузки
// восстанавливает подписчик, зарегистрированный на тип события
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent собирает событие очереди с сериализованной полезной нагрузкой
func NewEvent(eventType EventType, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// DeliveryCreatedEvent представляет событие создания доставки
type DeliveryCreatedEvent struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
}

// AssignmentMessage представляет задание на подбор водителя.
// RetryCount монотонно растет и ограничен MaxRetries
type AssignmentMessage struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusUpdateEvent представляет внешнее подтверждение смены статуса доставки
type StatusUpdateEvent struct {
	DeliveryID uuid.UUID      `json:"delivery_id"`
	Status     DeliveryStatus `json:"status"`
	DriverID   *uuid.UUID     `json:"driver_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// LocationUpdateEvent представляет обновление локации водителя
type LocationUpdateEvent struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Location  Location  `json:"location"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationEvent представляет уведомление для слоя realtime-доставки.
// Публикуется по принципу fire-and-forget: сбой публикации логируется
// и не блокирует продвижение доставки
type NotificationEvent struct {
	Type       string          `json:"type"`
	DeliveryID uuid.UUID       `json:"delivery_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// DeadLetterEvent представляет сообщение, которое не удалось обработать
type DeadLetterEvent struct {
	Topic    string          `json:"topic"`
	Reason   string          `json:"reason"`
	Attempts int             `json:"attempts"`
	Payload  json.RawMessage `json:"payload"`
	FailedAt time.Time       `json:"failed_at"`
}
