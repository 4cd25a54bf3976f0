package services

import (
	"context"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/google/uuid"
)

// StatusChange описывает запрос на смену статуса доставки
type StatusChange struct {
	To     models.DeliveryStatus
	Actor  string
	Reason string
}

// DeliveryStore - контракт хранилища доставок, который потребляют
// планировщик назначений и монитор трекинга
type DeliveryStore interface {
	GetDelivery(ctx context.Context, id uuid.UUID) (*models.Delivery, error)

	// CommitAssignment атомарно переводит доставку PENDING -> ASSIGNED
	// и устанавливает водителя. Возвращает false, если доставка уже
	// не в PENDING - гонку выиграл другой путь
	CommitAssignment(ctx context.Context, deliveryID, driverID uuid.UUID) (bool, error)

	// ChangeStatus проводит переход через таблицу статусов с проверкой
	// "текущий статус не изменился" на момент записи
	ChangeStatus(ctx context.Context, id uuid.UUID, change StatusChange) (*models.Delivery, error)

	// ListStalePending возвращает доставки, зависшие в PENDING дольше порога
	ListStalePending(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error)

	// ListActiveByDriver возвращает активные доставки водителя
	ListActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Delivery, error)

	AppendTrackingEvent(ctx context.Context, event *models.TrackingEvent) error
	ListTrackingEvents(ctx context.Context, deliveryID uuid.UUID) ([]models.TrackingEvent, error)

	InsertLocationSample(ctx context.Context, sample *models.LocationSample) error
	LatestLocationSample(ctx context.Context, deliveryID uuid.UUID) (*models.LocationSample, error)
}

// DriverStore - контракт хранилища водителей
type DriverStore interface {
	GetDriver(ctx context.Context, id uuid.UUID) (*models.Driver, error)

	// ReserveCapacity пытается занять слот активной доставки водителя.
	// Возвращает false, если водитель занят до предела или недоступен;
	// проверка происходит на момент записи, а не на момент отбора кандидата
	ReserveCapacity(ctx context.Context, driverID uuid.UUID) (bool, error)

	// ReleaseCapacity освобождает слот активной доставки
	ReleaseCapacity(ctx context.Context, driverID uuid.UUID) error

	// RecordLocation зеркалирует последнюю локацию водителя в его записи
	RecordLocation(ctx context.Context, driverID uuid.UUID, location models.Location, seenAt time.Time) error
}

// GeoIndex - контракт гео-индекса доступных водителей
type GeoIndex interface {
	Upsert(ctx context.Context, driver *models.Driver, location models.Location) error
	Remove(ctx context.Context, driverID uuid.UUID) error
	Query(ctx context.Context, center models.Location, radiusKm float64, vehicleType *models.VehicleType, limit int) ([]models.DriverCandidate, error)
}

// AssignmentPublisher публикует задания на подбор водителя
type AssignmentPublisher interface {
	PublishAssignment(msg models.AssignmentMessage) error
}

// NotificationSink отправляет уведомления realtime-слою.
// Best-effort: вызывающий логирует сбой и продолжает работу
type NotificationSink interface {
	Publish(ctx context.Context, notificationType string, deliveryID uuid.UUID, payload interface{}) error
}

// RouteProvider - контракт внешнего провайдера маршрутов
type RouteProvider interface {
	Route(ctx context.Context, req *RouteProviderRequest) (*RouteProviderResponse, error)
}

// RouteProviderRequest представляет запрос к провайдеру маршрутов.
// Координаты идут в порядке обхода: начало, промежуточные точки, конец
type RouteProviderRequest struct {
	Points   []models.Location `json:"points"`
	Optimize bool              `json:"optimize"`
	Profile  string            `json:"profile"`
}

// RouteProviderResponse представляет ответ провайдера маршрутов.
// WaypointOrder заполнен только при запрошенной оптимизации и содержит
// выбранный провайдером порядок промежуточных точек
type RouteProviderResponse struct {
	DistanceKm    float64            `json:"distance_km"`
	DurationMin   float64            `json:"duration_min"`
	Polyline      string             `json:"polyline"`
	Steps         []models.RouteStep `json:"steps"`
	WaypointOrder []int              `json:"waypoint_order,omitempty"`
}
