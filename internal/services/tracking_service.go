package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/metrics"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/redis"

	"github.com/google/uuid"
)

const (
	actorDriver  = "driver"
	actorTracker = "tracker"

	geofenceZonePickup  = "pickup"
	geofenceZoneDropoff = "dropoff"
)

// TrackingService - монитор трекинга и геозон: принимает замеры локации,
// ведет историю, определяет пересечение геозон и считает ETA.
// Запись "текущая локация" - last-write-wins по ключу доставки; история
// и таймлайн пополняются независимо от порядка прихода сообщений
type TrackingService struct {
	deliveries DeliveryStore
	drivers    DriverStore
	geo        GeoIndex
	cache      *redis.Client
	notifier   NotificationSink
	throttle   *LocationThrottleService
	cfg        *config.TrackingConfig
	metrics    *metrics.Metrics
	log        *logger.Logger

	now func() time.Time
}

// NewTrackingService создает монитор трекинга
func NewTrackingService(
	deliveries DeliveryStore,
	drivers DriverStore,
	geo GeoIndex,
	cache *redis.Client,
	notifier NotificationSink,
	throttle *LocationThrottleService,
	cfg *config.TrackingConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *TrackingService {
	return &TrackingService{
		deliveries: deliveries,
		drivers:    drivers,
		geo:        geo,
		cache:      cache,
		notifier:   notifier,
		throttle:   throttle,
		cfg:        cfg,
		metrics:    m,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleDriverLocation обрабатывает обновление локации водителя из очереди:
// зеркалирует локацию в записи водителя и гео-индексе и прогоняет замер
// по всем активным доставкам водителя
func (s *TrackingService) HandleDriverLocation(ctx context.Context, event *models.Event) error {
	var update models.LocationUpdateEvent
	if err := json.Unmarshal(event.Data, &update); err != nil {
		return fmt.Errorf("failed to decode location update: %w", err)
	}

	if !update.Location.Valid() {
		return apperr.NewValidation("invalid location coordinates: %.6f, %.6f",
			update.Location.Lat, update.Location.Lng)
	}

	if s.throttle != nil {
		allowed, err := s.throttle.Allow(ctx, update.DriverID)
		if err != nil {
			s.log.WithError(err).Warn("Location throttle check failed, allowing update")
		} else if !allowed {
			s.log.WithField("driver_id", update.DriverID).Debug("Location update throttled")
			return nil
		}
	}

	driver, err := s.drivers.GetDriver(ctx, update.DriverID)
	if err != nil {
		return err
	}

	recordedAt := update.Timestamp
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	if err := s.drivers.RecordLocation(ctx, driver.ID, update.Location, recordedAt); err != nil {
		return err
	}
	if err := s.geo.Upsert(ctx, driver, update.Location); err != nil {
		return err
	}

	deliveries, err := s.deliveries.ListActiveByDriver(ctx, driver.ID)
	if err != nil {
		return err
	}

	for _, delivery := range deliveries {
		err := s.UpdateLocation(ctx, delivery.ID, driver.ID, update.Location,
			update.Heading, update.Speed, update.Accuracy, recordedAt)
		if err != nil {
			// Осиротевшее обновление одной доставки не блокирует остальные
			var validationErr *apperr.ValidationError
			if errors.As(err, &validationErr) {
				s.log.WithError(err).WithField("delivery_id", delivery.ID).
					Warn("Dropping orphaned location update")
				continue
			}
			return err
		}
	}

	return nil
}

// UpdateLocation обрабатывает один замер локации по конкретной доставке:
// долговременное хранение, кольцевой буфер истории, кеш текущей локации
// с ETA, событие таймлайна и проверка геозон
func (s *TrackingService) UpdateLocation(ctx context.Context, deliveryID, driverID uuid.UUID, location models.Location, heading, speed, accuracy *float64, recordedAt time.Time) error {
	delivery, err := s.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}

	// Повторная проверка привязки на каждом обновлении: после переназначения
	// или отмены обновления старого водителя отбрасываются
	if delivery.DriverID == nil || *delivery.DriverID != driverID {
		return apperr.NewValidation("delivery %s is not assigned to driver %s", deliveryID, driverID)
	}

	sample := &models.LocationSample{
		DeliveryID: deliveryID,
		DriverID:   driverID,
		Location:   location,
		Heading:    heading,
		Speed:      speed,
		Accuracy:   accuracy,
		RecordedAt: recordedAt,
	}
	if err := s.deliveries.InsertLocationSample(ctx, sample); err != nil {
		return err
	}

	historyKey := redis.GenerateKey(redis.KeyPrefixLocationHistory, deliveryID.String())
	historyTTL := time.Duration(s.cfg.HistoryTTL) * time.Second
	if err := s.cache.PushBounded(ctx, historyKey, sample, s.cfg.HistoryLimit, historyTTL); err != nil {
		s.log.WithError(err).Warn("Failed to push location history")
	}

	current := models.CurrentLocation{
		DeliveryID: deliveryID,
		DriverID:   driverID,
		Location:   location,
		Heading:    heading,
		Speed:      speed,
		RecordedAt: recordedAt,
	}
	if delivery.Status == models.DeliveryStatusInTransit {
		eta := s.estimateArrival(location, delivery.Dropoff)
		current.ETA = &eta
	}

	locationKey := redis.GenerateKey(redis.KeyPrefixLocation, deliveryID.String())
	locationTTL := time.Duration(s.cfg.LocationTTL) * time.Second
	if err := s.cache.Set(ctx, locationKey, current, locationTTL); err != nil {
		s.log.WithError(err).Warn("Failed to cache current location")
	}

	trackingEvent := &models.TrackingEvent{
		ID:         uuid.New(),
		DeliveryID: deliveryID,
		Type:       models.TrackingEventLocationUpdate,
		Status:     delivery.Status,
		Location:   &location,
		Actor:      actorDriver,
		CreatedAt:  s.now(),
	}
	if err := s.deliveries.AppendTrackingEvent(ctx, trackingEvent); err != nil {
		return err
	}

	s.checkGeofences(ctx, delivery, location)
	s.metrics.LocationUpdates.Inc()

	return nil
}

// estimateArrival считает ETA по расстоянию по прямой и условной скорости
func (s *TrackingService) estimateArrival(from, to models.Location) time.Time {
	distanceKm := Haversine(from, to)
	minutes := distanceKm / s.cfg.AssumedSpeedKmh * 60
	return s.now().Add(time.Duration(minutes * float64(time.Minute)))
}

// checkGeofences проверяет пересечение геозон забора и выдачи.
// Каждая геозона срабатывает не более одного раза на доставку:
// флаг ставится атомарным SETNX, поэтому конкурентные воркеры
// не продублируют событие
func (s *TrackingService) checkGeofences(ctx context.Context, delivery *models.Delivery, location models.Location) {
	radiusKm := s.cfg.GeofenceRadiusM / 1000

	if delivery.Status == models.DeliveryStatusAssigned &&
		Haversine(location, delivery.Pickup) <= radiusKm {
		s.fireGeofence(ctx, delivery, location, geofenceZonePickup)
	}

	if delivery.Status == models.DeliveryStatusInTransit &&
		Haversine(location, delivery.Dropoff) <= radiusKm {
		s.fireGeofence(ctx, delivery, location, geofenceZoneDropoff)
	}
}

func (s *TrackingService) fireGeofence(ctx context.Context, delivery *models.Delivery, location models.Location, zone string) {
	flagKey := fmt.Sprintf("%s:%s:%s", redis.KeyPrefixGeofence, delivery.ID, zone)
	flagTTL := time.Duration(s.cfg.GeofenceFlagTTL) * time.Second

	fired, err := s.cache.SetNX(ctx, flagKey, s.now(), flagTTL)
	if err != nil {
		s.log.WithError(err).WithField("delivery_id", delivery.ID).
			Error("Failed to check geofence flag")
		return
	}
	if !fired {
		// Геозона уже срабатывала для этой доставки
		return
	}

	eventType := models.TrackingEventPickupStarted
	if zone == geofenceZoneDropoff {
		eventType = models.TrackingEventDeliveryStarted
	}

	trackingEvent := &models.TrackingEvent{
		ID:         uuid.New(),
		DeliveryID: delivery.ID,
		Type:       eventType,
		Status:     delivery.Status,
		Location:   &location,
		Actor:      actorTracker,
		CreatedAt:  s.now(),
	}
	if err := s.deliveries.AppendTrackingEvent(ctx, trackingEvent); err != nil {
		s.log.WithError(err).WithField("delivery_id", delivery.ID).
			Error("Failed to append geofence event")
	}

	if zone == geofenceZoneDropoff {
		s.notify(ctx, "driver_nearby", delivery.ID, map[string]interface{}{
			"message": "driver nearby",
		})
	}

	s.metrics.GeofenceEvents.WithLabelValues(zone).Inc()
	s.log.WithFields(map[string]interface{}{
		"delivery_id": delivery.ID,
		"zone":        zone,
	}).Info("Geofence crossed")
}

// HandleStatusUpdate обрабатывает внешнее подтверждение смены статуса:
// забор, начало движения, вручение. Переход проходит через таблицу статусов
func (s *TrackingService) HandleStatusUpdate(ctx context.Context, event *models.Event) error {
	var update models.StatusUpdateEvent
	if err := json.Unmarshal(event.Data, &update); err != nil {
		return fmt.Errorf("failed to decode status update: %w", err)
	}

	if !update.Status.Valid() {
		return apperr.NewValidation("unknown delivery status: %s", update.Status)
	}

	delivery, err := s.deliveries.GetDelivery(ctx, update.DeliveryID)
	if err != nil {
		return err
	}

	// Подтверждение должно приходить от назначенного водителя
	if update.DriverID != nil &&
		(delivery.DriverID == nil || *delivery.DriverID != *update.DriverID) {
		return apperr.NewValidation("delivery %s is not assigned to driver %s",
			update.DeliveryID, *update.DriverID)
	}

	updated, err := s.deliveries.ChangeStatus(ctx, update.DeliveryID, StatusChange{
		To:     update.Status,
		Actor:  actorDriver,
		Reason: update.Reason,
	})
	if err != nil {
		return err
	}

	if updated.Status == models.DeliveryStatusDelivered {
		s.notify(ctx, "delivery_completed", updated.ID, map[string]interface{}{
			"delivered_at": updated.DeliveredAt,
		})
	}

	return nil
}

// GetTrackingInfo возвращает сводку трекинга: статус, текущую локацию
// (кеш с запасным чтением из долговременного хранилища), ETA и таймлайн
// от старых событий к новым
func (s *TrackingService) GetTrackingInfo(ctx context.Context, deliveryID uuid.UUID) (*models.TrackingInfo, error) {
	delivery, err := s.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	info := &models.TrackingInfo{
		DeliveryID: delivery.ID,
		Status:     delivery.Status,
		DriverID:   delivery.DriverID,
	}

	var current models.CurrentLocation
	locationKey := redis.GenerateKey(redis.KeyPrefixLocation, deliveryID.String())
	if err := s.cache.Get(ctx, locationKey, &current); err == nil {
		info.CurrentLocation = &current
		info.ETA = current.ETA
	} else {
		if err != redis.ErrNotFound {
			s.log.WithError(err).Warn("Failed to read current location cache")
		}
		sample, err := s.deliveries.LatestLocationSample(ctx, deliveryID)
		if err != nil {
			return nil, err
		}
		if sample != nil {
			info.CurrentLocation = &models.CurrentLocation{
				DeliveryID: sample.DeliveryID,
				DriverID:   sample.DriverID,
				Location:   sample.Location,
				Heading:    sample.Heading,
				Speed:      sample.Speed,
				RecordedAt: sample.RecordedAt,
			}
		}
	}

	events, err := s.deliveries.ListTrackingEvents(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	// Храним от новых к старым, наружу отдаем от старых к новым
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	info.Events = events

	return info, nil
}

// GetLocationHistory возвращает кольцевой буфер истории локаций доставки
// от новых замеров к старым
func (s *TrackingService) GetLocationHistory(ctx context.Context, deliveryID uuid.UUID) ([]models.LocationSample, error) {
	historyKey := redis.GenerateKey(redis.KeyPrefixLocationHistory, deliveryID.String())
	raw, err := s.cache.ListRange(ctx, historyKey, 0, int64(s.cfg.HistoryLimit-1))
	if err != nil {
		return nil, err
	}

	samples := make([]models.LocationSample, 0, len(raw))
	for _, item := range raw {
		var sample models.LocationSample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			s.log.WithError(err).Warn("Skipping unreadable history entry")
			continue
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

// notify отправляет best-effort уведомление
func (s *TrackingService) notify(ctx context.Context, notificationType string, deliveryID uuid.UUID, payload interface{}) {
	if err := s.notifier.Publish(ctx, notificationType, deliveryID, payload); err != nil {
		s.metrics.NotificationFailures.Inc()
		s.log.WithError(err).WithFields(map[string]interface{}{
			"delivery_id": deliveryID,
			"type":        notificationType,
		}).Error("Failed to publish notification")
	}
}
