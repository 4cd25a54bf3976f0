package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/metrics"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/google/uuid"
)

// FailureReasonNoDrivers - причина отказа доставки после исчерпания попыток
const FailureReasonNoDrivers = "no available drivers found after maximum retries"

const actorScheduler = "scheduler"

// AssignmentService - планировщик назначений: превращает ожидающую доставку
// в назначенную или безопасно завершает ее как неуспешную.
// Повторы откладываются через отложенную повторную публикацию задания,
// а не блокировкой воркера
type AssignmentService struct {
	deliveries DeliveryStore
	drivers    DriverStore
	geo        GeoIndex
	publisher  AssignmentPublisher
	notifier   NotificationSink
	cfg        *config.DispatchConfig
	metrics    *metrics.Metrics
	log        *logger.Logger

	// defer и now подменяются в тестах
	deferFn func(delay time.Duration, fn func())
	now     func() time.Time
}

// NewAssignmentService создает планировщик назначений
func NewAssignmentService(
	deliveries DeliveryStore,
	drivers DriverStore,
	geo GeoIndex,
	publisher AssignmentPublisher,
	notifier NotificationSink,
	cfg *config.DispatchConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *AssignmentService {
	return &AssignmentService{
		deliveries: deliveries,
		drivers:    drivers,
		geo:        geo,
		publisher:  publisher,
		notifier:   notifier,
		cfg:        cfg,
		metrics:    m,
		log:        log,
		deferFn: func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// HandleDeliveryCreated обрабатывает событие создания доставки:
// фиксирует DELIVERY_CREATED в таймлайне и ставит задание на подбор водителя
func (s *AssignmentService) HandleDeliveryCreated(ctx context.Context, event *models.Event) error {
	var payload models.DeliveryCreatedEvent
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return fmt.Errorf("failed to decode delivery created event: %w", err)
	}

	delivery, err := s.deliveries.GetDelivery(ctx, payload.DeliveryID)
	if err != nil {
		return err
	}

	trackingEvent := &models.TrackingEvent{
		ID:         uuid.New(),
		DeliveryID: delivery.ID,
		Type:       models.TrackingEventDeliveryCreated,
		Status:     delivery.Status,
		Actor:      actorScheduler,
		CreatedAt:  s.now(),
	}
	if err := s.deliveries.AppendTrackingEvent(ctx, trackingEvent); err != nil {
		return err
	}

	msg := models.AssignmentMessage{
		DeliveryID: delivery.ID,
		RetryCount: 0,
		MaxRetries: s.cfg.MaxRetries,
		CreatedAt:  s.now(),
	}
	if err := s.publisher.PublishAssignment(msg); err != nil {
		return fmt.Errorf("failed to enqueue assignment: %w", err)
	}

	s.log.WithField("delivery_id", delivery.ID).Info("Delivery queued for assignment")
	return nil
}

// HandleAssignmentMessage обрабатывает задание на подбор водителя
func (s *AssignmentService) HandleAssignmentMessage(ctx context.Context, event *models.Event) error {
	var msg models.AssignmentMessage
	if err := json.Unmarshal(event.Data, &msg); err != nil {
		return fmt.Errorf("failed to decode assignment message: %w", err)
	}

	delivery, err := s.deliveries.GetDelivery(ctx, msg.DeliveryID)
	if err != nil {
		return err
	}

	// Повторная доставка сообщения или параллельное разрешение:
	// доставка уже не ждет назначения, задание отбрасывается
	if delivery.Status != models.DeliveryStatusPending {
		s.log.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID,
			"status":      delivery.Status,
		}).Debug("Delivery no longer pending, dropping assignment message")
		s.metrics.AssignmentsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	candidates, err := s.geo.Query(ctx, delivery.Pickup, s.cfg.SearchRadiusKm, delivery.VehicleType, s.cfg.CandidateLimit)
	if err != nil {
		return err
	}

	if len(candidates) == 0 {
		return s.scheduleRetry(ctx, delivery, msg)
	}

	s.rankCandidates(delivery, candidates)

	for _, candidate := range candidates {
		reserved, err := s.drivers.ReserveCapacity(ctx, candidate.DriverID)
		if err != nil {
			return err
		}
		if !reserved {
			// Кандидат выбыл по емкости или доступности на момент записи,
			// пробуем следующего по очкам
			continue
		}

		committed, err := s.deliveries.CommitAssignment(ctx, delivery.ID, candidate.DriverID)
		if err != nil {
			if relErr := s.drivers.ReleaseCapacity(ctx, candidate.DriverID); relErr != nil {
				s.log.WithError(relErr).WithField("driver_id", candidate.DriverID).
					Error("Failed to release driver capacity after commit error")
			}
			return err
		}
		if !committed {
			// Доставку успели отменить или назначить параллельно
			if relErr := s.drivers.ReleaseCapacity(ctx, candidate.DriverID); relErr != nil {
				s.log.WithError(relErr).WithField("driver_id", candidate.DriverID).
					Error("Failed to release driver capacity after lost commit race")
			}
			s.metrics.AssignmentsTotal.WithLabelValues("noop").Inc()
			return nil
		}

		return s.finishAssignment(ctx, delivery, candidate)
	}

	// Все кандидаты выбыли на проверке емкости
	return s.scheduleRetry(ctx, delivery, msg)
}

// finishAssignment фиксирует успешное назначение в таймлайне и уведомляет
func (s *AssignmentService) finishAssignment(ctx context.Context, delivery *models.Delivery, candidate models.DriverCandidate) error {
	trackingEvent := &models.TrackingEvent{
		ID:         uuid.New(),
		DeliveryID: delivery.ID,
		Type:       models.TrackingEventDriverAssigned,
		Status:     models.DeliveryStatusAssigned,
		Location:   &candidate.Location,
		Actor:      actorScheduler,
		Note:       fmt.Sprintf("driver %s at %.2f km", candidate.DriverID, RoundKm(candidate.DistanceKm)),
		CreatedAt:  s.now(),
	}
	if err := s.deliveries.AppendTrackingEvent(ctx, trackingEvent); err != nil {
		return err
	}

	s.notify(ctx, "driver_assigned", delivery.ID, map[string]interface{}{
		"driver_id":   candidate.DriverID,
		"distance_km": RoundKm(candidate.DistanceKm),
	})

	s.metrics.AssignmentsTotal.WithLabelValues("assigned").Inc()
	s.log.WithFields(map[string]interface{}{
		"delivery_id": delivery.ID,
		"driver_id":   candidate.DriverID,
		"distance_km": RoundKm(candidate.DistanceKm),
	}).Info("Driver assigned to delivery")

	return nil
}

// scheduleRetry откладывает повторный подбор с экспоненциальной задержкой
// или завершает доставку как неуспешную после исчерпания попыток
func (s *AssignmentService) scheduleRetry(ctx context.Context, delivery *models.Delivery, msg models.AssignmentMessage) error {
	nextRetry := msg.RetryCount + 1
	if nextRetry > msg.MaxRetries {
		return s.failAssignment(ctx, delivery)
	}

	delay := s.cfg.RetryBackoff(msg.RetryCount)
	retryMsg := models.AssignmentMessage{
		DeliveryID: msg.DeliveryID,
		RetryCount: nextRetry,
		MaxRetries: msg.MaxRetries,
		CreatedAt:  s.now(),
	}

	s.deferFn(delay, func() {
		if err := s.publisher.PublishAssignment(retryMsg); err != nil {
			// Потерянный повтор подберет обход зависших доставок
			s.log.WithError(err).WithField("delivery_id", msg.DeliveryID).
				Error("Failed to re-enqueue assignment")
		}
	})

	s.metrics.AssignmentRetries.Inc()
	s.metrics.AssignmentsTotal.WithLabelValues("retried").Inc()
	s.log.WithFields(map[string]interface{}{
		"delivery_id": msg.DeliveryID,
		"retry_count": nextRetry,
		"delay":       delay.String(),
	}).Info("Assignment retry scheduled")

	return nil
}

// failAssignment завершает доставку как неуспешную после исчерпания попыток
func (s *AssignmentService) failAssignment(ctx context.Context, delivery *models.Delivery) error {
	_, err := s.deliveries.ChangeStatus(ctx, delivery.ID, StatusChange{
		To:     models.DeliveryStatusFailed,
		Actor:  actorScheduler,
		Reason: FailureReasonNoDrivers,
	})
	if err != nil {
		return err
	}

	s.notify(ctx, "delivery_failed", delivery.ID, map[string]interface{}{
		"reason": FailureReasonNoDrivers,
	})

	s.metrics.DeliveriesFailed.Inc()
	s.metrics.AssignmentsTotal.WithLabelValues("failed").Inc()
	s.log.WithField("delivery_id", delivery.ID).Warn("Delivery failed: no available drivers")

	return nil
}

// rankCandidates сортирует кандидатов по убыванию очков;
// при равенстве очков ближе стоящий водитель выше
func (s *AssignmentService) rankCandidates(delivery *models.Delivery, candidates []models.DriverCandidate) {
	type scored struct {
		candidate models.DriverCandidate
		score     float64
	}

	ranked := make([]scored, len(candidates))
	for i, candidate := range candidates {
		ranked[i] = scored{candidate: candidate, score: s.ScoreCandidate(delivery, candidate)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].candidate.DistanceKm < ranked[j].candidate.DistanceKm
	})

	for i := range ranked {
		candidates[i] = ranked[i].candidate
	}
}

// ScoreCandidate возвращает очки кандидата по шкале 0-100: близость до 40,
// рейтинг до 30, предпочтительный тип транспорта 20, доступность 10.
// Функция детерминирована и зависит только от доставки и кандидата
func (s *AssignmentService) ScoreCandidate(delivery *models.Delivery, candidate models.DriverCandidate) float64 {
	radius := s.cfg.SearchRadiusKm

	distanceScore := (radius - candidate.DistanceKm) / radius * 40
	if distanceScore < 0 {
		distanceScore = 0
	}

	ratingScore := candidate.Rating / 5 * 30

	vehicleScore := 0.0
	for _, vt := range delivery.Priority.PreferredVehicles() {
		if candidate.VehicleType == vt {
			vehicleScore = 20
			break
		}
	}

	availabilityScore := 0.0
	if candidate.IsAvailable {
		availabilityScore = 10
	}

	return distanceScore + ratingScore + vehicleScore + availabilityScore
}

// RunStaleSweep периодически возвращает в очередь доставки, зависшие
// в PENDING дольше таймаута назначения. Сетка повторов начинается заново:
// обход существует для восстановления потерянных сообщений очереди,
// а не для ускорения отказа
func (s *AssignmentService) RunStaleSweep(ctx context.Context) {
	interval := time.Duration(s.cfg.SweepInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithField("interval", interval.String()).Info("Stale assignment sweep started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stale assignment sweep stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce выполняет один проход обхода зависших доставок
func (s *AssignmentService) SweepOnce(ctx context.Context) {
	timeout := time.Duration(s.cfg.PendingTimeout) * time.Second
	olderThan := s.now().Add(-timeout)

	ids, err := s.deliveries.ListStalePending(ctx, olderThan)
	if err != nil {
		s.log.WithError(err).Error("Stale sweep failed to list pending deliveries")
		return
	}

	for _, id := range ids {
		msg := models.AssignmentMessage{
			DeliveryID: id,
			RetryCount: 0,
			MaxRetries: s.cfg.MaxRetries,
			CreatedAt:  s.now(),
		}
		if err := s.publisher.PublishAssignment(msg); err != nil {
			s.log.WithError(err).WithField("delivery_id", id).
				Error("Stale sweep failed to re-enqueue delivery")
			continue
		}
		s.metrics.StaleSweepRequeued.Inc()
		s.log.WithField("delivery_id", id).Info("Stale pending delivery re-enqueued")
	}
}

// notify отправляет best-effort уведомление: сбой логируется и не влияет
// на продвижение доставки
func (s *AssignmentService) notify(ctx context.Context, notificationType string, deliveryID uuid.UUID, payload interface{}) {
	if err := s.notifier.Publish(ctx, notificationType, deliveryID, payload); err != nil {
		s.metrics.NotificationFailures.Inc()
		s.log.WithError(err).WithFields(map[string]interface{}{
			"delivery_id": deliveryID,
			"type":        notificationType,
		}).Error("Failed to publish notification")
	}
}
