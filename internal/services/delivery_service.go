package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/database"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/google/uuid"
)

// DeliveryService представляет сервис для работы с доставками.
// Все переходы статуса проходят через таблицу переходов и защищенный
// UPDATE с проверкой текущего статуса на момент записи
type DeliveryService struct {
	db      *database.DB
	pricing *PricingService
	drivers DriverStore
	log     *logger.Logger
}

// NewDeliveryService создает новый экземпляр сервиса доставок
func NewDeliveryService(db *database.DB, pricing *PricingService, drivers DriverStore, log *logger.Logger) *DeliveryService {
	return &DeliveryService{
		db:      db,
		pricing: pricing,
		drivers: drivers,
		log:     log,
	}
}

const deliveryColumns = `id, status, priority, driver_id, customer_name, customer_phone,
	       pickup_address, dropoff_address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	       vehicle_type, fee, created_at, updated_at, estimated_pickup_at, estimated_delivery_at,
	       picked_up_at, delivered_at, failure_reason, cancel_reason`

// CreateDelivery создает новую доставку со статусом PENDING
func (s *DeliveryService) CreateDelivery(ctx context.Context, req *models.CreateDeliveryRequest) (*models.Delivery, error) {
	now := time.Now().UTC()
	delivery := &models.Delivery{
		ID:             uuid.New(),
		Status:         models.DeliveryStatusPending,
		Priority:       req.Priority,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		VehicleType:    req.VehicleType,
		Fee:            s.pricing.CalculateFee(req.Pickup, req.Dropoff),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	query := `
		INSERT INTO deliveries (id, status, priority, customer_name, customer_phone,
			pickup_address, dropoff_address, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			vehicle_type, fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query, delivery.ID, delivery.Status, delivery.Priority,
		delivery.CustomerName, delivery.CustomerPhone, delivery.PickupAddress, delivery.DropoffAddress,
		delivery.Pickup.Lat, delivery.Pickup.Lng, delivery.Dropoff.Lat, delivery.Dropoff.Lng,
		delivery.VehicleType, delivery.Fee, delivery.CreatedAt, delivery.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"delivery_id": delivery.ID,
		"priority":    delivery.Priority,
		"fee":         delivery.Fee,
	}).Info("Delivery created successfully")

	return delivery, nil
}

// GetDelivery получает доставку по ID
func (s *DeliveryService) GetDelivery(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`
	return s.scanDelivery(s.db.QueryRowContext(ctx, query, id), id)
}

func (s *DeliveryService) scanDelivery(row *sql.Row, id uuid.UUID) (*models.Delivery, error) {
	delivery := &models.Delivery{}
	err := row.Scan(
		&delivery.ID, &delivery.Status, &delivery.Priority, &delivery.DriverID,
		&delivery.CustomerName, &delivery.CustomerPhone,
		&delivery.PickupAddress, &delivery.DropoffAddress,
		&delivery.Pickup.Lat, &delivery.Pickup.Lng, &delivery.Dropoff.Lat, &delivery.Dropoff.Lng,
		&delivery.VehicleType, &delivery.Fee, &delivery.CreatedAt, &delivery.UpdatedAt,
		&delivery.EstimatedPickupAt, &delivery.EstimatedDeliveryAt,
		&delivery.PickedUpAt, &delivery.DeliveredAt,
		&delivery.FailureReason, &delivery.CancelReason,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NewNotFound("delivery", id.String())
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return delivery, nil
}

// ListDeliveries получает список доставок с фильтрацией
func (s *DeliveryService) ListDeliveries(ctx context.Context, status *models.DeliveryStatus, driverID *uuid.UUID, limit, offset int) ([]*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, *status)
		argIndex++
	}

	if driverID != nil {
		query += fmt.Sprintf(" AND driver_id = $%d", argIndex)
		args = append(args, *driverID)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
	}

	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.Delivery
	for rows.Next() {
		delivery := &models.Delivery{}
		if err := rows.Scan(
			&delivery.ID, &delivery.Status, &delivery.Priority, &delivery.DriverID,
			&delivery.CustomerName, &delivery.CustomerPhone,
			&delivery.PickupAddress, &delivery.DropoffAddress,
			&delivery.Pickup.Lat, &delivery.Pickup.Lng, &delivery.Dropoff.Lat, &delivery.Dropoff.Lng,
			&delivery.VehicleType, &delivery.Fee, &delivery.CreatedAt, &delivery.UpdatedAt,
			&delivery.EstimatedPickupAt, &delivery.EstimatedDeliveryAt,
			&delivery.PickedUpAt, &delivery.DeliveredAt,
			&delivery.FailureReason, &delivery.CancelReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}

	return deliveries, nil
}

// CommitAssignment атомарно переводит доставку PENDING -> ASSIGNED
// и привязывает водителя. Защищенный UPDATE: если статус на момент записи
// уже не PENDING (отмена или параллельное назначение), возвращается false
func (s *DeliveryService) CommitAssignment(ctx context.Context, deliveryID, driverID uuid.UUID) (bool, error) {
	query := `
		UPDATE deliveries
		SET status = $1, driver_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	result, err := s.db.ExecContext(ctx, query,
		models.DeliveryStatusAssigned, driverID, time.Now().UTC(),
		deliveryID, models.DeliveryStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to commit assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ChangeStatus проводит переход статуса через таблицу переходов.
// Запись защищена проверкой текущего статуса; проигранная гонка возвращает
// StateError с фактическим статусом. При уходе в CANCELLED/FAILED водитель
// отвязывается и его слот освобождается; при DELIVERED слот освобождается,
// но привязка сохраняется
func (s *DeliveryService) ChangeStatus(ctx context.Context, id uuid.UUID, change StatusChange) (*models.Delivery, error) {
	delivery, err := s.GetDelivery(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := ValidateTransition(delivery.Status, change.To); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	query := `UPDATE deliveries SET status = $1, updated_at = $2`
	args := []interface{}{change.To, now}
	argIndex := 3

	switch change.To {
	case models.DeliveryStatusPickedUp:
		query += fmt.Sprintf(", picked_up_at = $%d", argIndex)
		args = append(args, now)
		argIndex++
	case models.DeliveryStatusDelivered:
		query += fmt.Sprintf(", delivered_at = $%d", argIndex)
		args = append(args, now)
		argIndex++
	case models.DeliveryStatusCancelled:
		query += fmt.Sprintf(", cancel_reason = $%d, driver_id = NULL", argIndex)
		args = append(args, change.Reason)
		argIndex++
	case models.DeliveryStatusFailed:
		query += fmt.Sprintf(", failure_reason = $%d, driver_id = NULL", argIndex)
		args = append(args, change.Reason)
		argIndex++
	case models.DeliveryStatusPending:
		// Повторный ввод из FAILED: причина сбоя сбрасывается
		query += ", failure_reason = NULL"
	}

	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", argIndex, argIndex+1)
	args = append(args, id, delivery.Status)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to change delivery status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// Статус успел измениться между чтением и записью
		current, getErr := s.GetDelivery(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.NewState(string(current.Status), string(change.To))
	}

	// Освобождение слота водителя при уходе из активного состояния
	if delivery.DriverID != nil && HoldsDriver(delivery.Status) && !holdsDriverSlot(change.To) {
		if err := s.drivers.ReleaseCapacity(ctx, *delivery.DriverID); err != nil {
			s.log.WithError(err).WithField("driver_id", *delivery.DriverID).
				Error("Failed to release driver capacity")
		}
	}

	event := &models.TrackingEvent{
		ID:         uuid.New(),
		DeliveryID: id,
		Type:       trackingEventForStatus(change.To),
		Status:     change.To,
		Actor:      change.Actor,
		Note:       change.Reason,
		CreatedAt:  now,
	}
	if err := s.AppendTrackingEvent(ctx, event); err != nil {
		s.log.WithError(err).WithField("delivery_id", id).Error("Failed to append tracking event")
	}

	s.log.WithFields(map[string]interface{}{
		"delivery_id": id,
		"old_status":  delivery.Status,
		"new_status":  change.To,
	}).Info("Delivery status changed")

	updated := *delivery
	updated.Status = change.To
	updated.UpdatedAt = now
	switch change.To {
	case models.DeliveryStatusPickedUp:
		updated.PickedUpAt = &now
	case models.DeliveryStatusDelivered:
		updated.DeliveredAt = &now
	case models.DeliveryStatusCancelled:
		reason := change.Reason
		updated.CancelReason = &reason
		updated.DriverID = nil
	case models.DeliveryStatusFailed:
		reason := change.Reason
		updated.FailureReason = &reason
		updated.DriverID = nil
	case models.DeliveryStatusPending:
		updated.FailureReason = nil
	}

	return &updated, nil
}

// holdsDriverSlot сообщает, занимает ли доставка в данном статусе слот
// активной доставки водителя. DELIVERED сохраняет привязку водителя,
// но слот уже не занимает
func holdsDriverSlot(status models.DeliveryStatus) bool {
	switch status {
	case models.DeliveryStatusAssigned, models.DeliveryStatusPickedUp, models.DeliveryStatusInTransit:
		return true
	}
	return false
}

// trackingEventForStatus сопоставляет целевой статус типу события таймлайна
func trackingEventForStatus(status models.DeliveryStatus) models.TrackingEventType {
	switch status {
	case models.DeliveryStatusDelivered:
		return models.TrackingEventDeliveryCompleted
	case models.DeliveryStatusCancelled:
		return models.TrackingEventDeliveryCancelled
	case models.DeliveryStatusFailed:
		return models.TrackingEventDeliveryFailed
	default:
		return models.TrackingEventStatusChanged
	}
}

// ListStalePending возвращает ID доставок, зависших в PENDING дольше порога
func (s *DeliveryService) ListStalePending(ctx context.Context, olderThan time.Time) ([]uuid.UUID, error) {
	query := `SELECT id FROM deliveries WHERE status = $1 AND created_at < $2`

	rows, err := s.db.QueryContext(ctx, query, models.DeliveryStatusPending, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending deliveries: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan delivery id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// ListActiveByDriver возвращает активные доставки водителя
func (s *DeliveryService) ListActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries
		WHERE driver_id = $1 AND status IN ($2, $3, $4)
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, driverID,
		models.DeliveryStatusAssigned, models.DeliveryStatusPickedUp, models.DeliveryStatusInTransit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.Delivery
	for rows.Next() {
		delivery := &models.Delivery{}
		if err := rows.Scan(
			&delivery.ID, &delivery.Status, &delivery.Priority, &delivery.DriverID,
			&delivery.CustomerName, &delivery.CustomerPhone,
			&delivery.PickupAddress, &delivery.DropoffAddress,
			&delivery.Pickup.Lat, &delivery.Pickup.Lng, &delivery.Dropoff.Lat, &delivery.Dropoff.Lng,
			&delivery.VehicleType, &delivery.Fee, &delivery.CreatedAt, &delivery.UpdatedAt,
			&delivery.EstimatedPickupAt, &delivery.EstimatedDeliveryAt,
			&delivery.PickedUpAt, &delivery.DeliveredAt,
			&delivery.FailureReason, &delivery.CancelReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}

	return deliveries, nil
}

// AppendTrackingEvent добавляет запись в таймлайн доставки.
// Таймлайн только пополняется: записи не изменяются и не удаляются
func (s *DeliveryService) AppendTrackingEvent(ctx context.Context, event *models.TrackingEvent) error {
	var lat, lng *float64
	if event.Location != nil {
		lat, lng = &event.Location.Lat, &event.Location.Lng
	}

	query := `
		INSERT INTO tracking_events (id, delivery_id, type, status, lat, lng, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query, event.ID, event.DeliveryID, event.Type, event.Status,
		lat, lng, event.Actor, event.Note, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append tracking event: %w", err)
	}

	return nil
}

// ListTrackingEvents возвращает таймлайн доставки от новых событий к старым
func (s *DeliveryService) ListTrackingEvents(ctx context.Context, deliveryID uuid.UUID) ([]models.TrackingEvent, error) {
	query := `
		SELECT id, delivery_id, type, status, lat, lng, actor, note, created_at
		FROM tracking_events
		WHERE delivery_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking events: %w", err)
	}
	defer rows.Close()

	var events []models.TrackingEvent
	for rows.Next() {
		var event models.TrackingEvent
		var lat, lng *float64
		if err := rows.Scan(&event.ID, &event.DeliveryID, &event.Type, &event.Status,
			&lat, &lng, &event.Actor, &event.Note, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tracking event: %w", err)
		}
		if lat != nil && lng != nil {
			event.Location = &models.Location{Lat: *lat, Lng: *lng}
		}
		events = append(events, event)
	}

	return events, nil
}

// InsertLocationSample сохраняет замер локации в долговременное хранилище
func (s *DeliveryService) InsertLocationSample(ctx context.Context, sample *models.LocationSample) error {
	query := `
		INSERT INTO location_samples (delivery_id, driver_id, lat, lng, heading, speed, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query, sample.DeliveryID, sample.DriverID,
		sample.Location.Lat, sample.Location.Lng,
		sample.Heading, sample.Speed, sample.Accuracy, sample.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert location sample: %w", err)
	}

	return nil
}

// LatestLocationSample возвращает последний замер локации по доставке;
// nil без ошибки, если замеров еще не было
func (s *DeliveryService) LatestLocationSample(ctx context.Context, deliveryID uuid.UUID) (*models.LocationSample, error) {
	query := `
		SELECT delivery_id, driver_id, lat, lng, heading, speed, accuracy, recorded_at
		FROM location_samples
		WHERE delivery_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	sample := &models.LocationSample{}
	err := s.db.QueryRowContext(ctx, query, deliveryID).Scan(
		&sample.DeliveryID, &sample.DriverID, &sample.Location.Lat, &sample.Location.Lng,
		&sample.Heading, &sample.Speed, &sample.Accuracy, &sample.RecordedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest location sample: %w", err)
	}

	return sample, nil
}
