package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/database"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"

	"github.com/google/uuid"
)

// DriverService представляет сервис для работы с водителями
type DriverService struct {
	db  *database.DB
	cfg *config.DispatchConfig
	log *logger.Logger
}

// NewDriverService создает новый экземпляр сервиса водителей
func NewDriverService(db *database.DB, cfg *config.DispatchConfig, log *logger.Logger) *DriverService {
	return &DriverService{
		db:  db,
		cfg: cfg,
		log: log,
	}
}

const driverColumns = `id, name, phone, vehicle_type, rating, is_available, active_deliveries,
	       current_lat, current_lng, last_seen_at, created_at, updated_at`

// CreateDriver регистрирует нового водителя
func (s *DriverService) CreateDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error) {
	now := time.Now().UTC()
	driver := &models.Driver{
		ID:          uuid.New(),
		Name:        req.Name,
		Phone:       req.Phone,
		VehicleType: req.VehicleType,
		Rating:      5.0,
		IsAvailable: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO drivers (id, name, phone, vehicle_type, rating, is_available, active_deliveries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query, driver.ID, driver.Name, driver.Phone, driver.VehicleType,
		driver.Rating, driver.IsAvailable, driver.ActiveDeliveries, driver.CreatedAt, driver.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	s.log.WithFields(map[string]interface{}{
		"driver_id":    driver.ID,
		"driver_name":  driver.Name,
		"vehicle_type": driver.VehicleType,
	}).Info("Driver created successfully")

	return driver, nil
}

// GetDriver получает водителя по ID
func (s *DriverService) GetDriver(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	query := `SELECT ` + driverColumns + ` FROM drivers WHERE id = $1`

	driver := &models.Driver{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&driver.ID, &driver.Name, &driver.Phone, &driver.VehicleType, &driver.Rating,
		&driver.IsAvailable, &driver.ActiveDeliveries,
		&driver.CurrentLat, &driver.CurrentLng, &driver.LastSeenAt,
		&driver.CreatedAt, &driver.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NewNotFound("driver", id.String())
		}
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}

	return driver, nil
}

// SetAvailability меняет доступность водителя
func (s *DriverService) SetAvailability(ctx context.Context, id uuid.UUID, isAvailable bool) (*models.Driver, error) {
	query := `
		UPDATE drivers
		SET is_available = $1, updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, isAvailable, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update driver availability: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return nil, apperr.NewNotFound("driver", id.String())
	}

	s.log.WithFields(map[string]interface{}{
		"driver_id":    id,
		"is_available": isAvailable,
	}).Info("Driver availability updated")

	return s.GetDriver(ctx, id)
}

// ReserveCapacity пытается занять слот активной доставки водителя.
// Защищенный UPDATE: слот занимается только если водитель доступен
// и не достиг предела активных доставок на момент записи
func (s *DriverService) ReserveCapacity(ctx context.Context, driverID uuid.UUID) (bool, error) {
	query := `
		UPDATE drivers
		SET active_deliveries = active_deliveries + 1, updated_at = $1
		WHERE id = $2 AND is_available = TRUE AND active_deliveries < $3
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), driverID, s.cfg.DriverCapacity)
	if err != nil {
		return false, fmt.Errorf("failed to reserve driver capacity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ReleaseCapacity освобождает слот активной доставки водителя
func (s *DriverService) ReleaseCapacity(ctx context.Context, driverID uuid.UUID) error {
	query := `
		UPDATE drivers
		SET active_deliveries = GREATEST(active_deliveries - 1, 0), updated_at = $1
		WHERE id = $2
	`
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), driverID)
	if err != nil {
		return fmt.Errorf("failed to release driver capacity: %w", err)
	}

	s.log.WithField("driver_id", driverID).Debug("Driver capacity released")
	return nil
}

// RecordLocation зеркалирует последнюю локацию водителя в его записи
func (s *DriverService) RecordLocation(ctx context.Context, driverID uuid.UUID, location models.Location, seenAt time.Time) error {
	query := `
		UPDATE drivers
		SET current_lat = $1, current_lng = $2, last_seen_at = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(ctx, query, location.Lat, location.Lng, seenAt, time.Now().UTC(), driverID)
	if err != nil {
		return fmt.Errorf("failed to record driver location: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return apperr.NewNotFound("driver", driverID.String())
	}

	return nil
}
