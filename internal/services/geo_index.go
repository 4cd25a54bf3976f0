package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/redis"

	"github.com/google/uuid"
)

const earthRadiusKm = 6371

// Haversine возвращает расстояние по дуге большого круга между двумя
// координатами в километрах (радиус Земли 6371 км)
func Haversine(a, b models.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// RoundKm округляет расстояние до двух знаков для отображения.
// Сортировка и фильтрация всегда идут по полной точности
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}

// GeoIndexService представляет гео-индекс доступных водителей поверх Redis:
// гео-множество available_drivers плюс ключ driver:{id} с метаданными,
// задающий окно свежести записи. Запись без живого ключа считается
// устаревшей и не возвращается как доступная
type GeoIndexService struct {
	redis *redis.Client
	cfg   *config.DispatchConfig
	log   *logger.Logger
}

// NewGeoIndexService создает гео-индекс водителей
func NewGeoIndexService(redisClient *redis.Client, cfg *config.DispatchConfig, log *logger.Logger) *GeoIndexService {
	return &GeoIndexService{
		redis: redisClient,
		cfg:   cfg,
		log:   log,
	}
}

// Upsert добавляет, перемещает или убирает водителя из индекса
// в зависимости от флага доступности
func (s *GeoIndexService) Upsert(ctx context.Context, driver *models.Driver, location models.Location) error {
	member := driver.ID.String()

	if !driver.IsAvailable {
		return s.Remove(ctx, driver.ID)
	}

	if err := s.redis.GeoAdd(ctx, redis.KeyAvailableDrivers, member, location.Lat, location.Lng); err != nil {
		return fmt.Errorf("failed to index driver %s: %w", member, err)
	}

	entry := models.DriverIndexEntry{
		DriverID:    driver.ID,
		Rating:      driver.Rating,
		VehicleType: driver.VehicleType,
		IsAvailable: driver.IsAvailable,
		UpdatedAt:   time.Now().UTC(),
	}
	metaKey := redis.GenerateKey(redis.KeyPrefixDriver, member)
	ttl := time.Duration(s.cfg.DriverTTL) * time.Second
	if err := s.redis.Set(ctx, metaKey, entry, ttl); err != nil {
		return fmt.Errorf("failed to store driver meta %s: %w", member, err)
	}

	s.log.WithField("driver_id", member).Debug("Driver indexed")
	return nil
}

// Remove убирает водителя из индекса
func (s *GeoIndexService) Remove(ctx context.Context, driverID uuid.UUID) error {
	member := driverID.String()

	if err := s.redis.GeoRemove(ctx, redis.KeyAvailableDrivers, member); err != nil {
		return err
	}
	if err := s.redis.Delete(ctx, redis.GenerateKey(redis.KeyPrefixDriver, member)); err != nil {
		return err
	}

	s.log.WithField("driver_id", member).Debug("Driver removed from index")
	return nil
}

// Query возвращает доступных водителей в радиусе radiusKm от точки,
// отсортированных по возрастанию расстояния, с опциональным фильтром по типу
// транспорта и ограничением числа кандидатов. Записи без живого ключа
// driver:{id} устарели: они лениво вычищаются из гео-множества и в выдачу
// не попадают
func (s *GeoIndexService) Query(ctx context.Context, center models.Location, radiusKm float64, vehicleType *models.VehicleType, limit int) ([]models.DriverCandidate, error) {
	locations, err := s.redis.GeoRadius(ctx, redis.KeyAvailableDrivers, center.Lat, center.Lng, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("failed to query geo index: %w", err)
	}

	candidates := make([]models.DriverCandidate, 0, len(locations))
	for _, loc := range locations {
		if limit > 0 && len(candidates) >= limit {
			break
		}

		driverID, err := uuid.Parse(loc.Name)
		if err != nil {
			s.log.WithField("member", loc.Name).Warn("Unparseable member in geo index, removing")
			_ = s.redis.GeoRemove(ctx, redis.KeyAvailableDrivers, loc.Name)
			continue
		}

		var entry models.DriverIndexEntry
		metaKey := redis.GenerateKey(redis.KeyPrefixDriver, loc.Name)
		if err := s.redis.Get(ctx, metaKey, &entry); err != nil {
			if err == redis.ErrNotFound {
				// Запись пережила окно свежести
				_ = s.redis.GeoRemove(ctx, redis.KeyAvailableDrivers, loc.Name)
				continue
			}
			return nil, fmt.Errorf("failed to load driver meta %s: %w", loc.Name, err)
		}

		if !entry.IsAvailable {
			continue
		}
		if vehicleType != nil && entry.VehicleType != *vehicleType {
			continue
		}

		candidates = append(candidates, models.DriverCandidate{
			DriverID:    driverID,
			Location:    models.Location{Lat: loc.Latitude, Lng: loc.Longitude},
			DistanceKm:  loc.Dist,
			Rating:      entry.Rating,
			VehicleType: entry.VehicleType,
			IsAvailable: entry.IsAvailable,
		})
	}

	return candidates, nil
}
