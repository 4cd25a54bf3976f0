package services

import (
	"context"
	"fmt"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/redis"

	"github.com/google/uuid"
)

// Lua скрипт для атомарной проверки и инкремента счетчика
const throttleLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = redis.call('GET', key)
if not current then
    current = 0
else
    current = tonumber(current)
end

current = current + 1

if current > limit then
    return 0
end

redis.call('SET', key, current, 'EX', ttl)
return 1
`

// LocationThrottleService ограничивает частоту обновлений локации на водителя.
// Телефоны в плохой сети шлют пачки устаревших замеров; лимит в минуту
// защищает хранилище и таймлайн от лавины одинаковых точек
type LocationThrottleService struct {
	redis *redis.Client
	cfg   *config.DispatchConfig
	log   *logger.Logger
}

// NewLocationThrottleService создает ограничитель частоты обновлений локации
func NewLocationThrottleService(redisClient *redis.Client, cfg *config.DispatchConfig, log *logger.Logger) *LocationThrottleService {
	return &LocationThrottleService{
		redis: redisClient,
		cfg:   cfg,
		log:   log,
	}
}

// Allow сообщает, проходит ли обновление локации водителя под лимит.
// При сбое Redis пропускает обновление (fail-open): потеря замера хуже,
// чем лишний
func (s *LocationThrottleService) Allow(ctx context.Context, driverID uuid.UUID) (bool, error) {
	if !s.cfg.ThrottleEnabled {
		return true, nil
	}

	key := fmt.Sprintf("location_throttle:%s", driverID)

	result, err := s.redis.Eval(ctx, throttleLuaScript, []string{key}, s.cfg.ThrottlePerMin, 60)
	if err != nil {
		s.log.WithError(err).WithField("driver_id", driverID).
			Warn("Throttle check failed, allowing update")
		return true, nil
	}

	allowed, ok := result.(int64)
	if !ok {
		return true, nil
	}

	if allowed != 1 {
		s.log.WithFields(map[string]interface{}{
			"driver_id": driverID,
			"limit":     s.cfg.ThrottlePerMin,
		}).Debug("Driver location updates throttled")
		return false, nil
	}

	return true, nil
}
