package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"

	"github.com/go-redis/redis/v8"
)

// ErrNotFound возвращается, когда ключ отсутствует в Redis
var ErrNotFound = redis.Nil

// Client представляет клиент Redis
type Client struct {
	client *redis.Client
	log    *logger.Logger
}

// Connect создает подключение к Redis
func Connect(cfg *config.RedisConfig, log *logger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Проверка подключения
	ctx := context.Background()
	_, err := rdb.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Successfully connected to Redis")

	return &Client{
		client: rdb,
		log:    log,
	}, nil
}

// NewFromRedis оборачивает готовый клиент go-redis; используется в тестах с miniredis
func NewFromRedis(rdb *redis.Client, log *logger.Logger) *Client {
	return &Client{client: rdb, log: log}
}

// Close закрывает подключение к Redis
func (c *Client) Close() error {
	return c.client.Close()
}

// Set устанавливает значение с TTL
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	err = c.client.Set(ctx, key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	c.log.WithField("key", key).Debug("Value set in Redis")
	return nil
}

// Get получает значение по ключу; при отсутствии ключа возвращает ErrNotFound
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get key %s: %w", key, err)
	}

	err = json.Unmarshal([]byte(val), dest)
	if err != nil {
		return fmt.Errorf("failed to unmarshal value for key %s: %w", key, err)
	}

	c.log.WithField("key", key).Debug("Value retrieved from Redis")
	return nil
}

// Delete удаляет значение по ключу
func (c *Client) Delete(ctx context.Context, key string) error {
	err := c.client.Del(ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}

	c.log.WithField("key", key).Debug("Key deleted from Redis")
	return nil
}

// Exists проверяет существование ключа
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if key %s exists: %w", key, err)
	}

	return exists > 0, nil
}

// SetNX устанавливает значение только если ключ отсутствует.
// Возвращает true, если ключ был установлен этим вызовом;
// используется как атомарный флаг "уже сработало" для геозон
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}

	set, err := c.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}

	return set, nil
}

// GeoAdd добавляет или перемещает участника гео-множества
func (c *Client) GeoAdd(ctx context.Context, key, member string, lat, lng float64) error {
	err := c.client.GeoAdd(ctx, key, &redis.GeoLocation{
		Name:      member,
		Latitude:  lat,
		Longitude: lng,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to geoadd to %s: %w", key, err)
	}

	return nil
}

// GeoRadius возвращает участников гео-множества в радиусе radiusKm от точки,
// отсортированных по возрастанию расстояния, с координатами и дистанцией
func (c *Client) GeoRadius(ctx context.Context, key string, lat, lng, radiusKm float64) ([]redis.GeoLocation, error) {
	locations, err := c.client.GeoRadius(ctx, key, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to georadius on %s: %w", key, err)
	}

	return locations, nil
}

// GeoRemove удаляет участника из гео-множества
func (c *Client) GeoRemove(ctx context.Context, key, member string) error {
	err := c.client.ZRem(ctx, key, member).Err()
	if err != nil {
		return fmt.Errorf("failed to remove %s from %s: %w", member, key, err)
	}

	return nil
}

// PushBounded добавляет значение в начало ограниченного списка:
// LPUSH + LTRIM до limit элементов + EXPIRE одним конвейером.
// Так хранится кольцевой буфер истории локаций
func (c *Client) PushBounded(ctx context.Context, key string, value interface{}, limit int, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(limit-1))
	pipe.Expire(ctx, key, ttl)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to push to bounded list %s: %w", key, err)
	}

	return nil
}

// ListRange возвращает сырые элементы списка от новых к старым
func (c *Client) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read list %s: %w", key, err)
	}

	return values, nil
}

// Eval выполняет Lua скрипт
func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return c.client.Eval(ctx, script, keys, args...).Result()
}

// Health проверяет состояние Redis
func (c *Client) Health(ctx context.Context) error {
	_, err := c.client.Ping(ctx).Result()
	return err
}

// GenerateKey генерирует ключ для кеша
func GenerateKey(prefix, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}

// Константы для префиксов ключей
const (
	KeyPrefixDriver          = "driver"
	KeyPrefixLocation        = "location"
	KeyPrefixLocationHistory = "location_history"
	KeyPrefixRoute           = "route"
	KeyPrefixGeofence        = "geofence"
	KeyAvailableDrivers      = "available_drivers"
)
