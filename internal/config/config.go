package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Kafka    KafkaConfig    `json:"kafka"`
	Logger   LoggerConfig   `json:"logger"`
	Dispatch DispatchConfig `json:"dispatch"`
	Tracking TrackingConfig `json:"tracking"`
	Routing  RoutingConfig  `json:"routing"`
	Pricing  PricingConfig  `json:"pricing"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
	// MaxAttempts - транспортный бюджет повторной доставки сообщения,
	// после исчерпания сообщение уходит в dead-letter топик
	MaxAttempts int `json:"max_attempts"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	DeliveryCreated string `json:"delivery_created"`
	Assignment      string `json:"assignment"`
	StatusUpdate    string `json:"status_update"`
	LocationUpdate  string `json:"location_update"`
	Notifications   string `json:"notifications"`
	DeadLetter      string `json:"dead_letter"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// DispatchConfig представляет конфигурацию планировщика назначений
type DispatchConfig struct {
	SearchRadiusKm  float64 `json:"search_radius_km"` // радиус поиска водителей вокруг точки забора
	CandidateLimit  int     `json:"candidate_limit"`  // максимум кандидатов из гео-индекса
	MaxRetries      int     `json:"max_retries"`      // число повторных попыток назначения
	RetryBaseDelay  int     `json:"retry_base_delay"` // базовая задержка перед повтором (секунды)
	RetryMaxDelay   int     `json:"retry_max_delay"`  // потолок задержки повтора (секунды)
	SweepInterval   int     `json:"sweep_interval"`   // период обхода зависших доставок (секунды)
	PendingTimeout  int     `json:"pending_timeout"`  // сколько доставка может висеть в PENDING (секунды)
	DriverCapacity  int     `json:"driver_capacity"`  // максимум активных доставок на водителя
	DriverTTL       int     `json:"driver_ttl"`       // окно свежести записи водителя в гео-индексе (секунды)
	ThrottlePerMin  int     `json:"throttle_per_min"` // лимит обновлений локации на водителя в минуту
	ThrottleEnabled bool    `json:"throttle_enabled"`
}

// TrackingConfig представляет конфигурацию трекинга и геозон
type TrackingConfig struct {
	GeofenceRadiusM float64 `json:"geofence_radius_m"` // радиус геозоны вокруг точек забора/доставки (метры)
	LocationTTL     int     `json:"location_ttl"`      // TTL текущей локации в кеше (секунды)
	HistoryLimit    int     `json:"history_limit"`     // емкость кольцевого буфера истории
	HistoryTTL      int     `json:"history_ttl"`       // TTL буфера истории (секунды)
	GeofenceFlagTTL int     `json:"geofence_flag_ttl"` // TTL флага "геозона уже сработала" (секунды)
	AssumedSpeedKmh float64 `json:"assumed_speed_kmh"` // скорость для расчета ETA
}

// RoutingConfig представляет конфигурацию маршрутного сервиса
type RoutingConfig struct {
	BaseURL       string `json:"base_url"`
	APIKey        string `json:"api_key"`
	Timeout       int    `json:"timeout"`        // таймаут запроса к провайдеру (секунды)
	CacheTTL      int    `json:"cache_ttl"`      // TTL кеша маршрутов (секунды)
	MaxWaypoints  int    `json:"max_waypoints"`  // лимит промежуточных точек в одном запросе
	OptimizeLimit int    `json:"optimize_limit"` // до этого числа точек порядок выбирает провайдер
}

// PricingConfig представляет конфигурацию расчета стоимости доставки
type PricingConfig struct {
	BasePrice  float64 `json:"base_price"`
	PricePerKm float64 `json:"price_per_km"`
	MinPrice   float64 `json:"min_price"`
	MaxPrice   float64 `json:"max_price"`
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "reskflow_user"),
			Password: getEnv("DB_PASSWORD", "reskflow_pass"),
			DBName:   getEnv("DB_NAME", "reskflow"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "dispatch-pipeline"),
			Topics: Topics{
				DeliveryCreated: getEnv("KAFKA_TOPIC_DELIVERY_CREATED", "delivery.created"),
				Assignment:      getEnv("KAFKA_TOPIC_ASSIGNMENT", "delivery.assignment"),
				StatusUpdate:    getEnv("KAFKA_TOPIC_STATUS_UPDATE", "delivery.status.update"),
				LocationUpdate:  getEnv("KAFKA_TOPIC_LOCATION_UPDATE", "driver.location.update"),
				Notifications:   getEnv("KAFKA_TOPIC_NOTIFICATIONS", "delivery.notifications"),
				DeadLetter:      getEnv("KAFKA_TOPIC_DLQ", "delivery.dlq"),
			},
			MaxAttempts: getEnvAsInt("KAFKA_MAX_ATTEMPTS", 5),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Dispatch: DispatchConfig{
			SearchRadiusKm:  getEnvAsFloat("DISPATCH_SEARCH_RADIUS_KM", 10),
			CandidateLimit:  getEnvAsInt("DISPATCH_CANDIDATE_LIMIT", 10),
			MaxRetries:      getEnvAsInt("DISPATCH_MAX_RETRIES", 3),
			RetryBaseDelay:  getEnvAsInt("DISPATCH_RETRY_BASE_DELAY", 5),
			RetryMaxDelay:   getEnvAsInt("DISPATCH_RETRY_MAX_DELAY", 120), // 2 минуты
			SweepInterval:   getEnvAsInt("DISPATCH_SWEEP_INTERVAL", 300),  // 5 минут
			PendingTimeout:  getEnvAsInt("DISPATCH_PENDING_TIMEOUT", 300), // 5 минут
			DriverCapacity:  getEnvAsInt("DISPATCH_DRIVER_CAPACITY", 5),
			DriverTTL:       getEnvAsInt("DISPATCH_DRIVER_TTL", 60), // 1 минута
			ThrottlePerMin:  getEnvAsInt("DISPATCH_THROTTLE_PER_MIN", 120),
			ThrottleEnabled: getEnv("DISPATCH_THROTTLE_ENABLED", "true") == "true",
		},
		Tracking: TrackingConfig{
			GeofenceRadiusM: getEnvAsFloat("TRACKING_GEOFENCE_RADIUS_M", 100),
			LocationTTL:     getEnvAsInt("TRACKING_LOCATION_TTL", 300), // 5 минут
			HistoryLimit:    getEnvAsInt("TRACKING_HISTORY_LIMIT", 100),
			HistoryTTL:      getEnvAsInt("TRACKING_HISTORY_TTL", 3600),        // 1 час
			GeofenceFlagTTL: getEnvAsInt("TRACKING_GEOFENCE_FLAG_TTL", 86400), // 24 часа
			AssumedSpeedKmh: getEnvAsFloat("TRACKING_ASSUMED_SPEED_KMH", 30),
		},
		Routing: RoutingConfig{
			BaseURL:       getEnv("ROUTING_BASE_URL", "http://localhost:5000"),
			APIKey:        getEnv("ROUTING_API_KEY", ""),
			Timeout:       getEnvAsInt("ROUTING_TIMEOUT", 10),
			CacheTTL:      getEnvAsInt("ROUTING_CACHE_TTL", 3600), // 1 час
			MaxWaypoints:  getEnvAsInt("ROUTING_MAX_WAYPOINTS", 23),
			OptimizeLimit: getEnvAsInt("ROUTING_OPTIMIZE_LIMIT", 10),
		},
		Pricing: PricingConfig{
			BasePrice:  getEnvAsFloat("PRICING_BASE_PRICE", 3.0),
			PricePerKm: getEnvAsFloat("PRICING_PER_KM", 1.25),
			MinPrice:   getEnvAsFloat("PRICING_MIN_PRICE", 5.0),
			MaxPrice:   getEnvAsFloat("PRICING_MAX_PRICE", 50.0),
		},
	}
}

// RetryBackoff возвращает задержку перед повтором назначения:
// экспоненциальный рост от базовой задержки с верхним потолком
func (c *DispatchConfig) RetryBackoff(retryCount int) time.Duration {
	delay := time.Duration(c.RetryBaseDelay) * time.Second
	maxDelay := time.Duration(c.RetryMaxDelay) * time.Second
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
