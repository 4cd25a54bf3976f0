package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/config"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/database"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/handlers"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/kafka"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/metrics"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/redis"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/routing"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/services"

	"github.com/joho/godotenv"
)

func main() {
	// .env опционален: в контейнере конфигурация приходит из окружения
	_ = godotenv.Load()

	// Загрузка конфигурации
	cfg := config.Load()

	// Инициализация логгера
	log := logger.New(&cfg.Logger)
	log.Info("Starting delivery dispatch server...")

	// Подключение к базе данных
	db, err := database.Connect(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	// Подключение к Redis
	redisClient, err := redis.Connect(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Создание Kafka producer
	producer, err := kafka.NewProducer(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka producer")
	}
	defer producer.Close()

	// Создание Kafka consumer
	consumer, err := kafka.NewConsumer(&cfg.Kafka, producer, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Stop()

	// Метрики на отдельном реестре
	m := metrics.New()

	// Инициализация сервисов
	pricingService := services.NewPricingService(&cfg.Pricing, log)
	driverService := services.NewDriverService(db, &cfg.Dispatch, log)
	deliveryService := services.NewDeliveryService(db, pricingService, driverService, log)
	geoIndex := services.NewGeoIndexService(redisClient, &cfg.Dispatch, log)
	throttle := services.NewLocationThrottleService(redisClient, &cfg.Dispatch, log)
	routingClient := routing.NewClient(&cfg.Routing, m, log)
	routeService := services.NewRouteService(routingClient, redisClient, &cfg.Routing, m, log)
	assignmentService := services.NewAssignmentService(
		deliveryService, driverService, geoIndex, producer, producer, &cfg.Dispatch, m, log)
	trackingService := services.NewTrackingService(
		deliveryService, driverService, geoIndex, redisClient, producer, throttle, &cfg.Tracking, m, log)

	// Инициализация handlers
	deliveryHandler := handlers.NewDeliveryHandler(deliveryService, trackingService, producer, log)
	driverHandler := handlers.NewDriverHandler(driverService, geoIndex, producer, cfg.Dispatch.SearchRadiusKm, log)
	routeHandler := handlers.NewRouteHandler(routeService, log)
	healthHandler := handlers.NewHealthHandler(db, redisClient)

	// Регистрация обработчиков событий Kafka
	registerEventHandlers(consumer, assignmentService, trackingService)

	// Запуск Kafka consumer
	if err := consumer.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start Kafka consumer")
	}

	// Фоновый обход зависших в PENDING доставок
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go assignmentService.RunStaleSweep(sweepCtx)

	// Настройка HTTP роутера
	mux := setupRoutes(deliveryHandler, driverHandler, routeHandler, healthHandler, m)

	// Создание HTTP сервера
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запуск сервера в горутине
	go func() {
		log.WithField("address", server.Addr).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stopSweep()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(
	deliveryHandler *handlers.DeliveryHandler,
	driverHandler *handlers.DriverHandler,
	routeHandler *handlers.RouteHandler,
	healthHandler *handlers.HealthHandler,
	m *metrics.Metrics,
) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/health", handlers.CORSMiddleware(healthHandler.Health))
	mux.HandleFunc("/health/readiness", handlers.CORSMiddleware(healthHandler.Readiness))
	mux.HandleFunc("/health/liveness", handlers.CORSMiddleware(healthHandler.Liveness))

	// Metrics endpoint
	mux.Handle("/metrics", m.Handler())

	// Delivery endpoints
	mux.HandleFunc("/api/deliveries", handlers.CORSMiddleware(handleDeliveriesRoute(deliveryHandler)))
	mux.HandleFunc("/api/deliveries/", handlers.CORSMiddleware(handleDeliveryRoute(deliveryHandler)))

	// Driver endpoints
	mux.HandleFunc("/api/drivers", handlers.CORSMiddleware(handleDriversRoute(driverHandler)))
	mux.HandleFunc("/api/drivers/nearby", handlers.CORSMiddleware(methodOnly(http.MethodGet, driverHandler.NearbyDrivers)))
	mux.HandleFunc("/api/drivers/", handlers.CORSMiddleware(handleDriverRoute(driverHandler)))

	// Route endpoints
	mux.HandleFunc("/api/routes/calculate", handlers.CORSMiddleware(methodOnly(http.MethodPost, routeHandler.CalculateRoute)))
	mux.HandleFunc("/api/routes/optimize", handlers.CORSMiddleware(methodOnly(http.MethodPost, routeHandler.OptimizeRoute)))

	return mux
}

// handleDeliveriesRoute обрабатывает маршруты для коллекции доставок
func handleDeliveriesRoute(handler *handlers.DeliveryHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListDeliveries(w, r)
		case http.MethodPost:
			handler.CreateDelivery(w, r)
		default:
			writeMethodNotAllowed(w)
		}
	}
}

// handleDeliveryRoute обрабатывает маршруты для отдельной доставки
func handleDeliveryRoute(handler *handlers.DeliveryHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/status"):
			if r.Method == http.MethodPut {
				handler.UpdateDeliveryStatus(w, r)
			} else {
				writeMethodNotAllowed(w)
			}
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			if r.Method == http.MethodPost {
				handler.CancelDelivery(w, r)
			} else {
				writeMethodNotAllowed(w)
			}
		case strings.HasSuffix(r.URL.Path, "/tracking"):
			if r.Method == http.MethodGet {
				handler.GetTracking(w, r)
			} else {
				writeMethodNotAllowed(w)
			}
		default:
			if r.Method == http.MethodGet {
				handler.GetDelivery(w, r)
			} else {
				writeMethodNotAllowed(w)
			}
		}
	}
}

// handleDriversRoute обрабатывает маршруты для коллекции водителей
func handleDriversRoute(handler *handlers.DriverHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			handler.CreateDriver(w, r)
		} else {
			writeMethodNotAllowed(w)
		}
	}
}

// handleDriverRoute обрабатывает маршруты для отдельного водителя
func handleDriverRoute(handler *handlers.DriverHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/availability"):
			if r.Method == http.MethodPut {
				handler.UpdateAvailability(w, r)
			} else {
				writeMethodNotAllowed(w)
			}
		case strings.HasSuffix(r.URL.Path, "/location"):
			if r.Method == http.MethodPost {
				handler.UpdateLocation(w, r)
			} else {
				writeMethodNotAllowed(w)
			}
		default:
			if r.Method == http.MethodGet {
				handler.GetDriver(w, r)
			} else {
				writeMethodNotAllowed(w)
			}
		}
	}
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, assignment *services.AssignmentService, tracking *services.TrackingService) {
	consumer.RegisterHandler(models.EventTypeDeliveryCreated, assignment.HandleDeliveryCreated)
	consumer.RegisterHandler(models.EventTypeAssignmentRequested, assignment.HandleAssignmentMessage)
	consumer.RegisterHandler(models.EventTypeStatusUpdate, tracking.HandleStatusUpdate)
	consumer.RegisterHandler(models.EventTypeDriverLocation, tracking.HandleDriverLocation)
}

func methodOnly(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeMethodNotAllowed(w)
			return
		}
		next(w, r)
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	fmt.Fprintf(w, `{"error": "%s", "message": "Method not allowed"}`, http.StatusText(http.StatusMethodNotAllowed))
}
