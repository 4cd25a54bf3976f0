package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/kafka"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/services"
)

// DriverHandler представляет обработчик водителей
type DriverHandler struct {
	drivers  *services.DriverService
	geoIndex *services.GeoIndexService
	producer *kafka.Producer
	radiusKm float64
	log      *logger.Logger
}

// NewDriverHandler создает новый обработчик водителей
func NewDriverHandler(drivers *services.DriverService, geoIndex *services.GeoIndexService, producer *kafka.Producer, radiusKm float64, log *logger.Logger) *DriverHandler {
	return &DriverHandler{
		drivers:  drivers,
		geoIndex: geoIndex,
		producer: producer,
		radiusKm: radiusKm,
		log:      log,
	}
}

// CreateDriver регистрирует нового водителя
func (h *DriverHandler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Phone == "" {
		writeErrorResponse(w, http.StatusBadRequest, "phone is required")
		return
	}
	if !req.VehicleType.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "invalid vehicle_type")
		return
	}

	driver, err := h.drivers.CreateDriver(r.Context(), &req)
	if err != nil {
		h.log.WithError(err).Error("Failed to create driver")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to create driver")
		return
	}

	writeJSONResponse(w, http.StatusCreated, driver)
}

// GetDriver получает водителя по ID
func (h *DriverHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	driverID, err := extractUUIDFromPath(r.URL.Path, "/api/drivers/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid driver ID")
		return
	}

	driver, err := h.drivers.GetDriver(r.Context(), driverID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, driver)
}

// UpdateAvailability меняет доступность водителя и синхронизирует гео-индекс
func (h *DriverHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	driverID, err := extractUUIDFromPath(r.URL.Path, "/api/drivers/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid driver ID")
		return
	}

	var req models.UpdateDriverAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Location != nil && !req.Location.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "invalid location")
		return
	}

	driver, err := h.drivers.SetAvailability(r.Context(), driverID, req.IsAvailable)
	if err != nil {
		writeAppError(w, err)
		return
	}

	// Индекс держим согласованным с доступностью: ушедший с линии
	// водитель не должен попадать в выдачу поиска
	switch {
	case !req.IsAvailable:
		if err := h.geoIndex.Remove(r.Context(), driverID); err != nil {
			h.log.WithError(err).WithField("driver_id", driverID).
				Warn("Failed to remove driver from geo index")
		}
	case req.Location != nil:
		if err := h.geoIndex.Upsert(r.Context(), driver, *req.Location); err != nil {
			h.log.WithError(err).WithField("driver_id", driverID).
				Warn("Failed to upsert driver in geo index")
		}
	}

	writeJSONResponse(w, http.StatusOK, driver)
}

// UpdateLocation принимает обновление локации водителя и публикует его в очередь
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	driverID, err := extractUUIDFromPath(r.URL.Path, "/api/drivers/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid driver ID")
		return
	}

	var req models.DriverLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Location.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "invalid location")
		return
	}

	update := models.LocationUpdateEvent{
		DriverID:  driverID,
		Location:  req.Location,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Accuracy:  req.Accuracy,
		Timestamp: time.Now().UTC(),
	}
	if err := h.producer.PublishDriverLocation(update); err != nil {
		h.log.WithError(err).WithField("driver_id", driverID).
			Error("Failed to publish driver location")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to queue location update")
		return
	}

	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// NearbyDrivers ищет доступных водителей рядом с точкой
func (h *DriverHandler) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid lat")
		return
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid lng")
		return
	}

	center := models.Location{Lat: lat, Lng: lng}
	if !center.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "invalid location")
		return
	}

	radiusKm := h.radiusKm
	if radiusStr := r.URL.Query().Get("radius_km"); radiusStr != "" {
		radiusKm, err = strconv.ParseFloat(radiusStr, 64)
		if err != nil || radiusKm <= 0 {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid radius_km")
			return
		}
	}

	var vehicleType *models.VehicleType
	if vehicleStr := r.URL.Query().Get("vehicle_type"); vehicleStr != "" {
		vt := models.VehicleType(vehicleStr)
		if !vt.Valid() {
			writeErrorResponse(w, http.StatusBadRequest, "invalid vehicle_type")
			return
		}
		vehicleType = &vt
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	candidates, err := h.geoIndex.Query(r.Context(), center, radiusKm, vehicleType, limit)
	if err != nil {
		h.log.WithError(err).Error("Failed to query nearby drivers")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to query nearby drivers")
		return
	}

	writeJSONResponse(w, http.StatusOK, candidates)
}
