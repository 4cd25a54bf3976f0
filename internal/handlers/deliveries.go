package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/kafka"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/services"

	"github.com/google/uuid"
)

// DeliveryHandler представляет обработчик доставок
type DeliveryHandler struct {
	deliveries *services.DeliveryService
	tracking   *services.TrackingService
	producer   *kafka.Producer
	log        *logger.Logger
}

// NewDeliveryHandler создает новый обработчик доставок
func NewDeliveryHandler(deliveries *services.DeliveryService, tracking *services.TrackingService, producer *kafka.Producer, log *logger.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		deliveries: deliveries,
		tracking:   tracking,
		producer:   producer,
		log:        log,
	}
}

// CreateDelivery создает новую доставку и ставит ее в очередь на назначение
func (h *DeliveryHandler) CreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.validateCreateDeliveryRequest(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	delivery, err := h.deliveries.CreateDelivery(r.Context(), &req)
	if err != nil {
		h.log.WithError(err).Error("Failed to create delivery")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to create delivery")
		return
	}

	// Конвейер назначения стартует с события создания
	if err := h.producer.PublishDeliveryCreated(delivery.ID); err != nil {
		h.log.WithError(err).WithField("delivery_id", delivery.ID).
			Error("Failed to publish delivery created event")
		// Доставка уже создана; потерянное событие подберет обход зависших
	}

	writeJSONResponse(w, http.StatusCreated, delivery)
}

// GetDelivery получает доставку по ID
func (h *DeliveryHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := extractUUIDFromPath(r.URL.Path, "/api/deliveries/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid delivery ID")
		return
	}

	delivery, err := h.deliveries.GetDelivery(r.Context(), deliveryID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, delivery)
}

// ListDeliveries получает список доставок с фильтрацией
func (h *DeliveryHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	var status *models.DeliveryStatus
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		s := models.DeliveryStatus(strings.ToUpper(statusStr))
		if !s.Valid() {
			writeErrorResponse(w, http.StatusBadRequest, "Unknown delivery status")
			return
		}
		status = &s
	}

	var driverID *uuid.UUID
	if driverStr := r.URL.Query().Get("driver_id"); driverStr != "" {
		id, err := uuid.Parse(driverStr)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid driver ID")
			return
		}
		driverID = &id
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	deliveries, err := h.deliveries.ListDeliveries(r.Context(), status, driverID, limit, offset)
	if err != nil {
		h.log.WithError(err).Error("Failed to list deliveries")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to list deliveries")
		return
	}

	writeJSONResponse(w, http.StatusOK, deliveries)
}

// CancelDelivery отменяет доставку
func (h *DeliveryHandler) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := extractUUIDFromPath(r.URL.Path, "/api/deliveries/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid delivery ID")
		return
	}

	var req models.CancelDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reason == "" {
		writeErrorResponse(w, http.StatusBadRequest, "Cancel reason is required")
		return
	}

	delivery, err := h.deliveries.ChangeStatus(r.Context(), deliveryID, services.StatusChange{
		To:     models.DeliveryStatusCancelled,
		Actor:  "customer",
		Reason: req.Reason,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, delivery)
}

// UpdateDeliveryStatus принимает внешнее подтверждение смены статуса
// (забор, начало движения, вручение) и публикует его в очередь
func (h *DeliveryHandler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := extractUUIDFromPath(r.URL.Path, "/api/deliveries/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid delivery ID")
		return
	}

	var req models.UpdateDeliveryStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Status.Valid() {
		writeErrorResponse(w, http.StatusBadRequest, "Unknown delivery status")
		return
	}

	update := models.StatusUpdateEvent{
		DeliveryID: deliveryID,
		Status:     req.Status,
		DriverID:   req.DriverID,
		Reason:     req.Reason,
	}
	if err := h.producer.PublishStatusUpdate(update); err != nil {
		h.log.WithError(err).WithField("delivery_id", deliveryID).
			Error("Failed to publish status update")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to queue status update")
		return
	}

	writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// GetTracking возвращает сводку трекинга доставки
func (h *DeliveryHandler) GetTracking(w http.ResponseWriter, r *http.Request) {
	deliveryID, err := extractUUIDFromPath(r.URL.Path, "/api/deliveries/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid delivery ID")
		return
	}

	info, err := h.tracking.GetTrackingInfo(r.Context(), deliveryID)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, info)
}

// validateCreateDeliveryRequest проверяет запрос на создание доставки
func (h *DeliveryHandler) validateCreateDeliveryRequest(req *models.CreateDeliveryRequest) error {
	if req.CustomerName == "" {
		return errRequired("customer_name")
	}
	if req.CustomerPhone == "" {
		return errRequired("customer_phone")
	}
	if req.PickupAddress == "" {
		return errRequired("pickup_address")
	}
	if req.DropoffAddress == "" {
		return errRequired("dropoff_address")
	}
	if !req.Pickup.Valid() {
		return errInvalid("pickup coordinates")
	}
	if !req.Dropoff.Valid() {
		return errInvalid("dropoff coordinates")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if !req.Priority.Valid() {
		return errInvalid("priority")
	}
	if req.VehicleType != nil && !req.VehicleType.Valid() {
		return errInvalid("vehicle_type")
	}
	return nil
}
