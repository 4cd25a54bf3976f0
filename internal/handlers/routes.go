package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/logger"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/models"
	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/services"
)

// RouteHandler представляет обработчик маршрутов
type RouteHandler struct {
	routes *services.RouteService
	log    *logger.Logger
}

// NewRouteHandler создает новый обработчик маршрутов
func NewRouteHandler(routes *services.RouteService, log *logger.Logger) *RouteHandler {
	return &RouteHandler{
		routes: routes,
		log:    log,
	}
}

// CalculateRoute рассчитывает маршрут между точками
func (h *RouteHandler) CalculateRoute(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	route, err := h.routes.CalculateRoute(r.Context(), &req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, route)
}

// OptimizeRoute оптимизирует порядок обхода точек доставки
func (h *RouteHandler) OptimizeRoute(w http.ResponseWriter, r *http.Request) {
	var req models.OptimizeRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	optimized, err := h.routes.OptimizeRoute(r.Context(), &req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, optimized)
}
