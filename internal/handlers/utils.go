package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"

	"github.com/google/uuid"
)

// ErrorResponse представляет структуру ответа с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSONResponse отправляет JSON ответ
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeErrorResponse отправляет ответ с ошибкой
func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	writeJSONResponse(w, statusCode, response)
}

// writeAppError сопоставляет ошибку доменного слоя HTTP статусу
func writeAppError(w http.ResponseWriter, err error) {
	var validationErr *apperr.ValidationError
	if errors.As(err, &validationErr) {
		writeErrorResponse(w, http.StatusBadRequest, validationErr.Error())
		return
	}

	var notFoundErr *apperr.NotFoundError
	if errors.As(err, &notFoundErr) {
		writeErrorResponse(w, http.StatusNotFound, notFoundErr.Error())
		return
	}

	var stateErr *apperr.StateError
	if errors.As(err, &stateErr) {
		writeErrorResponse(w, http.StatusConflict, stateErr.Error())
		return
	}

	var externalErr *apperr.ExternalServiceError
	if errors.As(err, &externalErr) {
		writeErrorResponse(w, http.StatusBadGateway, "Routing provider unavailable")
		return
	}

	writeErrorResponse(w, http.StatusInternalServerError, "Internal server error")
}

// extractUUIDFromPath извлекает UUID из пути URL
func extractUUIDFromPath(path, prefix string) (uuid.UUID, error) {
	if !strings.HasPrefix(path, prefix) {
		return uuid.Nil, fmt.Errorf("invalid path format")
	}

	// Убираем префикс и получаем ID
	idStr := strings.TrimPrefix(path, prefix)

	// Убираем возможный суффикс (например, /status)
	parts := strings.Split(idStr, "/")
	if len(parts) == 0 {
		return uuid.Nil, fmt.Errorf("missing ID in path")
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID format: %w", err)
	}

	return id, nil
}

// enableCORS включает CORS заголовки
func enableCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// CORSMiddleware добавляет CORS заголовки
func CORSMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enableCORS(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func errRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}

func errInvalid(field string) error {
	return fmt.Errorf("invalid %s", field)
}
