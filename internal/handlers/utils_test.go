package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sean-Khorasani/ReskFlow-sub001/internal/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractUUIDFromPath(t *testing.T) {
	id := uuid.New()

	t.Run("plain id", func(t *testing.T) {
		got, err := extractUUIDFromPath("/api/deliveries/"+id.String(), "/api/deliveries/")
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("id with action suffix", func(t *testing.T) {
		got, err := extractUUIDFromPath("/api/deliveries/"+id.String()+"/status", "/api/deliveries/")
		require.NoError(t, err)
		assert.Equal(t, id, got)
	})

	t.Run("wrong prefix", func(t *testing.T) {
		_, err := extractUUIDFromPath("/api/drivers/"+id.String(), "/api/deliveries/")
		assert.Error(t, err)
	})

	t.Run("not a uuid", func(t *testing.T) {
		_, err := extractUUIDFromPath("/api/deliveries/not-a-uuid", "/api/deliveries/")
		assert.Error(t, err)
	})
}

func TestWriteAppError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation maps to 400", apperr.NewValidation("bad input"), http.StatusBadRequest},
		{"not found maps to 404", apperr.NewNotFound("delivery", "abc"), http.StatusNotFound},
		{"state conflict maps to 409", apperr.NewState("DELIVERED", "PENDING"), http.StatusConflict},
		{"external failure maps to 502", apperr.NewExternal("routing-provider", "timeout", nil), http.StatusBadGateway},
		{"unknown maps to 500", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAppError(rec, tc.err)

			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	handler := CORSMiddleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	t.Run("passes through with headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/api/deliveries", nil))

		assert.True(t, called)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("answers preflight without calling handler", func(t *testing.T) {
		called = false
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodOptions, "/api/deliveries", nil))

		assert.False(t, called)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
