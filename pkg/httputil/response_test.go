package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"primary_email": "ada@corp.example"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "ada@corp.example")
}

func TestErrorHelperStatuses(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{
			name:       "validation error",
			write:      func(w http.ResponseWriter) { WriteValidationError(w, "alias is required") },
			wantStatus: http.StatusBadRequest,
			wantError:  "alias is required",
		},
		{
			name:       "unauthorized",
			write:      func(w http.ResponseWriter) { WriteUnauthorized(w, "token expired") },
			wantStatus: http.StatusUnauthorized,
			wantError:  "token expired",
		},
		{
			name:       "forbidden",
			write:      func(w http.ResponseWriter) { WriteForbidden(w, "missing users:write scope") },
			wantStatus: http.StatusForbidden,
			wantError:  "missing users:write scope",
		},
		{
			name:       "not found",
			write:      func(w http.ResponseWriter) { WriteNotFoundError(w, "provider not found") },
			wantStatus: http.StatusNotFound,
			wantError:  "provider not found",
		},
		{
			name:       "conflict",
			write:      func(w http.ResponseWriter) { WriteConflict(w, "alias already attached to another user") },
			wantStatus: http.StatusConflict,
			wantError:  "alias already attached to another user",
		},
		{
			name:       "internal error",
			write:      func(w http.ResponseWriter) { WriteInternalError(w, errors.New("storage unavailable")) },
			wantStatus: http.StatusInternalServerError,
			wantError:  "storage unavailable",
		},
		{
			name: "settings duplicate root key answers 300",
			write: func(w http.ResponseWriter) {
				WriteErrorMessage(w, http.StatusMultipleChoices, "duplicate root key: theme")
			},
			wantStatus: http.StatusMultipleChoices,
			wantError:  "duplicate root key: theme",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	WriteNoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteJSONOrError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteJSONOrError(w, http.StatusOK, map[string]int{"imported": 3}, "failed to encode report")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"imported":3`)
}
