package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Query string `json:"query" validate:"required,max=10"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1"`
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"query":"Jane","top_k":3}`, false},
		{"missing query", `{"top_k":3}`, true},
		{"too long", `{"query":"Jane Marie Doe"}`, true},
		{"unknown field", `{"query":"Jane","sql":"DROP"}`, true},
		{"broken json", `{"query":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var got sample
			err := DecodeJSON(r, &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Jane", got.Query)
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	err := Validator.Struct(&sample{TopK: -1})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(discard(), rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	fields := body["fields"].(map[string]any)
	assert.Equal(t, "required", fields["Query"])
	assert.Equal(t, "min", fields["TopK"])
}

func TestFailWritesJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(discard(), rec, "search failed", errors.New("boom"), 0)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"search failed"}`, rec.Body.String())
}

func TestRecovererReturns500(t *testing.T) {
	r := NewRouter(discard())
	r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
	r.Get("/healthz", HealthHandler(discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
