package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func TestJSONValidator(t *testing.T) {
	h := JSONValidator()(okHandler())

	tests := []struct {
		name   string
		method string
		path   string
		ct     string
		want   int
	}{
		{"json на /chunk/init", http.MethodPost, "/chunk/init", "application/json; charset=utf-8", http.StatusTeapot},
		{"текст на /chunk/upload", http.MethodPost, "/chunk/upload", "text/plain", http.StatusUnsupportedMediaType},
		{"без заголовка на /import", http.MethodPost, "/import", "", http.StatusUnsupportedMediaType},
		{"GET не проверяется", http.MethodGet, "/chunk/download", "", http.StatusTeapot},
		{"DELETE не проверяется", http.MethodDelete, "/snapshots", "", http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			if tt.ct != "" {
				req.Header.Set("Content-Type", tt.ct)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestReqLogger_RecordsStatus(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := ReqLogger(zap.New(core))(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/history", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "/history", fields["url"])
	assert.EqualValues(t, http.StatusTeapot, fields["status"])
}

func TestRecovery(t *testing.T) {
	h := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("сбой")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshots", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error": "Внутренняя ошибка сервера", "kind": "Internal"}`, w.Body.String())
}
