package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func ReqLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("Входящий HTTP запрос",
				zap.String("method", r.Method),
				zap.String("url", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func JSONValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && requiresJSON(r.URL.Path) {
				ct := r.Header.Get("Content-Type")
				base := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
				if base != "application/json" {
					writeError(w, http.StatusUnsupportedMediaType, "Неверный Content-Type, ожидается application/json", "Validation")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

var jsonEndpoints = map[string]bool{
	"/chunk/init":          true,
	"/chunk/upload":        true,
	"/chunk/download/init": true,
	"/chunk/cancel":        true,
	"/import":              true,
	"/export":              true,
	"/snapshots":           true,
	"/snapshots/restore":   true,
}

func requiresJSON(path string) bool {
	return jsonEndpoints[path]
}

func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("Паника в обработчике запроса",
						zap.Any("error", err),
						zap.String("stack", string(debug.Stack())),
						zap.String("url", r.URL.Path),
						zap.String("method", r.Method),
					)

					writeError(w, http.StatusInternalServerError, "Внутренняя ошибка сервера", "Internal")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}
