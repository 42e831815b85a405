package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"tradebot/pkg/utils"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDFromContext возвращает ID запроса, выставленный Logging
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// responseWriter запоминает статус и размер ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Hijack нужен для апгрейда /ws
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Logging - логирование HTTP запросов через zap
//
// Каждому запросу присваивается X-Request-ID (из заголовка клиента или новый UUID).
// Поля: method, path, status, latency_ms, remote, bytes, request_id.
// 5xx логируются как error, 4xx как warn, /health и /metrics - на уровне debug.
func Logging(next http.Handler) http.Handler {
	logger := utils.L().WithComponent("api")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, reqID))

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		fields := []utils.Field{
			utils.String("method", r.Method),
			utils.String("path", r.URL.Path),
			utils.Int("status", wrapped.statusCode),
			utils.Latency(float64(time.Since(start).Microseconds()) / 1000),
			utils.String("remote", r.RemoteAddr),
			utils.Int64("bytes", wrapped.written),
			utils.RequestID(reqID),
		}

		switch {
		case wrapped.statusCode >= 500:
			logger.Error("http request", fields...)
		case wrapped.statusCode >= 400:
			logger.Warn("http request", fields...)
		case r.URL.Path == "/api/v1/health" || r.URL.Path == "/metrics":
			logger.Debug("http request", fields...)
		default:
			logger.Info("http request", fields...)
		}
	})
}
