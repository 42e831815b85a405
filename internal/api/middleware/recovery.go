package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"tradebot/pkg/utils"
)

// Recovery - перехват panic в handlers
//
// Логирует panic со stack trace и возвращает клиенту 500.
// Сервер и торговый цикл продолжают работу.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				utils.L().WithComponent("api").Error("panic in http handler",
					utils.String("panic", fmt.Sprint(rec)),
					utils.String("path", r.URL.Path),
					utils.RequestID(RequestIDFromContext(r.Context())),
					utils.String("stack", string(debug.Stack())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
