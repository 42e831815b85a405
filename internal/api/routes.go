package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradebot/internal/api/handlers"
	"tradebot/internal/api/middleware"
)

// Dependencies содержит все зависимости для API handlers.
// Nil-зависимость - группа маршрутов не регистрируется.
type Dependencies struct {
	Bot      handlers.BotController
	Cycles   handlers.CycleLister
	Orders   handlers.OrderLister
	Audit    handlers.AuditLister
	Reporter handlers.DailyReporter
	Reloader handlers.ConfigReloader

	// WebSocket поток статуса (hub.ServeWS)
	Stream http.HandlerFunc

	// bcrypt-хеш токена оператора; пустой - без авторизации
	TokenHash      string
	AllowedOrigins []string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── GET /health - liveness (без авторизации)
//	├── GET /status - состояние бота
//	├── POST /pause - ручная остановка
//	├── POST /resume - возобновление
//	├── /cycles/
//	│   ├── GET / - последние циклы
//	│   └── POST /trigger - внеочередной цикл
//	├── GET /orders - последние ордера
//	├── GET /audit - журнал аудита
//	├── GET /performance/daily - итоги дня
//	└── POST /config/reload - перечитать конфигурацию
//
// /metrics - Prometheus (без авторизации)
// /ws - WebSocket поток статуса, ордеров и уведомлений
//
// Middleware применяется в следующем порядке:
// 1. Recovery
// 2. Logging (X-Request-ID)
// 3. Metrics
// 4. CORS
// 5. TokenAuth (кроме health и metrics)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.Metrics)
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.NewTokenAuth(deps.TokenHash, "/api/v1/health", "/metrics").Middleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if deps.Stream != nil {
		router.HandleFunc("/ws", deps.Stream).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Bot != nil {
		botHandler := handlers.NewBotHandler(deps.Bot)
		api.HandleFunc("/health", botHandler.Health).Methods("GET", "OPTIONS")
		api.HandleFunc("/status", botHandler.GetStatus).Methods("GET", "OPTIONS")
		api.HandleFunc("/pause", botHandler.Pause).Methods("POST", "OPTIONS")
		api.HandleFunc("/resume", botHandler.Resume).Methods("POST", "OPTIONS")
		api.HandleFunc("/cycles/trigger", botHandler.TriggerCycle).Methods("POST", "OPTIONS")
	}

	if deps.Cycles != nil && deps.Orders != nil && deps.Audit != nil {
		historyHandler := handlers.NewHistoryHandler(deps.Cycles, deps.Orders, deps.Audit)
		api.HandleFunc("/cycles", historyHandler.GetCycles).Methods("GET", "OPTIONS")
		api.HandleFunc("/orders", historyHandler.GetOrders).Methods("GET", "OPTIONS")
		api.HandleFunc("/audit", historyHandler.GetAudit).Methods("GET", "OPTIONS")
	}

	if deps.Reporter != nil {
		performanceHandler := handlers.NewPerformanceHandler(deps.Reporter)
		api.HandleFunc("/performance/daily", performanceHandler.GetDaily).Methods("GET", "OPTIONS")
	}

	if deps.Reloader != nil {
		configHandler := handlers.NewConfigHandler(deps.Reloader)
		api.HandleFunc("/config/reload", configHandler.Reload).Methods("POST", "OPTIONS")
	}

	return router
}
