package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"

	"tradebot/internal/api"
	"tradebot/internal/audit"
	"tradebot/internal/bot"
	"tradebot/internal/config"
	"tradebot/internal/exchange"
	"tradebot/internal/market"
	"tradebot/internal/models"
	"tradebot/internal/repository"
	"tradebot/internal/service"
	"tradebot/internal/strategy"
	"tradebot/internal/websocket"
	"tradebot/pkg/crypto"
	"tradebot/pkg/utils"
)

func main() {
	hashToken := flag.Bool("hash-token", false, "generate an API token and its bcrypt hash, then exit")
	flag.Parse()

	if *hashToken {
		if err := printToken(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// Загрузка конфигурации: ошибка - немедленный выход
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	logger := utils.InitGlobalLogger(cfg.LogConfig())
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("bot stopped with error", utils.Err(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("bot exited")
}

// printToken печатает новый токен оператора и хеш для BEOMBONG_API_TOKEN_HASH
func printToken() error {
	token, err := crypto.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := crypto.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Printf("token: %s\nBEOMBONG_API_TOKEN_HASH=%s\n", token, hash)
	return nil
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting tradebot", utils.Any("config", cfg.Redacted()))

	if cfg.Profiling.PyroscopeURL != "" {
		profiler, err := startProfiling(cfg)
		if err != nil {
			logger.Warn("pyroscope start failed", utils.Err(err))
		} else {
			defer profiler.Stop()
		}
	}

	// База данных необязательна: без неё журнал идёт в лог, история и отчёты недоступны
	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = repository.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := repository.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("connected to database")
	} else {
		logger.Warn("database_url is empty, running without persistence")
	}

	// Биржа
	live := exchange.NewBithumb(cfg.BithumbConfig())
	defer live.Close()

	var (
		exch  exchange.Exchange = live
		paper *exchange.Paper
	)
	if cfg.Exchange.Paper {
		paper = exchange.NewPaper(cfg.PaperConfig(live))
		exch = paper
		logger.Info("paper trading enabled", utils.String("cash", cfg.Exchange.PaperCash.String()))
	}

	// Уведомления и WebSocket поток
	hub := websocket.NewHub()
	hub.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	go hub.Run()
	defer hub.Stop()

	slack := service.NewSlackNotifier(cfg.Notify.SlackWebhookURL, nil)
	if !slack.Enabled() {
		logger.Info("slack_webhook_url is empty, slack notifications disabled")
	}

	// Хранилища: nil-интерфейс, если БД нет
	var (
		auditStore    audit.Store = audit.NewLogStore()
		notifStore    service.NotificationStore
		candleStore   market.CandleStore
		recoveryStore bot.OrderStore

		orderRepo *repository.OrderRepository
		cycleRepo *repository.CycleRepository
		auditRepo *repository.AuditRepository
		statsRepo *repository.StatsRepository
	)
	deps := bot.Dependencies{Exchange: exch, Strategy: cfg.Strategy(), Hub: hub}

	if db != nil {
		orderRepo = repository.NewOrderRepository(db)
		cycleRepo = repository.NewCycleRepository(db)
		auditRepo = repository.NewAuditRepository(db)
		statsRepo = repository.NewStatsRepository(db)
		notifStore = repository.NewNotificationRepository(db)
		candleStore = repository.NewCandleRepository(db)
		auditStore = auditRepo
		recoveryStore = orderRepo

		deps.Orders = orderRepo
		deps.Cycles = cycleRepo
		deps.Trades = statsRepo
	}

	notifications := service.NewNotificationService(notifStore, slack)
	notifications.SetWebSocketHub(hub)
	deps.Notifier = notifications

	auditWriter := audit.NewWriter(auditStore, audit.DefaultConfig())
	deps.Audit = auditWriter

	// Оркестратор
	engine, err := bot.NewEngine(cfg.EngineConfig(), deps)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	// Восстановление: незавершённые ордера и баланс биржи до первого цикла
	recovery := bot.NewRecoveryManager(engine, recoveryStore, nil)
	result, err := recovery.Recover(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	logger.Info("startup recovery finished",
		utils.Int("open_orders", result.OpenOrdersFound),
		utils.Int("reconciled", len(result.OrdersReconciled)),
		utils.Int("failed", len(result.OrdersFailed)),
		utils.Bool("halted", result.Halted),
	)

	// Рыночные данные
	poller := market.NewCandlePoller(cfg.PollerConfig(), exch, engine, candleStore)
	if n, err := poller.Backfill(ctx); err != nil {
		logger.Warn("candle backfill failed, window fills from live candles", utils.Err(err))
	} else {
		logger.Info("candle window backfilled", utils.Int("candles", n))
	}

	ticks := market.NewTickerStream(cfg.Trading.Market, cfg.Exchange.WSURL, exchange.DefaultWSReconnectConfig(), tickFanout{engine: engine, paper: paper})
	if err := ticks.Start(ctx); err != nil {
		// без потока цена берётся через REST перед каждым циклом
		logger.Warn("ticker stream unavailable, using REST ticker", utils.Err(err))
	}
	defer ticks.Close()

	// Перезагрузка конфигурации между циклами
	watcher := config.NewWatcher(cfg, config.Load)
	watcher.OnChange(reloadHandler(ctx, engine, auditWriter, notifications, logger))

	// Отчёты
	var reports *service.ReportService
	if statsRepo != nil {
		reports = service.NewReportService(statsRepo, notifications, cfg.ReportConfig())
	}

	// HTTP API
	apiDeps := &api.Dependencies{
		Bot:            engine,
		Reloader:       watcher,
		TokenHash:      cfg.Security.APITokenHash,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if db != nil {
		apiDeps.Cycles = cycleRepo
		apiDeps.Orders = orderRepo
		apiDeps.Audit = auditRepo
	}
	if reports != nil {
		apiDeps.Reporter = reports
	}
	if cfg.Server.WebSocketEnabled {
		apiDeps.Stream = hub.ServeWS
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.SetupRoutes(apiDeps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*time.Minute + 15*time.Second, // resume сверяет ордер до order_fill_timeout
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting api server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("candle poller stopped", utils.Err(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.WatchFile(ctx)
	}()

	if reports != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports.Run(ctx)
		}()
	}

	if notifStore != nil && cfg.Notify.NotificationRetention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifications.RunCleanup(ctx, time.Hour, cfg.Notify.NotificationRetention)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		stop()
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server forced to shutdown", utils.Err(err))
	}
	wg.Wait()

	if err := auditWriter.Close(shutdownCtx); err != nil {
		logger.Warn("audit queue not fully flushed", utils.Err(err), utils.Int("pending", auditWriter.Pending()))
	}
	return runErr
}

type engineReloader interface {
	Reload(cfg bot.EngineConfig, strat strategy.Evaluator)
}

type auditAppender interface {
	Append(ctx context.Context, cycleID int64, kind models.AuditKind, payload interface{}, at time.Time) error
}

type notificationPublisher interface {
	Publish(ctx context.Context, notif *models.Notification) error
}

// reloadHandler передаёт новую конфигурацию движку (применяется перед следующим циклом),
// пишет её в аудит и оповещает клиентов
func reloadHandler(ctx context.Context, engine engineReloader, audit auditAppender, notifier notificationPublisher, logger *utils.Logger) config.ChangeFunc {
	return func(_, next *config.Config) {
		engine.Reload(next.EngineConfig(), next.Strategy())
		now := time.Now()
		if err := audit.Append(ctx, 0, models.AuditConfig, next.Redacted(), now); err != nil {
			logger.Warn("failed to audit config reload", utils.Err(err))
		}
		if err := notifier.Publish(ctx, &models.Notification{
			Type:      models.NotificationTypeConfig,
			Severity:  models.SeverityInfo,
			Market:    next.Trading.Market,
			Message:   "configuration reloaded, applied before the next cycle",
			Timestamp: now,
		}); err != nil {
			logger.Warn("failed to publish config reload notification", utils.Err(err))
		}
	}
}

// tickFanout передаёт тик движку и бумажной бирже
type tickFanout struct {
	engine *bot.Engine
	paper  *exchange.Paper
}

func (f tickFanout) OnTick(price decimal.Decimal, at time.Time) {
	if f.paper != nil {
		f.paper.SetPrice(price)
	}
	f.engine.OnTick(price, at)
}

func startProfiling(cfg *config.Config) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Profiling.AppName,
		ServerAddress:   cfg.Profiling.PyroscopeURL,
		Tags: map[string]string{
			"market": cfg.Trading.Market,
			"paper":  fmt.Sprint(cfg.Exchange.Paper),
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}
