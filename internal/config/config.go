package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
	// scheduler_timezone не зависит от системной tzdata
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tradebot/internal/bot"
	"tradebot/internal/exchange"
	"tradebot/internal/market"
	"tradebot/internal/models"
	"tradebot/internal/service"
	"tradebot/internal/strategy"
	"tradebot/pkg/crypto"
	"tradebot/pkg/utils"
)

// EnvPrefix - префикс переменных окружения: BEOMBONG_TRADING_MARKET и т.д.
const EnvPrefix = "BEOMBONG"

// ConfigFileEnv - путь к необязательному YAML файлу
const ConfigFileEnv = EnvPrefix + "_CONFIG_FILE"

// Config содержит всю конфигурацию приложения
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Exchange  ExchangeConfig
	Trading   TradingConfig
	Schedule  ScheduleConfig
	Risk      models.RiskLimits
	Orders    OrderConfig
	Notify    NotifyConfig
	Logging   LoggingConfig
	Profiling ProfilingConfig

	// File - YAML файл, из которого прочитана конфигурация (пусто - только env)
	File string
}

// ServerConfig - настройки HTTP сервера мониторинга
type ServerConfig struct {
	Host             string
	Port             int
	WebSocketEnabled bool
	AllowedOrigins   []string
}

// DatabaseConfig - подключение к PostgreSQL. Пустой URL - без персистентности.
type DatabaseConfig struct {
	URL string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// bcrypt-хеш токена оператора; пустой - API без авторизации
	APITokenHash string
}

// ExchangeConfig - биржа и режим торговли
type ExchangeConfig struct {
	BaseURL      string
	WSURL        string
	APIKey       string
	APISecret    string
	HTTPTimeout  time.Duration
	Paper        bool
	PaperCash    decimal.Decimal
	PaperFeeRate decimal.Decimal
}

// TradingConfig - рынок и параметры стратегии
type TradingConfig struct {
	Market            string
	CandleInterval    time.Duration
	CandleCount       int
	StrategyWindow    int
	BreakoutThreshold decimal.Decimal
}

// ScheduleConfig - запуск циклов и отчётов
type ScheduleConfig struct {
	TriggerMode     models.TriggerSource
	TradingInterval time.Duration
	Timezone        string
	Location        *time.Location
	DailyReportTime utils.ClockTime
}

// OrderConfig - исполнение ордеров и аудит
type OrderConfig struct {
	FillTimeout       time.Duration
	PollInterval      time.Duration
	AuditFlushTimeout time.Duration
}

// NotifyConfig - внешние уведомления
type NotifyConfig struct {
	SlackWebhookURL       string
	NotificationRetention time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// ProfilingConfig - непрерывное профилирование (pyroscope)
type ProfilingConfig struct {
	PyroscopeURL string
	AppName      string
}

// defaults - значения по умолчанию для всех ключей
var defaults = map[string]interface{}{
	"bithumb_base_url":   "https://api.bithumb.com",
	"bithumb_ws_url":     "wss://pubwss.bithumb.com/pub/ws",
	"bithumb_api_key":    "",
	"bithumb_api_secret": "",
	"http_timeout":       "10s",
	"paper_trading":      "true",
	"paper_cash":         "1000000",
	"paper_fee_rate":     "0.0025",

	"trading_market":     "BTC_KRW",
	"candle_interval":    "1h",
	"candle_count":       "120",
	"strategy_window":    "20",
	"breakout_threshold": "0.01",
	"quantity_step":      "0.0001",

	"trigger_mode":       "interval",
	"trading_interval":   "300s",
	"scheduler_timezone": "Asia/Seoul",
	"daily_report_time":  "08:30",

	"max_position_size":      "0.05",
	"max_order_notional":     "1000000",
	"max_daily_loss":         "0",
	"daily_loss_limit_pct":   "0.05",
	"cooldown_after_loss":    "30m",
	"max_consecutive_losses": "3",
	"min_order_notional":     "5000",
	"min_cash_reserve_pct":   "0.1",
	"equity_fraction":        "0.3",
	"allow_short":            "false",

	"order_fill_timeout":  "2m",
	"order_poll_interval": "2s",
	"audit_flush_timeout": "5s",

	"database_url":           "",
	"slack_webhook_url":      "",
	"notification_retention": "720h",
	"websocket_enabled":      "true",
	"api_host":               "0.0.0.0",
	"api_port":               "8000",
	"api_token_hash":         "",
	"api_allowed_origins":    "",

	"log_level":     "info",
	"log_format":    "json",
	"log_output":    "",
	"pyroscope_url": "",
	"pyroscope_app": "tradebot",
}

// Load загружает конфигурацию: .env, затем переменные BEOMBONG_*,
// затем YAML из BEOMBONG_CONFIG_FILE (env приоритетнее файла).
func Load() (*Config, error) {
	// .env необязателен, уже заданные переменные не перезаписываются
	_ = godotenv.Load()
	return LoadFile(os.Getenv(ConfigFileEnv))
}

// LoadFile загружает конфигурацию из env и YAML файла path (пустой - только env)
func LoadFile(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &models.ConfigurationError{Field: "config_file", Reason: path, Err: err}
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	cfg.File = path
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetConfigType("yaml")
	for key, value := range defaults {
		v.SetDefault(key, value)
		// key -> BEOMBONG_<KEY>
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
	return v
}

// parser читает значения viper, запоминая первую ошибку
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = &models.ConfigurationError{Field: key, Err: err}
	}
}

func (p *parser) str(key string) string {
	return strings.TrimSpace(p.v.GetString(key))
}

func (p *parser) decimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(p.str(key))
	if err != nil {
		p.fail(key, err)
		return decimal.Zero
	}
	return d
}

func (p *parser) duration(key string) time.Duration {
	d, err := time.ParseDuration(p.str(key))
	if err != nil {
		p.fail(key, err)
	}
	return d
}

func (p *parser) int(key string) int {
	n, err := strconv.Atoi(p.str(key))
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) bool(key string) bool {
	b, err := strconv.ParseBool(p.str(key))
	if err != nil {
		p.fail(key, err)
	}
	return b
}

// list - YAML список или строка через запятую (env)
func (p *parser) list(key string) []string {
	raw := p.v.GetStringSlice(key)
	if s, ok := p.v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func fromViper(v *viper.Viper) (*Config, error) {
	p := &parser{v: v}

	cfg := &Config{
		Server: ServerConfig{
			Host:             p.str("api_host"),
			Port:             p.int("api_port"),
			WebSocketEnabled: p.bool("websocket_enabled"),
			AllowedOrigins:   p.list("api_allowed_origins"),
		},
		Database: DatabaseConfig{
			URL: p.str("database_url"),
		},
		Security: SecurityConfig{
			APITokenHash: p.str("api_token_hash"),
		},
		Exchange: ExchangeConfig{
			BaseURL:      p.str("bithumb_base_url"),
			WSURL:        p.str("bithumb_ws_url"),
			APIKey:       p.str("bithumb_api_key"),
			APISecret:    p.str("bithumb_api_secret"),
			HTTPTimeout:  p.duration("http_timeout"),
			Paper:        p.bool("paper_trading"),
			PaperCash:    p.decimal("paper_cash"),
			PaperFeeRate: p.decimal("paper_fee_rate"),
		},
		Trading: TradingConfig{
			Market:            strings.ToUpper(p.str("trading_market")),
			CandleInterval:    p.duration("candle_interval"),
			CandleCount:       p.int("candle_count"),
			StrategyWindow:    p.int("strategy_window"),
			BreakoutThreshold: p.decimal("breakout_threshold"),
		},
		Schedule: ScheduleConfig{
			TriggerMode:     models.TriggerSource(strings.ToLower(p.str("trigger_mode"))),
			TradingInterval: p.duration("trading_interval"),
			Timezone:        p.str("scheduler_timezone"),
		},
		Risk: models.RiskLimits{
			MaxPositionSize:      p.decimal("max_position_size"),
			MaxOrderNotional:     p.decimal("max_order_notional"),
			MaxDailyLoss:         p.decimal("max_daily_loss"),
			CooldownAfterLoss:    p.duration("cooldown_after_loss"),
			DailyLossLimitPct:    p.decimal("daily_loss_limit_pct"),
			MaxConsecutiveLosses: p.int("max_consecutive_losses"),
			MinOrderNotional:     p.decimal("min_order_notional"),
			MinCashReservePct:    p.decimal("min_cash_reserve_pct"),
			EquityFraction:       p.decimal("equity_fraction"),
			QuantityStep:         p.decimal("quantity_step"),
			AllowShort:           p.bool("allow_short"),
		},
		Orders: OrderConfig{
			FillTimeout:       p.duration("order_fill_timeout"),
			PollInterval:      p.duration("order_poll_interval"),
			AuditFlushTimeout: p.duration("audit_flush_timeout"),
		},
		Notify: NotifyConfig{
			SlackWebhookURL:       p.str("slack_webhook_url"),
			NotificationRetention: p.duration("notification_retention"),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(p.str("log_level")),
			Format: strings.ToLower(p.str("log_format")),
			Output: p.str("log_output"),
		},
		Profiling: ProfilingConfig{
			PyroscopeURL: p.str("pyroscope_url"),
			AppName:      p.str("pyroscope_app"),
		},
	}
	if p.err != nil {
		return nil, p.err
	}

	loc, err := utils.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, &models.ConfigurationError{Field: "scheduler_timezone", Err: err}
	}
	cfg.Schedule.Location = loc

	at, err := utils.ParseClock(p.str("daily_report_time"))
	if err != nil {
		return nil, &models.ConfigurationError{Field: "daily_report_time", Err: err}
	}
	cfg.Schedule.DailyReportTime = at

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(field, reason string, args ...interface{}) error {
	return &models.ConfigurationError{Field: field, Reason: fmt.Sprintf(reason, args...)}
}

// Validate проверяет значения. Ошибка - *models.ConfigurationError.
func (c *Config) Validate() error {
	if err := c.validateExchange(); err != nil {
		return err
	}
	if err := c.validateTrading(); err != nil {
		return err
	}
	if err := c.validateRisk(); err != nil {
		return err
	}
	return c.validateServer()
}

func (c *Config) validateExchange() error {
	e := c.Exchange
	if !e.Paper && (e.APIKey == "" || e.APISecret == "") {
		return invalid("bithumb_api_key", "api key and secret are required when paper_trading is false")
	}
	if e.Paper && !e.PaperCash.IsPositive() {
		return invalid("paper_cash", "must be positive, got %s", e.PaperCash)
	}
	if e.PaperFeeRate.IsNegative() || e.PaperFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return invalid("paper_fee_rate", "must be in [0, 1), got %s", e.PaperFeeRate)
	}
	if e.HTTPTimeout <= 0 {
		return invalid("http_timeout", "must be positive, got %v", e.HTTPTimeout)
	}
	return nil
}

func (c *Config) validateTrading() error {
	t := c.Trading
	if err := utils.ValidateMarket(t.Market); err != nil {
		return &models.ConfigurationError{Field: "trading_market", Err: err}
	}
	if _, err := exchange.BithumbInterval(t.CandleInterval); err != nil {
		return &models.ConfigurationError{Field: "candle_interval", Err: err}
	}
	if t.StrategyWindow < 2 {
		return invalid("strategy_window", "must be at least 2, got %d", t.StrategyWindow)
	}
	if t.CandleCount < t.StrategyWindow {
		return invalid("candle_count", "must be at least strategy_window (%d), got %d", t.StrategyWindow, t.CandleCount)
	}
	if t.BreakoutThreshold.IsNegative() || t.BreakoutThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return invalid("breakout_threshold", "must be in [0, 1), got %s", t.BreakoutThreshold)
	}

	s := c.Schedule
	if s.TriggerMode != models.TriggerInterval && s.TriggerMode != models.TriggerCandle {
		return invalid("trigger_mode", "must be interval or candle, got %q", s.TriggerMode)
	}
	if s.TradingInterval < time.Second {
		return invalid("trading_interval", "must be at least 1s, got %v", s.TradingInterval)
	}

	o := c.Orders
	if o.FillTimeout <= 0 {
		return invalid("order_fill_timeout", "must be positive, got %v", o.FillTimeout)
	}
	if o.PollInterval <= 0 || o.PollInterval > o.FillTimeout {
		return invalid("order_poll_interval", "must be in (0, order_fill_timeout], got %v", o.PollInterval)
	}
	if o.AuditFlushTimeout <= 0 {
		return invalid("audit_flush_timeout", "must be positive, got %v", o.AuditFlushTimeout)
	}
	return nil
}

func (c *Config) validateRisk() error {
	r := c.Risk
	one := decimal.NewFromInt(1)

	if !r.MaxPositionSize.IsPositive() {
		return invalid("max_position_size", "must be positive, got %s", r.MaxPositionSize)
	}
	if !r.MaxOrderNotional.IsPositive() {
		return invalid("max_order_notional", "must be positive, got %s", r.MaxOrderNotional)
	}
	if r.MaxDailyLoss.IsNegative() {
		return invalid("max_daily_loss", "cannot be negative, got %s", r.MaxDailyLoss)
	}
	if r.DailyLossLimitPct.IsNegative() || r.DailyLossLimitPct.GreaterThanOrEqual(one) {
		return invalid("daily_loss_limit_pct", "must be in [0, 1), got %s", r.DailyLossLimitPct)
	}
	if r.CooldownAfterLoss < 0 {
		return invalid("cooldown_after_loss", "cannot be negative, got %v", r.CooldownAfterLoss)
	}
	if r.MaxConsecutiveLosses < 0 {
		return invalid("max_consecutive_losses", "cannot be negative, got %d", r.MaxConsecutiveLosses)
	}
	if r.MinOrderNotional.IsNegative() {
		return invalid("min_order_notional", "cannot be negative, got %s", r.MinOrderNotional)
	}
	if r.MinOrderNotional.GreaterThan(r.MaxOrderNotional) {
		return invalid("min_order_notional", "exceeds max_order_notional (%s)", r.MaxOrderNotional)
	}
	if r.MinCashReservePct.IsNegative() || r.MinCashReservePct.GreaterThanOrEqual(one) {
		return invalid("min_cash_reserve_pct", "must be in [0, 1), got %s", r.MinCashReservePct)
	}
	if !r.EquityFraction.IsPositive() || r.EquityFraction.GreaterThan(one) {
		return invalid("equity_fraction", "must be in (0, 1], got %s", r.EquityFraction)
	}
	if !r.QuantityStep.IsPositive() {
		return invalid("quantity_step", "must be positive, got %s", r.QuantityStep)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("api_port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Security.APITokenHash != "" {
		if err := crypto.ValidateHash(c.Security.APITokenHash); err != nil {
			return &models.ConfigurationError{Field: "api_token_hash", Err: err}
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log_level", "unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid("log_format", "must be json or text, got %q", c.Logging.Format)
	}
	if c.Notify.NotificationRetention < 0 {
		return invalid("notification_retention", "cannot be negative, got %v", c.Notify.NotificationRetention)
	}
	return nil
}

// ============ Конвертеры в настройки компонентов ============

// Addr - адрес HTTP сервера
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// LogConfig - настройки zap логгера
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// Strategy - стратегия пробоя с текущим порогом
func (c *Config) Strategy() strategy.Evaluator {
	return strategy.NewMomentum(c.Trading.BreakoutThreshold)
}

// EngineConfig - настройки оркестратора
func (c *Config) EngineConfig() bot.EngineConfig {
	exec := bot.DefaultExecutorConfig()
	exec.AckTimeout = c.Exchange.HTTPTimeout
	exec.FillTimeout = c.Orders.FillTimeout
	exec.PollInterval = c.Orders.PollInterval

	return bot.EngineConfig{
		Market:            c.Trading.Market,
		Paper:             c.Exchange.Paper,
		TriggerMode:       c.Schedule.TriggerMode,
		Interval:          c.Schedule.TradingInterval,
		WindowSize:        c.Trading.StrategyWindow,
		Limits:            c.Risk,
		AuditFlushTimeout: c.Orders.AuditFlushTimeout,
		Executor:          exec,
		Location:          c.Schedule.Location,
	}
}

// BithumbConfig - настройки REST клиента
func (c *Config) BithumbConfig() exchange.BithumbConfig {
	return exchange.BithumbConfig{
		BaseURL:     c.Exchange.BaseURL,
		APIKey:      c.Exchange.APIKey,
		APISecret:   c.Exchange.APISecret,
		HTTPTimeout: c.Exchange.HTTPTimeout,
	}
}

// PaperConfig - бумажная биржа; data - источник публичных цен и свечей
func (c *Config) PaperConfig(data exchange.Exchange) exchange.PaperConfig {
	return exchange.PaperConfig{
		Market:     c.Trading.Market,
		Cash:       c.Exchange.PaperCash,
		FeeRate:    c.Exchange.PaperFeeRate,
		MarketData: data,
	}
}

// PollerConfig - опрос свечей
func (c *Config) PollerConfig() market.PollerConfig {
	return market.PollerConfig{
		Market:   c.Trading.Market,
		Interval: c.Trading.CandleInterval,
		Count:    c.Trading.CandleCount,
	}
}

// ReportConfig - ежедневный отчёт
func (c *Config) ReportConfig() service.ReportConfig {
	return service.ReportConfig{
		Market:   c.Trading.Market,
		At:       c.Schedule.DailyReportTime,
		Location: c.Schedule.Location,
	}
}

// Redacted - копия без секретов для логов и аудита
func (c *Config) Redacted() map[string]interface{} {
	secret := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	return map[string]interface{}{
		"market":             c.Trading.Market,
		"paper":              c.Exchange.Paper,
		"trigger_mode":       c.Schedule.TriggerMode,
		"trading_interval":   c.Schedule.TradingInterval.String(),
		"candle_interval":    c.Trading.CandleInterval.String(),
		"strategy_window":    c.Trading.StrategyWindow,
		"breakout_threshold": c.Trading.BreakoutThreshold.String(),
		"risk":               c.Risk,
		"timezone":           c.Schedule.Timezone,
		"daily_report_time":  c.Schedule.DailyReportTime.String(),
		"database":           secret(c.Database.URL),
		"slack":              secret(c.Notify.SlackWebhookURL),
		"api_key":            secret(c.Exchange.APIKey),
		"api_auth":           c.Security.APITokenHash != "",
		"config_file":        c.File,
	}
}
