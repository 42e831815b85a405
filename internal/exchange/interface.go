package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
)

// Exchange определяет интерфейс биржи для торгового ядра
//
// Запрос-ответ без колбэков. Каждый вызов торговых методов завершается
// ошибкой с явным видом Transient или Permanent (см. ExchangeError).
type Exchange interface {
	// GetName возвращает имя биржи
	GetName() string

	// PlaceOrder размещает ордер и возвращает подтверждение с id биржи
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// GetOrderStatus возвращает накопленное исполнение ордера
	GetOrderStatus(ctx context.Context, market, exchangeOrderID string, side models.OrderSide) (*OrderState, error)

	// CancelOrder отменяет неисполненный остаток
	CancelOrder(ctx context.Context, market, exchangeOrderID string, side models.OrderSide) error

	// GetTicker получает текущую цену
	GetTicker(ctx context.Context, market string) (*Ticker, error)

	// GetCandles получает закрытые свечи от старой к новой
	GetCandles(ctx context.Context, market string, interval time.Duration, limit int) ([]models.Candle, error)

	// GetBalance получает баланс котируемой и базовой валют
	GetBalance(ctx context.Context, market string) (*Balance, error)

	// Close закрывает соединения
	Close() error
}

// OrderRequest запрос на размещение ордера
type OrderRequest struct {
	ClientOrderID string
	Market        string
	Side          models.OrderSide
	Quantity      decimal.Decimal
	Price         *decimal.Decimal // nil = рыночный
}

// OrderAck подтверждение размещения
type OrderAck struct {
	ExchangeOrderID string    `json:"exchange_order_id"`
	AcceptedAt      time.Time `json:"accepted_at"`
}

// ExecState состояние ордера на бирже
type ExecState string

const (
	ExecOpen      ExecState = "open"      // принят, исполняется
	ExecFilled    ExecState = "filled"    // исполнен полностью
	ExecCancelled ExecState = "cancelled" // отменён (возможно с частичным исполнением)
	ExecRejected  ExecState = "rejected"  // отклонён биржей
)

// OrderState накопленное исполнение ордера
type OrderState struct {
	ExchangeOrderID string          `json:"exchange_order_id"`
	State           ExecState       `json:"state"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AveragePrice    decimal.Decimal `json:"average_price"`
	Fee             decimal.Decimal `json:"fee"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Ticker содержит информацию о текущей цене
type Ticker struct {
	Market    string          `json:"market"`
	LastPrice decimal.Decimal `json:"last_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Balance баланс аккаунта по паре
type Balance struct {
	QuoteCurrency  string          `json:"quote_currency"`
	QuoteAvailable decimal.Decimal `json:"quote_available"`
	QuoteTotal     decimal.Decimal `json:"quote_total"`
	BaseCurrency   string          `json:"base_currency"`
	BaseAvailable  decimal.Decimal `json:"base_available"`
	BaseTotal      decimal.Decimal `json:"base_total"`
	BaseAvgPrice   decimal.Decimal `json:"base_avg_price"`
}

// ============================================================
// Ошибки
// ============================================================

// ErrorKind вид ошибки биржи
type ErrorKind int

const (
	// Transient - сеть, таймаут, 5xx, rate limit: можно повторить
	Transient ErrorKind = iota
	// Permanent - запрос некорректен или отвергнут: повтор бессмыслен
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Op       string
	Kind     ErrorKind
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	msg := fmt.Sprintf("%s %s (%s)", e.Exchange, e.Op, e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Original != nil {
		msg += ": " + e.Original.Error()
	}
	return msg
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Retryable для pkg/retry
func (e *ExchangeError) Retryable() bool {
	return e.Kind == Transient
}

// IsTransient true если ошибка временная
func IsTransient(err error) bool {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Kind == Transient
	}
	return false
}

// IsPermanent true если ошибка окончательная
func IsPermanent(err error) bool {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Kind == Permanent
	}
	return false
}

// NewTransient создаёт временную ошибку
func NewTransient(exchange, op string, err error) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Op: op, Kind: Transient, Original: err}
}

// NewPermanent создаёт окончательную ошибку
func NewPermanent(exchange, op, code, message string) *ExchangeError {
	return &ExchangeError{Exchange: exchange, Op: op, Kind: Permanent, Code: code, Message: message}
}
