package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"tradebot/internal/models"
	"tradebot/pkg/ratelimit"
	"tradebot/pkg/utils"
)

const (
	bithumbName     = "bithumb"
	bithumbBaseURL  = "https://api.bithumb.com"
	bithumbStatusOK = "0000"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// коды ошибок Bithumb, означающие проблему с ключами
var bithumbAuthCodes = map[string]bool{
	"5200": true, // Not Member
	"5300": true, // Invalid Apikey
}

// временные коды Bithumb
var bithumbTransientCodes = map[string]bool{
	"5400": true, // Database Fail
	"5900": true, // Unknown Error
}

// BithumbConfig настройки клиента Bithumb
type BithumbConfig struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	HTTPTimeout time.Duration
}

// Bithumb реализует Exchange для биржи Bithumb (REST API v1)
type Bithumb struct {
	baseURL   string
	apiKey    string
	apiSecret string

	httpClient *HTTPClient
	limiter    *ratelimit.MultiLimiter

	nonce  func() string
	now    func() time.Time
	logger *utils.Logger
}

// NewBithumb создаёт клиент Bithumb
func NewBithumb(cfg BithumbConfig) *Bithumb {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = bithumbBaseURL
	}

	httpCfg := DefaultHTTPClientConfig()
	if cfg.HTTPTimeout > 0 {
		httpCfg.TotalTimeout = cfg.HTTPTimeout
		httpCfg.ReadTimeout = cfg.HTTPTimeout
	}

	return &Bithumb{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: NewHTTPClient(httpCfg),
		limiter:    ratelimit.NewBithumbLimiter(),
		nonce: func() string {
			return strconv.FormatInt(time.Now().UnixMilli(), 10)
		},
		now:    time.Now,
		logger: utils.L().WithComponent("bithumb"),
	}
}

func (b *Bithumb) GetName() string {
	return bithumbName
}

// ============================================================
// Подпись и транспорт
// ============================================================

// formField пара ключ-значение формы с сохранением порядка
type formField struct {
	key, value string
}

// encodeForm кодирует форму в порядке полей (как urlencode)
func encodeForm(fields []formField) string {
	var sb strings.Builder
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(f.key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.value))
	}
	return sb.String()
}

// sign подписывает приватный запрос:
// base64(HMAC-SHA512(secret, endpoint + "\x00" + body + "\x00" + nonce))
func (b *Bithumb) sign(endpoint, encodedBody, nonce string) string {
	payload := endpoint + "\x00" + encodedBody + "\x00" + nonce
	h := hmac.New(sha512.New, []byte(b.apiSecret))
	h.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// bithumbEnvelope общая обёртка ответа
type bithumbEnvelope struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	OrderID string              `json:"order_id"`
	Data    jsoniter.RawMessage `json:"data"`
}

// doPublic выполняет публичный GET
func (b *Bithumb) doPublic(ctx context.Context, op, path string) (*bithumbEnvelope, error) {
	if err := b.limiter.Wait(ctx, ratelimit.CategoryPublic); err != nil {
		return nil, NewTransient(bithumbName, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: op, Kind: Permanent, Original: err}
	}
	req.Header.Set("Accept", "application/json")

	return b.send(op, req)
}

// doPrivate выполняет подписанный POST
func (b *Bithumb) doPrivate(ctx context.Context, op, category, endpoint string, params []formField) (*bithumbEnvelope, error) {
	if b.apiKey == "" || b.apiSecret == "" {
		return nil, &ExchangeError{
			Exchange: bithumbName,
			Op:       op,
			Kind:     Permanent,
			Message:  "api key and secret are required",
			Original: &models.UnrecoverableAuthError{Op: op, Err: errors.New("missing credentials")},
		}
	}

	if err := b.limiter.Wait(ctx, category); err != nil {
		return nil, NewTransient(bithumbName, op, err)
	}

	fields := append([]formField{{"endpoint", endpoint}}, params...)
	body := encodeForm(fields)
	nonce := b.nonce()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, strings.NewReader(body))
	if err != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: op, Kind: Permanent, Original: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Api-Key", b.apiKey)
	req.Header.Set("Api-Sign", b.sign(endpoint, body, nonce))
	req.Header.Set("Api-Nonce", nonce)

	return b.send(op, req)
}

func (b *Bithumb) send(op string, req *http.Request) (*bithumbEnvelope, error) {
	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, &ExchangeError{Exchange: bithumbName, Op: op, Kind: Transient, Original: ctxErr}
		}
		return nil, NewTransient(bithumbName, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient(bithumbName, op, err)
	}

	b.logger.Debug("bithumb request",
		utils.String("op", op),
		utils.Int("http_status", resp.StatusCode),
		utils.Latency(float64(time.Since(start).Microseconds())/1000),
	)

	var env bithumbEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode != http.StatusOK {
		return nil, b.httpError(op, resp.StatusCode, env)
	}
	if decodeErr != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: op, Kind: Transient, Message: "invalid response body", Original: decodeErr}
	}
	if env.Status != "" && env.Status != bithumbStatusOK {
		return nil, b.statusError(op, env.Status, env.Message)
	}
	return &env, nil
}

func (b *Bithumb) httpError(op string, code int, env bithumbEnvelope) error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(code)
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &ExchangeError{
			Exchange: bithumbName, Op: op, Kind: Permanent, Code: strconv.Itoa(code), Message: msg,
			Original: &models.UnrecoverableAuthError{Op: op, Err: errors.New(msg)},
		}
	case code == http.StatusTooManyRequests || code >= 500:
		return &ExchangeError{Exchange: bithumbName, Op: op, Kind: Transient, Code: strconv.Itoa(code), Message: msg}
	default:
		if env.Status != "" && env.Status != bithumbStatusOK {
			return b.statusError(op, env.Status, msg)
		}
		return &ExchangeError{Exchange: bithumbName, Op: op, Kind: Permanent, Code: strconv.Itoa(code), Message: msg}
	}
}

func (b *Bithumb) statusError(op, status, message string) error {
	if bithumbAuthCodes[status] {
		return &ExchangeError{
			Exchange: bithumbName, Op: op, Kind: Permanent, Code: status, Message: message,
			Original: &models.UnrecoverableAuthError{Op: op, Err: fmt.Errorf("[%s] %s", status, message)},
		}
	}
	kind := Permanent
	if bithumbTransientCodes[status] {
		kind = Transient
	}
	return &ExchangeError{Exchange: bithumbName, Op: op, Kind: kind, Code: status, Message: message}
}

// ============================================================
// Публичные данные
// ============================================================

// GetTicker текущая цена /public/ticker/{market}
func (b *Bithumb) GetTicker(ctx context.Context, market string) (*Ticker, error) {
	env, err := b.doPublic(ctx, "ticker", "/public/ticker/"+market)
	if err != nil {
		return nil, err
	}

	var data struct {
		ClosingPrice string `json:"closing_price"`
		Date         string `json:"date"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: "ticker", Kind: Transient, Message: "invalid ticker payload", Original: err}
	}

	price, err := decimal.NewFromString(data.ClosingPrice)
	if err != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: "ticker", Kind: Transient, Message: "invalid closing_price", Original: err}
	}

	ts := b.now()
	if ms, err := strconv.ParseInt(data.Date, 10, 64); err == nil {
		ts = utils.FromUnixMillis(ms)
	}
	return &Ticker{Market: market, LastPrice: price, Timestamp: ts}, nil
}

// bithumbIntervals поддерживаемые интервалы свечей
var bithumbIntervals = map[time.Duration]string{
	time.Minute:      "1m",
	3 * time.Minute:  "3m",
	5 * time.Minute:  "5m",
	10 * time.Minute: "10m",
	30 * time.Minute: "30m",
	time.Hour:        "1h",
	6 * time.Hour:    "6h",
	12 * time.Hour:   "12h",
	24 * time.Hour:   "24h",
}

// BithumbInterval возвращает код интервала Bithumb
func BithumbInterval(interval time.Duration) (string, error) {
	code, ok := bithumbIntervals[interval]
	if !ok {
		return "", fmt.Errorf("unsupported candle interval %s", interval)
	}
	return code, nil
}

var numberJSON = jsoniter.Config{UseNumber: true}.Froze()

// GetCandles закрытые свечи /public/candlestick/{market}/{interval}
//
// Строка ответа: [open_time_ms, open, close, high, low, volume, value].
// Незакрытая последняя свеча отбрасывается.
func (b *Bithumb) GetCandles(ctx context.Context, market string, interval time.Duration, limit int) ([]models.Candle, error) {
	code, err := BithumbInterval(interval)
	if err != nil {
		return nil, NewPermanent(bithumbName, "candles", "", err.Error())
	}

	env, err := b.doPublic(ctx, "candles", "/public/candlestick/"+market+"/"+code)
	if err != nil {
		return nil, err
	}

	var rows [][]interface{}
	if err := numberJSON.Unmarshal(env.Data, &rows); err != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: "candles", Kind: Transient, Message: "invalid candlestick payload", Original: err}
	}

	now := b.now()
	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseBithumbCandle(market, interval, row)
		if err != nil {
			return nil, &ExchangeError{Exchange: bithumbName, Op: "candles", Kind: Transient, Message: "invalid candle row", Original: err}
		}
		if c.CloseTime.After(now) {
			continue
		}
		candles = append(candles, c)
	}

	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func parseBithumbCandle(market string, interval time.Duration, row []interface{}) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
	}

	ms, err := strconv.ParseInt(fmt.Sprint(row[0]), 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}

	vals := make([]decimal.Decimal, 5)
	for i := range vals {
		v, err := decimal.NewFromString(fmt.Sprint(row[i+1]))
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	openTime := utils.FromUnixMillis(ms)
	return models.Candle{
		Market:    market,
		Open:      vals[0],
		Close:     vals[1],
		High:      vals[2],
		Low:       vals[3],
		Volume:    vals[4],
		OpenTime:  openTime,
		CloseTime: openTime.Add(interval),
	}, nil
}

// ============================================================
// Приватные методы
// ============================================================

// GetBalance баланс /info/balance
func (b *Bithumb) GetBalance(ctx context.Context, market string) (*Balance, error) {
	base, quote, err := utils.SplitMarket(market)
	if err != nil {
		return nil, NewPermanent(bithumbName, "balance", "", err.Error())
	}

	env, err := b.doPrivate(ctx, "balance", ratelimit.CategoryPrivate, "/info/balance", []formField{
		{"currency", base},
		{"payment_currency", quote},
	})
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := numberJSON.Unmarshal(env.Data, &data); err != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: "balance", Kind: Transient, Message: "invalid balance payload", Original: err}
	}

	field := func(key string) decimal.Decimal {
		v, ok := data[key]
		if !ok || v == nil {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(fmt.Sprint(v))
		if err != nil {
			return decimal.Zero
		}
		return d
	}

	b0, q0 := strings.ToLower(base), strings.ToLower(quote)
	return &Balance{
		QuoteCurrency:  quote,
		QuoteAvailable: field("available_" + q0),
		QuoteTotal:     field("total_" + q0),
		BaseCurrency:   base,
		BaseAvailable:  field("available_" + b0),
		BaseTotal:      field("total_" + b0),
		BaseAvgPrice:   field("xcoin_last_" + b0),
	}, nil
}

func bithumbSide(side models.OrderSide) string {
	if side == models.SideSell {
		return "ask"
	}
	return "bid"
}

// PlaceOrder размещает ордер
//
// Рыночный: /trade/market_buy или /trade/market_sell. Лимитный: /trade/place.
func (b *Bithumb) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	base, quote, err := utils.SplitMarket(req.Market)
	if err != nil {
		return nil, NewPermanent(bithumbName, "place", "", err.Error())
	}
	if !req.Side.Valid() {
		return nil, NewPermanent(bithumbName, "place", "", fmt.Sprintf("invalid side %q", req.Side))
	}
	if !req.Quantity.IsPositive() {
		return nil, NewPermanent(bithumbName, "place", "", "quantity must be positive")
	}

	var (
		endpoint string
		params   []formField
	)
	if req.Price == nil {
		endpoint = "/trade/market_buy"
		if req.Side == models.SideSell {
			endpoint = "/trade/market_sell"
		}
		params = []formField{
			{"units", req.Quantity.String()},
			{"order_currency", base},
			{"payment_currency", quote},
		}
	} else {
		endpoint = "/trade/place"
		params = []formField{
			{"order_currency", base},
			{"payment_currency", quote},
			{"type", bithumbSide(req.Side)},
			{"units", req.Quantity.String()},
			{"price", req.Price.String()},
		}
	}

	env, err := b.doPrivate(ctx, "place", ratelimit.CategoryTrade, endpoint, params)
	if err != nil {
		return nil, err
	}

	orderID := env.OrderID
	if orderID == "" && len(env.Data) > 0 {
		var data struct {
			OrderID string `json:"order_id"`
		}
		if json.Unmarshal(env.Data, &data) == nil {
			orderID = data.OrderID
		}
	}
	if orderID == "" {
		return nil, NewPermanent(bithumbName, "place", "", "response has no order_id")
	}

	b.logger.Info("order placed",
		utils.OrderID(req.ClientOrderID),
		utils.String("exchange_order_id", orderID),
		utils.Side(string(req.Side)),
		utils.Quantity(req.Quantity),
	)
	return &OrderAck{ExchangeOrderID: orderID, AcceptedAt: b.now()}, nil
}

// bithumbOrderDetail ответ /info/order_detail
type bithumbOrderDetail struct {
	OrderStatus string `json:"order_status"` // Pending, Completed, Cancel
	OrderQty    string `json:"order_qty"`
	Contract    []struct {
		Price string `json:"price"`
		Units string `json:"units"`
		Fee   string `json:"fee"`
	} `json:"contract"`
}

// GetOrderStatus накопленное исполнение /info/order_detail
func (b *Bithumb) GetOrderStatus(ctx context.Context, market, exchangeOrderID string, side models.OrderSide) (*OrderState, error) {
	base, quote, err := utils.SplitMarket(market)
	if err != nil {
		return nil, NewPermanent(bithumbName, "status", "", err.Error())
	}

	env, err := b.doPrivate(ctx, "status", ratelimit.CategoryPrivate, "/info/order_detail", []formField{
		{"order_id", exchangeOrderID},
		{"order_currency", base},
		{"payment_currency", quote},
	})
	if err != nil {
		return nil, err
	}

	var detail bithumbOrderDetail
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		return nil, &ExchangeError{Exchange: bithumbName, Op: "status", Kind: Transient, Message: "invalid order_detail payload", Original: err}
	}

	return parseOrderDetail(exchangeOrderID, detail, b.now())
}

func parseOrderDetail(id string, detail bithumbOrderDetail, now time.Time) (*OrderState, error) {
	filled, cost, fee := decimal.Zero, decimal.Zero, decimal.Zero
	for _, c := range detail.Contract {
		units, err := decimal.NewFromString(c.Units)
		if err != nil {
			return nil, &ExchangeError{Exchange: bithumbName, Op: "status", Kind: Transient, Message: "invalid contract units", Original: err}
		}
		price, err := decimal.NewFromString(c.Price)
		if err != nil {
			return nil, &ExchangeError{Exchange: bithumbName, Op: "status", Kind: Transient, Message: "invalid contract price", Original: err}
		}
		if f, err := decimal.NewFromString(c.Fee); err == nil {
			fee = fee.Add(f)
		}
		filled = filled.Add(units)
		cost = cost.Add(units.Mul(price))
	}

	state := &OrderState{
		ExchangeOrderID: id,
		State:           ExecOpen,
		FilledQuantity:  filled,
		Fee:             fee,
		UpdatedAt:       now,
	}
	if filled.IsPositive() {
		state.AveragePrice = cost.Div(filled)
	}

	switch strings.ToLower(detail.OrderStatus) {
	case "completed":
		state.State = ExecFilled
	case "cancel", "cancelled", "canceled":
		state.State = ExecCancelled
	}
	if qty, err := decimal.NewFromString(detail.OrderQty); err == nil && qty.IsPositive() && filled.GreaterThanOrEqual(qty) {
		state.State = ExecFilled
	}
	return state, nil
}

// CancelOrder отменяет ордер /trade/cancel
func (b *Bithumb) CancelOrder(ctx context.Context, market, exchangeOrderID string, side models.OrderSide) error {
	base, quote, err := utils.SplitMarket(market)
	if err != nil {
		return NewPermanent(bithumbName, "cancel", "", err.Error())
	}

	_, err = b.doPrivate(ctx, "cancel", ratelimit.CategoryTrade, "/trade/cancel", []formField{
		{"type", bithumbSide(side)},
		{"order_id", exchangeOrderID},
		{"order_currency", base},
		{"payment_currency", quote},
	})
	return err
}

// Close закрывает idle соединения
func (b *Bithumb) Close() error {
	b.httpClient.Close()
	return nil
}
