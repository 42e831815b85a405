package websocket

import (
	"time"

	"tradebot/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeStatus - состояние бота
	// Отправляется при смене состояния, после цикла и периодически
	MessageTypeStatus MessageType = "status"

	// MessageTypeOrder - изменение ордера
	// Отправляется на каждое изменение статуса или исполнение
	MessageTypeOrder MessageType = "order"

	// MessageTypeNotification - новое уведомление
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// StatusMessage - снимок состояния бота
type StatusMessage struct {
	BaseMessage
	Data *models.BotStatus `json:"data"`
}

// OrderMessage - изменение ордера
type OrderMessage struct {
	BaseMessage
	Data *OrderData `json:"data"`
}

// OrderData - данные ордера для клиента (без списка исполнений)
type OrderData struct {
	ID                string    `json:"id"`
	ExchangeOrderID   string    `json:"exchange_order_id,omitempty"`
	Market            string    `json:"market"`
	Side              string    `json:"side"`
	Status            string    `json:"status"`
	RequestedQuantity string    `json:"requested_quantity"`
	RequestedPrice    string    `json:"requested_price,omitempty"`
	FilledQuantity    string    `json:"filled_quantity"`
	AverageFillPrice  string    `json:"average_fill_price"`
	Fills             int       `json:"fills"`
	LastError         string    `json:"last_error,omitempty"`
	CycleID           int64     `json:"cycle_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	// ID уведомления в БД (0, если ещё не записано)
	ID int `json:"id,omitempty"`

	// Тип уведомления (ORDER_FILLED, ORDER_FAILED, RISK_LIMIT, HALTED, ...)
	Type string `json:"type"`

	// Уровень важности (info, warn, error)
	Severity string `json:"severity"`

	Market  string                 `json:"market,omitempty"`
	Message string                 `json:"message"`
	Meta    map[string]interface{} `json:"meta,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ============ Фабричные функции для создания сообщений ============

// NewStatusMessage создает сообщение состояния
func NewStatusMessage(status *models.BotStatus) *StatusMessage {
	return &StatusMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStatus,
			Timestamp: time.Now(),
		},
		Data: status,
	}
}

// NewOrderMessage создает сообщение об ордере
func NewOrderMessage(o *models.Order) *OrderMessage {
	data := &OrderData{
		ID:                o.ID,
		ExchangeOrderID:   o.ExchangeOrderID,
		Market:            o.Market,
		Side:              string(o.Side),
		Status:            string(o.Status),
		RequestedQuantity: o.RequestedQuantity.String(),
		FilledQuantity:    o.FilledQuantity.String(),
		AverageFillPrice:  o.AverageFillPrice.String(),
		Fills:             len(o.Fills),
		LastError:         o.LastError,
		CycleID:           o.CycleID,
		UpdatedAt:         o.LastUpdatedAt,
	}
	if o.RequestedPrice != nil {
		data.RequestedPrice = o.RequestedPrice.String()
	}

	return &OrderMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeOrder,
			Timestamp: time.Now(),
		},
		Data: data,
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:        notif.ID,
			Type:      notif.Type,
			Severity:  notif.Severity,
			Market:    notif.Market,
			Message:   notif.Message,
			Meta:      notif.Meta,
			Timestamp: notif.Timestamp,
		},
	}
}
