package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// NotificationStore - хранилище журнала уведомлений
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	GetRecent(ctx context.Context, limit int) ([]*models.Notification, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// MessageSender - внешний канал доставки (Slack)
type MessageSender interface {
	Enabled() bool
	Send(ctx context.Context, text string) error
}

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// NotificationService доставляет уведомления бота.
//
// Отвечает за:
// - Запись в журнал notifications
// - Отправку в Slack
// - Broadcast через WebSocket (только Publish: движок рассылает свои уведомления сам)
//
// Доставка best-effort: ошибка одного канала не отменяет остальные.
type NotificationService struct {
	store  NotificationStore
	sender MessageSender
	wsHub  WebSocketBroadcaster
	logger *utils.Logger
}

// NewNotificationService создает сервис. store и sender могут быть nil.
func NewNotificationService(store NotificationStore, sender MessageSender) *NotificationService {
	return &NotificationService{
		store:  store,
		sender: sender,
		logger: utils.L().WithComponent("notifications"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Notify записывает уведомление и отправляет его в Slack
func (s *NotificationService) Notify(ctx context.Context, notif *models.Notification) error {
	if notif == nil {
		return nil
	}
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}
	if !models.ValidSeverity(notif.Severity) {
		notif.Severity = models.SeverityInfo
	}

	var errs []error

	if s.store != nil {
		if err := s.store.Create(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("persist notification: %w", err))
		}
	}

	if s.sender != nil && s.sender.Enabled() {
		if err := s.sender.Send(ctx, FormatNotification(notif)); err != nil {
			errs = append(errs, fmt.Errorf("send notification: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Publish - Notify плюс broadcast клиентам WebSocket
func (s *NotificationService) Publish(ctx context.Context, notif *models.Notification) error {
	err := s.Notify(ctx, notif)
	if s.wsHub != nil && notif != nil {
		s.wsHub.BroadcastNotification(notif)
	}
	return err
}

// GetRecent возвращает последние уведомления из журнала
func (s *NotificationService) GetRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	if s.store == nil {
		return []*models.Notification{}, nil
	}
	return s.store.GetRecent(ctx, limit)
}

// RunCleanup периодически удаляет уведомления старше retention
func (s *NotificationService) RunCleanup(ctx context.Context, every, retention time.Duration) {
	if s.store == nil || every <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.cleanup(ctx, now.Add(-retention))
		}
	}
}

func (s *NotificationService) cleanup(ctx context.Context, before time.Time) {
	deleted, err := s.store.DeleteOlderThan(ctx, before)
	if err != nil {
		s.logger.Warn("notification cleanup failed", utils.Err(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("old notifications removed",
			utils.Int64("deleted", deleted),
			utils.Time("before", before),
		)
	}
}
