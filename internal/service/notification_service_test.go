package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tradebot/internal/models"
)

// ============================================================
// Notify / Publish
// ============================================================

func TestNotificationService_Notify(t *testing.T) {
	tests := []struct {
		name      string
		storeErr  error
		sendErr   error
		disabled  bool
		wantErr   bool
		wantSaved int
		wantSent  int
	}{
		{name: "все каналы", wantSaved: 1, wantSent: 1},
		{name: "slack отключён", disabled: true, wantSaved: 1, wantSent: 0},
		{name: "ошибка БД не отменяет slack", storeErr: errors.New("db down"), wantErr: true, wantSaved: 0, wantSent: 1},
		{name: "ошибка slack", sendErr: errors.New("410 gone"), wantErr: true, wantSaved: 1, wantSent: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMockNotificationStore()
			store.createErr = tt.storeErr
			sender := &MockSender{disabled: tt.disabled, sendErr: tt.sendErr}
			svc := NewNotificationService(store, sender)

			err := svc.Notify(context.Background(), &models.Notification{
				Type:     models.NotificationTypeOrderFilled,
				Severity: models.SeverityInfo,
				Market:   "BTC_KRW",
				Message:  "buy 0.5 BTC_KRW filled at 100",
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, получили %v", tt.wantErr, err)
			}
			if store.count() != tt.wantSaved {
				t.Errorf("записано: ожидали %d, получили %d", tt.wantSaved, store.count())
			}
			if len(sender.messages) != tt.wantSent {
				t.Errorf("отправлено: ожидали %d, получили %d", tt.wantSent, len(sender.messages))
			}
		})
	}
}

func TestNotificationService_NotifyDefaults(t *testing.T) {
	store := NewMockNotificationStore()
	svc := NewNotificationService(store, nil)

	n := &models.Notification{Type: models.NotificationTypeError, Severity: "critical", Message: "x"}
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n.Timestamp.IsZero() {
		t.Error("Timestamp должен заполняться")
	}
	if n.Severity != models.SeverityInfo {
		t.Errorf("неизвестный severity: ожидали info, получили %s", n.Severity)
	}
	if err := svc.Notify(context.Background(), nil); err != nil {
		t.Errorf("nil уведомление: ожидали nil, получили %v", err)
	}
}

func TestNotificationService_Publish(t *testing.T) {
	store := NewMockNotificationStore()
	hub := &MockBroadcaster{}
	svc := NewNotificationService(store, &MockSender{disabled: true})
	svc.SetWebSocketHub(hub)

	n := &models.Notification{Type: models.NotificationTypeReport, Severity: models.SeverityInfo, Message: "report"}
	if err := svc.Publish(context.Background(), n); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(hub.notifications) != 1 || hub.notifications[0] != n {
		t.Errorf("ожидали broadcast уведомления, получили %d", len(hub.notifications))
	}

	// Notify не рассылает в WebSocket
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(hub.notifications) != 1 {
		t.Errorf("Notify не должен делать broadcast, получили %d", len(hub.notifications))
	}
}

func TestNotificationService_GetRecent(t *testing.T) {
	t.Run("без хранилища", func(t *testing.T) {
		list, err := NewNotificationService(nil, nil).GetRecent(context.Background(), 10)
		if err != nil || list == nil || len(list) != 0 {
			t.Errorf("ожидали пустой список, получили %v, %v", list, err)
		}
	})

	t.Run("новые первыми", func(t *testing.T) {
		store := NewMockNotificationStore()
		svc := NewNotificationService(store, nil)
		for _, msg := range []string{"a", "b", "c"} {
			svc.Notify(context.Background(), &models.Notification{Type: models.NotificationTypeError, Message: msg})
		}
		list, err := svc.GetRecent(context.Background(), 2)
		if err != nil {
			t.Fatalf("GetRecent: %v", err)
		}
		if len(list) != 2 || list[0].Message != "c" {
			t.Errorf("ожидали [c b], получили %d записей", len(list))
		}
	})
}

func TestNotificationService_RunCleanup(t *testing.T) {
	store := NewMockNotificationStore()
	store.deleted = 3
	svc := NewNotificationService(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunCleanup(ctx, 10*time.Millisecond, 24*time.Hour)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for store.cleanups() < 2 {
		select {
		case <-deadline:
			t.Fatal("очистка не запускалась")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	store.mu.Lock()
	before := store.before[0]
	store.mu.Unlock()
	if age := time.Since(before); age < 24*time.Hour || age > 25*time.Hour {
		t.Errorf("граница очистки: ожидали ~24h назад, получили %v", age)
	}
}

func TestFormatNotification(t *testing.T) {
	tests := []struct {
		severity string
		market   string
		want     []string
	}{
		{models.SeverityError, "BTC_KRW", []string{":rotating_light:", "*HALTED*", "[BTC_KRW]", "auth failed"}},
		{models.SeverityWarn, "", []string{":warning:", "*HALTED*", "auth failed"}},
		{models.SeverityInfo, "", []string{":information_source:"}},
	}

	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			text := FormatNotification(&models.Notification{
				Type: models.NotificationTypeHalted, Severity: tt.severity, Market: tt.market, Message: "auth failed",
			})
			for _, part := range tt.want {
				if !strings.Contains(text, part) {
					t.Errorf("ожидали %q в %q", part, text)
				}
			}
			if tt.market == "" && strings.Contains(text, "[") {
				t.Errorf("без рынка не должно быть скобок: %q", text)
			}
		})
	}
}
