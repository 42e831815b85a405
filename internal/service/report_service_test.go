package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

func newTestReportService(src *MockPerformanceSource, pub *MockPublisher, now time.Time) *ReportService {
	loc, _ := time.LoadLocation("Asia/Seoul")
	if loc == nil {
		loc = time.FixedZone("KST", 9*3600)
	}
	s := NewReportService(src, pub, ReportConfig{
		Market:   "BTC_KRW",
		At:       utils.ClockTime{Hour: 8, Minute: 30},
		Location: loc,
	})
	s.now = func() time.Time { return now }
	return s
}

func samplePerformance() *models.DailyPerformance {
	return &models.DailyPerformance{
		Trades:      4,
		Wins:        3,
		Losses:      1,
		WinRate:     decimal.RequireFromString("0.75"),
		RealizedPnL: decimal.RequireFromString("15300.4"),
		BestTrade:   decimal.NewFromInt(9000),
		WorstTrade:  decimal.NewFromInt(-1200),
		Orders:      6,
		Cycles:      96,
	}
}

func TestReportService_Daily(t *testing.T) {
	// 2024-03-01 23:30 UTC = 2024-03-02 08:30 KST
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		date     string
		wantDate string
		wantErr  bool
	}{
		{"текущий торговый день", "", "2024-03-02", false},
		{"явная дата", "2024-02-28", "2024-02-28", false},
		{"неверная дата", "28.02.2024", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &MockPerformanceSource{perf: samplePerformance()}
			svc := newTestReportService(src, &MockPublisher{}, now)

			perf, err := svc.Daily(context.Background(), tt.date)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, получили %v", tt.wantErr, err)
			}
			if tt.wantErr {
				if len(src.calls) != 0 {
					t.Error("при неверной дате не должно быть запроса к БД")
				}
				return
			}
			if perf.Date != tt.wantDate {
				t.Errorf("дата: ожидали %s, получили %s", tt.wantDate, perf.Date)
			}
			day := src.calls[0]
			if got := day.Start.Format("2006-01-02 15:04"); got != tt.wantDate+" 00:00" {
				t.Errorf("начало дня: получили %s", got)
			}
			if day.End.Sub(day.Start) < 24*time.Hour-time.Second {
				t.Errorf("диапазон дня слишком короткий: %v", day.Duration())
			}
		})
	}
}

func TestReportService_SendDaily(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)

	t.Run("успех", func(t *testing.T) {
		pub := &MockPublisher{}
		svc := newTestReportService(&MockPerformanceSource{perf: samplePerformance()}, pub, now)

		if err := svc.SendDaily(context.Background()); err != nil {
			t.Fatalf("SendDaily: %v", err)
		}
		if pub.count() != 1 {
			t.Fatalf("ожидали 1 публикацию, получили %d", pub.count())
		}
		n := pub.published[0]
		if n.Type != models.NotificationTypeReport || n.Severity != models.SeverityInfo {
			t.Errorf("тип/уровень: получили %s/%s", n.Type, n.Severity)
		}
		if n.Meta["trades"] != 4 || n.Meta["realized_pnl"] != "15300.4" {
			t.Errorf("meta: получили %v", n.Meta)
		}
	})

	t.Run("ошибка источника", func(t *testing.T) {
		pub := &MockPublisher{}
		svc := newTestReportService(&MockPerformanceSource{err: errors.New("db down")}, pub, now)

		if err := svc.SendDaily(context.Background()); err == nil {
			t.Fatal("ожидали ошибку")
		}
		if pub.count() != 0 {
			t.Error("при ошибке отчёт не публикуется")
		}
	})
}

func TestReportService_RunStopsOnCancel(t *testing.T) {
	svc := newTestReportService(&MockPerformanceSource{perf: samplePerformance()}, &MockPublisher{}, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run не завершился после отмены")
	}
}

func TestFormatReport(t *testing.T) {
	perf := samplePerformance()
	perf.Market = "BTC_KRW"
	perf.Date = "2024-03-02"

	text := FormatReport(perf)
	for _, part := range []string{"BTC_KRW 2024-03-02", "Realized PnL: 15300", "won 3 / lost 1", "Win rate: 75.0%", "Best trade: 9000", "Worst trade: -1200"} {
		if !strings.Contains(text, part) {
			t.Errorf("ожидали %q в отчёте:\n%s", part, text)
		}
	}

	empty := &models.DailyPerformance{Date: "2024-03-02", Market: "BTC_KRW"}
	if strings.Contains(FormatReport(empty), "Best trade") {
		t.Error("без сделок лучшая/худшая сделка не выводятся")
	}
}
