package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradebot/internal/models"
	"tradebot/pkg/utils"
)

// PerformanceSource - агрегаты торгового дня (StatsRepository)
type PerformanceSource interface {
	DailyPerformance(ctx context.Context, market string, day utils.TimeRange, date string) (*models.DailyPerformance, error)
}

// ReportPublisher - канал доставки отчёта (NotificationService)
type ReportPublisher interface {
	Publish(ctx context.Context, notif *models.Notification) error
}

// ReportConfig параметры дневного отчёта
type ReportConfig struct {
	Market   string
	At       utils.ClockTime // время отправки в зоне Location
	Location *time.Location
}

// ReportService формирует дневной отчёт по сделкам и отправляет его по расписанию
type ReportService struct {
	source    PerformanceSource
	publisher ReportPublisher
	cfg       ReportConfig
	now       func() time.Time
	logger    *utils.Logger
}

// NewReportService создаёт сервис отчётов
func NewReportService(source PerformanceSource, publisher ReportPublisher, cfg ReportConfig) *ReportService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ReportService{
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		logger:    utils.L().WithComponent("report").WithMarket(cfg.Market),
	}
}

// Daily возвращает статистику за день YYYY-MM-DD. Пустая дата - текущий торговый день.
func (s *ReportService) Daily(ctx context.Context, date string) (*models.DailyPerformance, error) {
	var (
		day utils.TimeRange
		err error
	)
	if date == "" {
		day = utils.DayRangeIn(s.now(), s.cfg.Location)
		date = utils.TradingDay(s.now(), s.cfg.Location)
	} else {
		day, err = utils.ParseDayRange(date, s.cfg.Location)
		if err != nil {
			return nil, err
		}
	}

	perf, err := s.source.DailyPerformance(ctx, s.cfg.Market, day, date)
	if err != nil {
		return nil, fmt.Errorf("daily performance %s: %w", date, err)
	}
	return perf, nil
}

// SendDaily формирует отчёт за текущий торговый день и публикует его
func (s *ReportService) SendDaily(ctx context.Context) error {
	perf, err := s.Daily(ctx, "")
	if err != nil {
		return err
	}

	notif := &models.Notification{
		Timestamp: s.now(),
		Type:      models.NotificationTypeReport,
		Severity:  models.SeverityInfo,
		Market:    s.cfg.Market,
		Message:   FormatReport(perf),
		Meta: map[string]interface{}{
			"date":         perf.Date,
			"trades":       perf.Trades,
			"wins":         perf.Wins,
			"losses":       perf.Losses,
			"win_rate":     perf.WinRate.String(),
			"realized_pnl": perf.RealizedPnL.String(),
		},
	}
	return s.publisher.Publish(ctx, notif)
}

// Run отправляет отчёт каждый день в cfg.At до отмены ctx
func (s *ReportService) Run(ctx context.Context) {
	for {
		next := utils.NextDailyAt(s.now(), s.cfg.At, s.cfg.Location)
		s.logger.Debug("next daily report scheduled", utils.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := s.SendDaily(sendCtx); err != nil {
			s.logger.Error("daily report failed", utils.Err(err))
		} else {
			s.logger.Info("daily report sent")
		}
		cancel()
	}
}

// FormatReport - текст дневного отчёта
func FormatReport(p *models.DailyPerformance) string {
	lines := []string{
		fmt.Sprintf("Daily report %s %s", p.Market, p.Date),
		fmt.Sprintf("• Realized PnL: %s", p.RealizedPnL.StringFixed(0)),
		fmt.Sprintf("• Trades: %d (won %d / lost %d)", p.Trades, p.Wins, p.Losses),
		fmt.Sprintf("• Win rate: %s%%", p.WinRate.Shift(2).StringFixed(1)),
	}
	if p.Trades > 0 {
		lines = append(lines,
			fmt.Sprintf("• Best trade: %s", p.BestTrade.StringFixed(0)),
			fmt.Sprintf("• Worst trade: %s", p.WorstTrade.StringFixed(0)),
		)
	}
	lines = append(lines, fmt.Sprintf("• Orders: %d, cycles: %d", p.Orders, p.Cycles))
	return strings.Join(lines, "\n")
}
