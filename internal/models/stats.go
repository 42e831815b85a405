package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyPerformance итоги торгового дня
type DailyPerformance struct {
	Date        string          `json:"date"` // YYYY-MM-DD в часовом поясе планировщика
	Market      string          `json:"market"`
	Trades      int             `json:"trades"` // закрывающие сделки
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     decimal.Decimal `json:"win_rate"` // 0..1
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	BestTrade   decimal.Decimal `json:"best_trade"`
	WorstTrade  decimal.Decimal `json:"worst_trade"`
	Orders      int             `json:"orders"`
	Cycles      int             `json:"cycles"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// ComputeWinRate пересчитывает долю прибыльных сделок
func (p *DailyPerformance) ComputeWinRate() {
	if p.Trades == 0 {
		p.WinRate = decimal.Zero
		return
	}
	p.WinRate = decimal.NewFromInt(int64(p.Wins)).Div(decimal.NewFromInt(int64(p.Trades))).Round(4)
}
