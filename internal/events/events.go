package events

import (
	"time"

	"github.com/betbot/snipebot/internal/domain"
)

// Kind 事件类型
type Kind string

const (
	KindDetection Kind = "detection"
	KindBuy       Kind = "buy"
	KindClose     Kind = "close"
	KindSummary   Kind = "summary"
	KindRiskAlert Kind = "risk_alert"
	KindStartup   Kind = "startup"
)

// Event 通知事件公共接口
type Event interface {
	EventKind() Kind
}

// DetectionEvent 发现新机会事件
type DetectionEvent struct {
	Opportunity *domain.Opportunity
	Timestamp   time.Time
}

func (e DetectionEvent) EventKind() Kind { return KindDetection }

// BuyEvent 买入成交事件
type BuyEvent struct {
	Position  *domain.Position
	Order     *domain.TradeOrder
	Timestamp time.Time
}

func (e BuyEvent) EventKind() Kind { return KindBuy }

// CloseEvent 平仓事件（盈利/亏损/追踪出场由 Reason 区分）
type CloseEvent struct {
	Record    *domain.TradeRecord
	Partial   bool    // 部分止盈
	Fraction  float64 // 本次卖出的比例（%）
	Timestamp time.Time
}

func (e CloseEvent) EventKind() Kind { return KindClose }

// SummaryEvent 周期汇总事件
type SummaryEvent struct {
	TotalCapitalSOL float64
	DailyPnLSOL     float64
	DailyPnLPct     float64
	OpenPositions   int
	DailyTrades     int
	DailyWins       int
	DailyLosses     int
	Timestamp       time.Time
}

func (e SummaryEvent) EventKind() Kind { return KindSummary }

// RiskAlertEvent 风控告警事件（当日亏损熔断等）
type RiskAlertEvent struct {
	Reason     string
	DailyPnL   float64
	PausedTill time.Time
	Timestamp  time.Time
}

func (e RiskAlertEvent) EventKind() Kind { return KindRiskAlert }

// StartupEvent 启动事件
type StartupEvent struct {
	CapitalSOL float64
	DryRun     bool
	Timestamp  time.Time
}

func (e StartupEvent) EventKind() Kind { return KindStartup }
