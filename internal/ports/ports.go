package ports

import (
	"context"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/events"
)

// PriceFeed 行情数据源。取不到价返回错误，由调用方按「死数据」处理，
// 不允许阻塞超过调用方给定的超时。
type PriceFeed interface {
	// Price 返回 token 最新价格（SOL）
	Price(ctx context.Context, mint string) (float64, error)
	// Stats 返回二级确认信号（runner 升级用）
	Stats(ctx context.Context, mint string) (*domain.TokenStats, error)
}

// StreamFeed 可按 mint 维护推送订阅的行情源（可选能力）。
// 实现须幂等且不阻塞调用方。
type StreamFeed interface {
	Watch(mint string)
	Unwatch(mint string)
}

// Executor 执行层。失败即「无状态变更」：核心只记日志，不自动重试。
type Executor interface {
	Buy(ctx context.Context, order *domain.TradeOrder) (*domain.FillResult, error)
	Sell(ctx context.Context, pos *domain.Position, fractionPct float64, reason string) (*domain.SellResult, error)
}

// BalanceSource 外部余额查询，仅用于账本对账，不直接参与闸口判断
type BalanceSource interface {
	BalanceSOL(ctx context.Context) (float64, error)
}

// TradeStore 成交历史存储（核心视角 fire-and-forget）
type TradeStore interface {
	SaveTrade(ctx context.Context, rec *domain.TradeRecord) error
}

// Notifier 通知出口：尽力而为，绝不阻塞核心
type Notifier interface {
	Notify(evt events.Event)
}

// NopNotifier 空实现（通知未启用时使用）
type NopNotifier struct{}

func (NopNotifier) Notify(events.Event) {}

// NopTradeStore 空实现
type NopTradeStore struct{}

func (NopTradeStore) SaveTrade(context.Context, *domain.TradeRecord) error { return nil }
