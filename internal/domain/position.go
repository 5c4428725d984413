package domain

import (
	"time"
)

// PositionStatus 仓位状态
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"    // 全仓持有中
	PositionStatusPartial PositionStatus = "partial" // 已部分止盈
	PositionStatusClosed  PositionStatus = "closed"  // 已关闭（终态）
)

// CloseReason 平仓原因
type CloseReason string

const (
	CloseReasonStopLoss CloseReason = "stop_loss"
	CloseReasonLadder   CloseReason = "profit_ladder"
	CloseReasonTrailing CloseReason = "trailing_exit"
	CloseReasonTimeout  CloseReason = "timeout"
	CloseReasonDeadData CloseReason = "data_loss"
	CloseReasonManual   CloseReason = "manual"
)

// Position 仓位领域模型
// 买入成交时创建；完全平仓后从开放集合移除。
type Position struct {
	ID     string // 仓位 ID
	Mint   string // token mint 地址
	Symbol string // 展示符号

	EntryPrice   float64   // 入场价格（SOL）
	EntryCapital float64   // 入场投入资金（SOL）
	Quantity     float64   // 获得的 token 数量
	EntryTime    time.Time // 入场时间
	EntryScore   float64   // 入场时的机会评分

	CurrentPrice float64 // 最新价格
	HighestPrice float64 // 入场以来最高价（单调高水位，仅在入场时重置）
	PnLPct       float64 // 浮动盈亏（%）
	PnLSOL       float64 // 浮动盈亏（SOL，按剩余仓位计）

	RemainingPct float64 // 剩余仓位比例，[0,100]，仅通过部分止盈递减
	LadderIndex  int     // 止盈阶梯进度（单调不减）
	ReturnedSOL  float64 // 已回收资金累计（含各次部分止盈）

	ExitPrice  float64 // 最终出场价（完全平仓时）
	EntryTxRef string
	ExitTxRef  string

	IsRunner   bool      // 是否已升级为激进模式
	PromotedAt time.Time // 升级时间（如适用）

	Status      PositionStatus
	CloseReason CloseReason
	LastUpdate  time.Time
}

// IsOpen 仓位是否仍在开放集合中（含部分止盈后）
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusPartial
}

// CommittedCapital 仍占用的资金（SOL）= 入场资金 × 剩余比例
func (p *Position) CommittedCapital() float64 {
	return p.EntryCapital * p.RemainingPct / 100.0
}

// RemainingQuantity 剩余 token 数量
func (p *Position) RemainingQuantity() float64 {
	return p.Quantity * p.RemainingPct / 100.0
}

// UpdatePrice 更新最新价、高水位与浮动盈亏
func (p *Position) UpdatePrice(price float64, now time.Time) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.EntryPrice > 0 {
		p.PnLPct = (price - p.EntryPrice) / p.EntryPrice * 100.0
	}
	p.PnLSOL = (price - p.EntryPrice) * p.RemainingQuantity()
	p.LastUpdate = now
}

// PeakPnLPct 高水位对应的峰值盈亏（%）
func (p *Position) PeakPnLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.HighestPrice - p.EntryPrice) / p.EntryPrice * 100.0
}

// DrawdownFromPeakPct 距离高水位的回撤（%，正数表示已回落）
func (p *Position) DrawdownFromPeakPct() float64 {
	if p.HighestPrice <= 0 {
		return 0
	}
	return (p.HighestPrice - p.CurrentPrice) / p.HighestPrice * 100.0
}

// Age 入场以来的持仓时长
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
