package domain

import "time"

// OrderSide 订单方向
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderPriority 订单优先级（高分信号走高优先级路由）
type OrderPriority string

const (
	PriorityNormal OrderPriority = "normal"
	PriorityHigh   OrderPriority = "high"
)

// TradeOrder 风控闸口产出、执行层消费的临时订单
// 买入时 AmountSOL 有效；卖出时 FractionPct 有效。
type TradeOrder struct {
	ID          string
	Side        OrderSide
	Mint        string
	Symbol      string
	AmountSOL   float64 // 买入投入资金（SOL）
	FractionPct float64 // 卖出比例（相对剩余仓位，%）
	Reason      string  // 人类可读的下单原因
	Priority    OrderPriority
	Score       float64 // 触发该订单的机会评分
	CreatedAt   time.Time
}

// FillResult 买入成交结果
type FillResult struct {
	Success   bool
	FillPrice float64 // 实际成交价（SOL）
	Quantity  float64 // 实际获得数量
	TxRef     string  // 交易引用（签名/哈希）
}

// SellResult 卖出成交结果
type SellResult struct {
	Success     bool
	SOLReceived float64 // 实际回收的 SOL
	TxRef       string
}
