package domain

import (
	"time"
)

// ConfidenceTier 机会置信等级（由上游评分器给出）
type ConfidenceTier string

const (
	TierIgnore ConfidenceTier = "ignore" // 噪声，直接丢弃
	TierWatch  ConfidenceTier = "watch"  // 不直接买，进观察列表等形态
	TierLow    ConfidenceTier = "low"
	TierMedium ConfidenceTier = "medium"
	TierHigh   ConfidenceTier = "high"
)

// Actionable 是否允许直接走买入决策
func (t ConfidenceTier) Actionable() bool {
	switch t {
	case TierLow, TierMedium, TierHigh:
		return true
	}
	return false
}

// Opportunity 上游发现的交易机会
type Opportunity struct {
	Mint       string
	Symbol     string
	Score      float64 // 综合评分 [0,100]
	Tier       ConfidenceTier
	Reasons    []string // 评分依据（日志与通知用）
	PriceSOL   float64  // 发现时价格
	DetectedAt time.Time
}

// TokenStats 二级市场信号（runner 升级的确认数据）
type TokenStats struct {
	PriceSOL         float64
	Volume5mSOL      float64
	Volume1hSOL      float64
	Buys5m           int
	Sells5m          int
	PriceChange5mPct float64
	MarketCapSOL     float64
	LiquiditySOL     float64
}

// VolumeAccelerating 近 5 分钟成交量是否跑赢小时均值（1h/12 为 5 分钟基准）
func (s *TokenStats) VolumeAccelerating() bool {
	if s == nil || s.Volume1hSOL <= 0 {
		return false
	}
	return s.Volume5mSOL > s.Volume1hSOL/12.0
}

// BuyPressure 近 5 分钟买单笔数是否压过卖单
func (s *TokenStats) BuyPressure() bool {
	return s != nil && s.Buys5m > s.Sells5m
}
