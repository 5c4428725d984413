package domain

import "time"

// TradeRecord 完整平仓后写入历史存储的成交记录
type TradeRecord struct {
	PositionID  string
	Mint        string
	Symbol      string
	EntryPrice  float64
	ExitPrice   float64
	InvestedSOL float64 // 总投入
	ReturnedSOL float64 // 总回收（含各次部分止盈）
	PnLSOL      float64
	PnLPct      float64
	Duration    time.Duration
	CloseReason CloseReason
	EntryTxRef  string
	ExitTxRef   string
	EntryScore  float64
	WasRunner   bool
	ClosedAt    time.Time
}
