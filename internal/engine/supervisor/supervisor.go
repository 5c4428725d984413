package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/events"
	"github.com/betbot/snipebot/internal/ledger"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/internal/ports"
	"github.com/betbot/snipebot/pkg/config"
)

var log = logrus.WithField("module", "supervisor")

// Supervisor 仓位监督器：从成交到平仓全程接管每个仓位。
// 两条独立节奏：快循环做止损与死数据保护，慢循环做档位行为
// （保本/追踪/阶梯/超时）与 runner 升级。
//
// loopMu 串行化两条循环的状态变更：每个 tick 内是单一逻辑控制流，
// 仓位字段的更新不会与自身并发。
type Supervisor struct {
	cfg        *config.Config
	ledger     *ledger.Ledger
	feed       ports.PriceFeed
	streamFeed ports.StreamFeed // 行情源支持推送订阅时非 nil
	exec       ports.Executor
	store      ports.TradeStore
	notifier   ports.Notifier

	loopMu    sync.Mutex
	deadSince map[string]time.Time // mint → 首次取不到价的时间
}

// New 创建监督器
func New(cfg *config.Config, l *ledger.Ledger, feed ports.PriceFeed, exec ports.Executor, store ports.TradeStore, notifier ports.Notifier) *Supervisor {
	if store == nil {
		store = ports.NopTradeStore{}
	}
	if notifier == nil {
		notifier = ports.NopNotifier{}
	}
	sf, _ := feed.(ports.StreamFeed)
	return &Supervisor{
		cfg:        cfg,
		ledger:     l,
		feed:       feed,
		streamFeed: sf,
		exec:       exec,
		store:      store,
		notifier:   notifier,
		deadSince:  make(map[string]time.Time),
	}
}

// Register 登记新成交的仓位（买入成交后由引擎调用）
func (s *Supervisor) Register(pos *domain.Position) {
	if pos == nil {
		return
	}
	s.ledger.RegisterOpen(pos)
	if s.streamFeed != nil {
		s.streamFeed.Watch(pos.Mint)
	}
	log.Infof("📌 登记仓位: %s entry=%.8f capital=%.4f qty=%.2f",
		pos.Symbol, pos.EntryPrice, pos.EntryCapital, pos.Quantity)
}

// ClearTimers 清空辅助计时状态（停机时调用）
func (s *Supervisor) ClearTimers() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	s.deadSince = make(map[string]time.Time)
}

// CloseManual 手动平仓（控制面触发）
func (s *Supervisor) CloseManual(ctx context.Context, mint string) bool {
	pos, ok := s.ledger.Position(mint)
	if !ok {
		return false
	}
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	return s.closeFull(ctx, pos, domain.CloseReasonManual, "manual close")
}

// closeFull 完全平仓剩余仓位。卖出失败时不改任何状态，等下个 tick 再试。
// 返回是否真的完成了平仓。调用方须持有 loopMu。
func (s *Supervisor) closeFull(ctx context.Context, pos *domain.Position, reason domain.CloseReason, detail string) bool {
	if pos == nil || !pos.IsOpen() {
		return false
	}

	res, err := s.exec.Sell(ctx, pos, 100, detail)
	if err != nil || res == nil || !res.Success {
		metrics.SellFailures.Add(1)
		log.Warnf("❌ 平仓执行失败（状态不变，等待下个周期）: %s reason=%s err=%v", pos.Symbol, reason, err)
		return false
	}
	metrics.SellsExecuted.Add(1)

	now := time.Now()
	pos.ExitPrice = pos.CurrentPrice
	pos.ExitTxRef = res.TxRef
	slicePnL, totalPnL := s.ledger.ApplyFullClose(pos, res.SOLReceived, reason)
	delete(s.deadSince, pos.Mint)
	if s.streamFeed != nil {
		s.streamFeed.Unwatch(pos.Mint)
	}

	pnlPct := 0.0
	if pos.EntryCapital > 0 {
		pnlPct = totalPnL / pos.EntryCapital * 100.0
	}
	log.Infof("🔚 平仓完成: %s reason=%s detail=%q slicePnL=%.4f totalPnL=%.4f (%.1f%%)",
		pos.Symbol, reason, detail, slicePnL, totalPnL, pnlPct)

	rec := &domain.TradeRecord{
		PositionID:  pos.ID,
		Mint:        pos.Mint,
		Symbol:      pos.Symbol,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   pos.ExitPrice,
		InvestedSOL: pos.EntryCapital,
		ReturnedSOL: pos.ReturnedSOL,
		PnLSOL:      totalPnL,
		PnLPct:      pnlPct,
		Duration:    now.Sub(pos.EntryTime),
		CloseReason: reason,
		EntryTxRef:  pos.EntryTxRef,
		ExitTxRef:   pos.ExitTxRef,
		EntryScore:  pos.EntryScore,
		WasRunner:   pos.IsRunner,
		ClosedAt:    now,
	}

	// 存储与通知都是 fire-and-forget，绝不阻塞监督循环
	go func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.SaveTrade(saveCtx, rec); err != nil {
			log.Warnf("⚠️ 写入成交记录失败: %s err=%v", rec.Symbol, err)
		}
	}()
	s.notifier.Notify(events.CloseEvent{Record: rec, Timestamp: now})
	return true
}

// closePartial 部分止盈：points 为按原始仓位计的比例点数。
// 调用方须持有 loopMu。
func (s *Supervisor) closePartial(ctx context.Context, pos *domain.Position, points float64, reason domain.CloseReason, detail string) bool {
	if pos == nil || !pos.IsOpen() || points <= 0 {
		return false
	}
	if points > pos.RemainingPct {
		points = pos.RemainingPct
	}

	// 执行层口径是「剩余持仓的百分比」
	fractionOfRemaining := points / pos.RemainingPct * 100.0
	res, err := s.exec.Sell(ctx, pos, fractionOfRemaining, detail)
	if err != nil || res == nil || !res.Success {
		metrics.SellFailures.Add(1)
		log.Warnf("❌ 部分止盈执行失败（状态不变）: %s err=%v", pos.Symbol, err)
		return false
	}
	metrics.SellsExecuted.Add(1)

	slicePnL := s.ledger.ApplyPartialClose(pos, points, res.SOLReceived)
	log.Infof("💰 部分止盈: %s points=%.0f%% proceeds=%.4f slicePnL=%.4f remaining=%.0f%%",
		pos.Symbol, points, res.SOLReceived, slicePnL, pos.RemainingPct)

	s.notifier.Notify(events.CloseEvent{
		Record: &domain.TradeRecord{
			PositionID:  pos.ID,
			Mint:        pos.Mint,
			Symbol:      pos.Symbol,
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   pos.CurrentPrice,
			InvestedSOL: pos.EntryCapital * points / 100.0,
			ReturnedSOL: res.SOLReceived,
			PnLSOL:      slicePnL,
			CloseReason: reason,
			EntryScore:  pos.EntryScore,
			WasRunner:   pos.IsRunner,
			ClosedAt:    time.Now(),
		},
		Partial:   true,
		Fraction:  points,
		Timestamp: time.Now(),
	})
	return true
}
