package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/metrics"
)

type fetchResult struct {
	pos   *domain.Position
	price float64
	err   error
}

// FastTick 快循环：并发取价、串行应用，然后按优先级检查止损与死数据。
// 单个仓位的取价失败只影响该仓位。
func (s *Supervisor) FastTick(ctx context.Context, now time.Time) {
	positions := s.ledger.Positions()
	if len(positions) == 0 {
		return
	}

	timeout := time.Duration(s.cfg.Supervisor.PriceTimeoutMs) * time.Millisecond
	results := make(chan fetchResult, len(positions))
	for _, pos := range positions {
		go func(p *domain.Position) {
			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			price, err := s.feed.Price(fetchCtx, p.Mint)
			results <- fetchResult{pos: p, price: price, err: err}
		}(pos)
	}

	// 应用阶段单线程：仓位状态更新相对自身前值是原子的
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	for range positions {
		r := <-results
		if !r.pos.IsOpen() {
			continue
		}
		if r.err != nil || r.price <= 0 {
			metrics.PriceFetchErrors.Add(1)
			s.handleDeadData(ctx, r.pos, now)
			continue
		}
		// 数据恢复：清掉死数据计时器
		delete(s.deadSince, r.pos.Mint)
		r.pos.UpdatePrice(r.price, now)
		s.checkStops(ctx, r.pos, now)
	}
}

// handleDeadData 取不到价格时的分级处理：
//   - 盈利仓短暂容忍后落袋（涨着的时候瞎了最危险）
//   - 深亏仓基础超时后切掉
//   - 浅亏仓多给一个延长窗口
//   - 无论盈亏，黑洞时长到绝对上限无条件强平
//
// 平仓按最后已知价格执行。调用方须持有 loopMu。
func (s *Supervisor) handleDeadData(ctx context.Context, pos *domain.Position, now time.Time) {
	since, ok := s.deadSince[pos.Mint]
	if !ok {
		s.deadSince[pos.Mint] = now
		log.Warnf("🕳️ 价格数据中断: %s（最后已知 %.8f, pnl=%.1f%%）", pos.Symbol, pos.CurrentPrice, pos.PnLPct)
		return
	}
	dead := now.Sub(since)
	st := &s.cfg.Stops

	if dead >= time.Duration(st.DeadMaxSec)*time.Second {
		log.Warnf("🕳️ 数据中断达绝对上限 %ds，强平: %s", st.DeadMaxSec, pos.Symbol)
		if s.closeFull(ctx, pos, domain.CloseReasonDeadData, fmt.Sprintf("数据中断 %s（绝对上限）", dead.Round(time.Second))) {
			metrics.DeadDataCloses.Add(1)
		}
		return
	}

	switch {
	case pos.PnLPct > 0:
		if dead > time.Duration(st.DeadGraceSec)*time.Second {
			log.Warnf("🕳️ 盈利仓数据中断超宽限 %ds，落袋: %s pnl=%.1f%%", st.DeadGraceSec, pos.Symbol, pos.PnLPct)
			if s.closeFull(ctx, pos, domain.CloseReasonDeadData, "盈利仓数据中断") {
				metrics.DeadDataCloses.Add(1)
			}
		}
	case pos.PnLPct <= st.DeadLossFloorPct:
		if dead > time.Duration(st.DeadBaseTimeoutSec)*time.Second {
			log.Warnf("🕳️ 深亏仓数据中断超时，切掉: %s pnl=%.1f%%", pos.Symbol, pos.PnLPct)
			if s.closeFull(ctx, pos, domain.CloseReasonDeadData, "深亏仓数据中断") {
				metrics.DeadDataCloses.Add(1)
			}
		}
	case pos.PnLPct < 0:
		// 浅亏：基础超时 + 延长窗口
		limit := time.Duration(st.DeadBaseTimeoutSec+st.DeadExtensionSec) * time.Second
		if dead > limit {
			log.Warnf("🕳️ 浅亏仓数据中断超延长窗口，平仓: %s pnl=%.1f%%", pos.Symbol, pos.PnLPct)
			if s.closeFull(ctx, pos, domain.CloseReasonDeadData, "浅亏仓数据中断") {
				metrics.DeadDataCloses.Add(1)
			}
		}
	}
}

// checkStops 按优先级检查止损，命中即平仓退出：
// 速断（非 runner）→ 早期止损 → 硬止损 → 追踪亏损下限 → runner 保本保护。
// 调用方须持有 loopMu。
func (s *Supervisor) checkStops(ctx context.Context, pos *domain.Position, now time.Time) {
	st := &s.cfg.Stops
	age := pos.Age(now)

	// (a) 速断：入场即跌的新仓直接切，runner 豁免
	if !pos.IsRunner && age <= time.Duration(st.QuickCutWindowSec)*time.Second && pos.PnLPct <= st.QuickCutPct {
		log.Infof("⚡ 速断止损: %s pnl=%.1f%% age=%s", pos.Symbol, pos.PnLPct, age.Round(time.Second))
		if s.closeFull(ctx, pos, domain.CloseReasonStopLoss, fmt.Sprintf("速断 %.1f%%", pos.PnLPct)) {
			metrics.StopLossCloses.Add(1)
		}
		return
	}

	// (b) 早期止损
	if age <= time.Duration(st.EarlyStopWindowSec)*time.Second && pos.PnLPct <= st.EarlyStopPct {
		log.Infof("🛑 早期止损: %s pnl=%.1f%% age=%s", pos.Symbol, pos.PnLPct, age.Round(time.Second))
		if s.closeFull(ctx, pos, domain.CloseReasonStopLoss, fmt.Sprintf("早期止损 %.1f%%", pos.PnLPct)) {
			metrics.StopLossCloses.Add(1)
		}
		return
	}

	// (c) 硬止损：任意仓龄
	if pos.PnLPct <= st.HardStopPct {
		log.Infof("🛑 硬止损: %s pnl=%.1f%%", pos.Symbol, pos.PnLPct)
		if s.closeFull(ctx, pos, domain.CloseReasonStopLoss, fmt.Sprintf("硬止损 %.1f%%", pos.PnLPct)) {
			metrics.StopLossCloses.Add(1)
		}
		return
	}

	// (d) 追踪亏损绝对下限：追踪模式也不许跌破（防失控兜底）
	if pos.PnLPct <= st.TrailingFloorPct {
		log.Warnf("🛑 触及追踪亏损下限: %s pnl=%.1f%%", pos.Symbol, pos.PnLPct)
		if s.closeFull(ctx, pos, domain.CloseReasonStopLoss, fmt.Sprintf("亏损下限 %.1f%%", pos.PnLPct)) {
			metrics.StopLossCloses.Add(1)
		}
		return
	}

	// (e) runner 保本保护：冲高过的 runner 不允许坐回起点
	if pos.IsRunner && pos.PeakPnLPct() >= st.RunnerBreakevenPeakPct && pos.PnLPct <= st.RunnerBreakevenExitPct {
		log.Infof("🔒 runner 保本保护: %s peak=%.1f%% pnl=%.1f%%", pos.Symbol, pos.PeakPnLPct(), pos.PnLPct)
		if s.closeFull(ctx, pos, domain.CloseReasonTrailing, fmt.Sprintf("保本保护 peak=%.1f%%", pos.PeakPnLPct())) {
			metrics.TrailingCloses.Add(1)
		}
	}
}
