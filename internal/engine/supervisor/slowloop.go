package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/pkg/config"
)

// SlowTick 慢循环：逐仓刷新价格后执行档位行为。
// 顺序固定：runner 升级检查 → 保本出场 → 追踪止盈 → 止盈阶梯 → 超龄平仓。
func (s *Supervisor) SlowTick(ctx context.Context, now time.Time) {
	positions := s.ledger.Positions()
	if len(positions) == 0 {
		return
	}

	timeout := time.Duration(s.cfg.Supervisor.PriceTimeoutMs) * time.Millisecond

	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	for _, pos := range positions {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !pos.IsOpen() {
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		price, err := s.feed.Price(fetchCtx, pos.Mint)
		cancel()
		if err == nil && price > 0 {
			pos.UpdatePrice(price, now)
		}
		// 取价失败不在慢循环处理，死数据归快循环管

		if !pos.IsRunner && pos.PnLPct >= s.cfg.Supervisor.RunnerPromotePnLPct {
			s.maybePromote(ctx, pos, now)
		}

		profile := &s.cfg.Supervisor.Scalp
		if pos.IsRunner {
			profile = &s.cfg.Supervisor.Runner
		}
		s.superviseProfile(ctx, pos, profile, now)
	}
}

// maybePromote runner 升级：盈亏达标只是入场券，
// 还需要二级信号法定多数同意（量能加速 / 买压 / 5 分钟动量 / 市值上限）。
func (s *Supervisor) maybePromote(ctx context.Context, pos *domain.Position, now time.Time) {
	sup := &s.cfg.Supervisor

	statsCtx, cancel := context.WithTimeout(ctx, time.Duration(sup.PriceTimeoutMs)*time.Millisecond)
	stats, err := s.feed.Stats(statsCtx, pos.Mint)
	cancel()
	if err != nil || stats == nil {
		log.Debugf("⚠️ 取不到二级信号，跳过升级检查: %s err=%v", pos.Symbol, err)
		return
	}

	votes := 0
	if stats.VolumeAccelerating() {
		votes++
	}
	if stats.BuyPressure() {
		votes++
	}
	if stats.PriceChange5mPct > 0 {
		votes++
	}
	if stats.MarketCapSOL > 0 && stats.MarketCapSOL < sup.RunnerMaxMarketCapSOL {
		votes++
	}

	if votes < sup.RunnerQuorum {
		log.Debugf("🗳️ runner 升级未过法定数: %s votes=%d/%d", pos.Symbol, votes, sup.RunnerQuorum)
		return
	}

	pos.IsRunner = true
	pos.PromotedAt = now
	metrics.RunnerPromotions.Add(1)
	log.Infof("🚀 升级为 runner: %s pnl=%.1f%% votes=%d/%d", pos.Symbol, pos.PnLPct, votes, sup.RunnerQuorum)
}

// superviseProfile 按档位执行慢速行为。命中任一完全平仓条件即返回。
// 调用方须持有 loopMu。
func (s *Supervisor) superviseProfile(ctx context.Context, pos *domain.Position, p *config.ProfileConfig, now time.Time) {
	peak := pos.PeakPnLPct()

	// 保本出场：冲高过之后不允许坐电梯回到原点
	if peak >= p.BreakevenPeakPct && pos.PnLPct <= p.BreakevenExitPct {
		log.Infof("🔒 保本出场: %s peak=%.1f%% pnl=%.1f%%", pos.Symbol, peak, pos.PnLPct)
		if s.closeFull(ctx, pos, domain.CloseReasonTrailing, fmt.Sprintf("保本出场 peak=%.1f%%", peak)) {
			metrics.TrailingCloses.Add(1)
		}
		return
	}

	// 追踪止盈：峰值越高带宽越紧，回撤超带即走
	if band, ok := p.TrailingBandFor(peak); ok {
		if dd := pos.DrawdownFromPeakPct(); dd >= band {
			log.Infof("📉 追踪止盈触发: %s peak=%.1f%% drawdown=%.1f%% band=%.1f%%", pos.Symbol, peak, dd, band)
			if s.closeFull(ctx, pos, domain.CloseReasonTrailing, fmt.Sprintf("回撤 %.1f%% 超带宽 %.1f%%", dd, band)) {
				metrics.TrailingCloses.Add(1)
			}
			return
		}
	}

	// 止盈阶梯：LadderIndex 单调推进，每档只触发一次，每个 tick 至多走一档
	if pos.LadderIndex < len(p.ProfitLadder) {
		step := p.ProfitLadder[pos.LadderIndex]
		if pos.PnLPct >= step.TriggerPct {
			points := step.SellPct
			// 卖完这档后剩余占用若跌破尘埃线，直接整仓落袋
			remainingAfter := pos.EntryCapital * (pos.RemainingPct - points) / 100.0
			if remainingAfter < s.cfg.Risk.MinPositionSOL {
				log.Infof("🪜 阶梯末段剩余过小，整仓落袋: %s pnl=%.1f%%", pos.Symbol, pos.PnLPct)
				if s.closeFull(ctx, pos, domain.CloseReasonLadder, fmt.Sprintf("阶梯第 %d 档（整仓）", pos.LadderIndex+1)) {
					metrics.LadderFills.Add(1)
				}
				return
			}
			if s.closePartial(ctx, pos, points, domain.CloseReasonLadder, fmt.Sprintf("阶梯第 %d 档 @%.0f%%", pos.LadderIndex+1, step.TriggerPct)) {
				pos.LadderIndex++
				metrics.LadderFills.Add(1)
			}
			return
		}
	}

	// 超龄平仓：只清理不死不活的仓位，明确趋势交给止损/止盈
	if pos.Age(now) > time.Duration(p.MaxAgeMin)*time.Minute {
		if pos.PnLPct > -p.NearBreakevenPct && pos.PnLPct < p.NearBreakevenPct {
			log.Infof("⌛ 超龄平仓: %s age=%s pnl=%.1f%%", pos.Symbol, pos.Age(now).Round(time.Minute), pos.PnLPct)
			if s.closeFull(ctx, pos, domain.CloseReasonTimeout, fmt.Sprintf("持仓超 %d 分钟且接近保本", p.MaxAgeMin)) {
				metrics.TimeoutCloses.Add(1)
			}
		}
	}
}
