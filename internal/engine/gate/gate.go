package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/events"
	"github.com/betbot/snipebot/internal/ledger"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/internal/ports"
	"github.com/betbot/snipebot/pkg/config"
)

var log = logrus.WithField("module", "gate")

// Gate 资金闸口与头寸规模器：决定能否开新仓、开多大。
// 注意 CanOpen 不是纯谓词：当日亏损触顶时会把账本置入暂停态并发出风控告警。
type Gate struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	balance  ports.BalanceSource
	notifier ports.Notifier
}

// New 创建闸口
func New(cfg *config.Config, l *ledger.Ledger, balance ports.BalanceSource, notifier ports.Notifier) *Gate {
	if notifier == nil {
		notifier = ports.NopNotifier{}
	}
	return &Gate{cfg: cfg, ledger: l, balance: balance, notifier: notifier}
}

// DeployableCapital 可部署资金 = max(0, 可用资金 − 保留底仓)
func (g *Gate) DeployableCapital() float64 {
	d := g.ledger.AvailableCapital() - g.ledger.ReserveFloor()
	if d < 0 {
		return 0
	}
	return d
}

// CanOpen 按序检查：暂停 → 仓位数上限 → 当日亏损熔断 → 尘埃资金。
// 第三步触发时有副作用：置入暂停态并发出一次风控告警。
func (g *Gate) CanOpen(now time.Time) (bool, string) {
	// (a) 暂停中：未到期拒绝，到期先解除
	if paused, until := g.ledger.PauseState(); paused {
		if now.Before(until) {
			remain := until.Sub(now).Round(time.Minute)
			return false, fmt.Sprintf("交易暂停中，剩余 %s", remain)
		}
		g.ledger.ClearPause()
		log.Info("⏯️ 暂停已到期，恢复交易")
	}

	// (b) 仓位数上限
	if g.ledger.OpenCount() >= g.cfg.Risk.MaxOpenPositions {
		return false, fmt.Sprintf("开放仓位已达上限 %d", g.cfg.Risk.MaxOpenPositions)
	}

	// (c) 当日亏损熔断（副作用：进入暂停态 + 一次告警）
	daily := g.ledger.Daily()
	initial := g.ledger.InitialCapital()
	if daily.PnLSOL < 0 && initial > 0 {
		lossRatio := -daily.PnLSOL / initial * 100.0
		if lossRatio >= g.cfg.Risk.DailyLossCeilingPct {
			until := now.Add(time.Duration(g.cfg.Risk.PauseDurationMin) * time.Minute)
			g.ledger.SetPause(until)
			reason := fmt.Sprintf("当日亏损 %.1f%% 触顶（上限 %.1f%%），暂停至 %s",
				lossRatio, g.cfg.Risk.DailyLossCeilingPct, until.Format("15:04"))
			log.Warnf("🚨 %s", reason)
			g.notifier.Notify(events.RiskAlertEvent{
				Reason:     reason,
				DailyPnL:   daily.PnLSOL,
				PausedTill: until,
				Timestamp:  now,
			})
			return false, reason
		}
	}

	// (d) 可部署资金不足
	if g.DeployableCapital() < g.cfg.Risk.MinPositionSOL {
		return false, "可部署资金不足"
	}

	return true, ""
}

// tierPct 按评分取基础仓位比例（%）
func (g *Gate) tierPct(score float64) float64 {
	r := &g.cfg.Risk
	switch {
	case score >= r.TierHighScore:
		return r.TierHighPct
	case score >= r.TierMediumScore:
		return r.TierMediumPct
	default:
		return r.TierLowPct
	}
}

// PositionSize 计算头寸规模（SOL）。
// 基础规模按评分分档取可部署资金的比例；亏损日按亏损比例缩减（下限 0.5），
// 连胜且胜率达标放大 1.10；两项独立，尘埃下限与 15% 上限最后应用。
func (g *Gate) PositionSize(opp *domain.Opportunity) float64 {
	r := &g.cfg.Risk
	deployable := g.DeployableCapital()
	size := deployable * g.tierPct(opp.Score) / 100.0

	daily := g.ledger.Daily()
	initial := g.ledger.InitialCapital()
	if daily.PnLSOL < 0 && initial > 0 {
		lossRatio := -daily.PnLSOL / initial
		factor := 1 - lossRatio
		if factor < r.LossShrinkFloor {
			factor = r.LossShrinkFloor
		}
		size *= factor
	}
	if daily.PnLSOL > 0 && daily.Wins > r.WinStreakMinWins {
		closed := daily.Wins + daily.Losses
		if closed > 0 && float64(daily.Wins)/float64(closed) > r.WinStreakWinRate {
			size *= r.WinStreakBoost
		}
	}

	// 下限/上限最后应用
	if size < r.MinPositionSOL {
		size = r.MinPositionSOL
	}
	if maxSize := deployable * r.MaxPositionPctOfDeployable; size > maxSize {
		size = maxSize
	}
	return size
}

// ShouldBuy 综合判定：置信等级、重复仓位、闸口与规模。
// 不满足条件返回 nil。
func (g *Gate) ShouldBuy(opp *domain.Opportunity, now time.Time) *domain.TradeOrder {
	if opp == nil || !opp.Tier.Actionable() {
		return nil
	}
	if g.ledger.HasPosition(opp.Mint) {
		log.Debugf("⏭️ 已持有 %s，跳过", opp.Symbol)
		return nil
	}
	if ok, reason := g.CanOpen(now); !ok {
		metrics.GateDenials.Add(1)
		log.Infof("🚫 闸口拒绝 %s: %s", opp.Symbol, reason)
		return nil
	}

	size := g.PositionSize(opp)
	priority := domain.PriorityNormal
	if opp.Score > g.cfg.Risk.HighPriorityScore {
		priority = domain.PriorityHigh
	}
	return &domain.TradeOrder{
		ID:        uuid.NewString(),
		Side:      domain.SideBuy,
		Mint:      opp.Mint,
		Symbol:    opp.Symbol,
		AmountSOL: size,
		Reason:    fmt.Sprintf("score=%.0f tier=%s", opp.Score, opp.Tier),
		Priority:  priority,
		Score:     opp.Score,
		CreatedAt: now,
	}
}

// SyncCapital 用外部余额对账（仅校正账本，不直接参与闸口判断）
func (g *Gate) SyncCapital(ctx context.Context) error {
	if g.balance == nil {
		return nil
	}
	bal, err := g.balance.BalanceSOL(ctx)
	if err != nil {
		return err
	}
	total, available := g.ledger.ReconcileBalance(bal)
	log.Infof("💰 资金对账完成: external=%.4f total=%.4f available=%.4f", bal, total, available)
	return nil
}
