package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/engine/gate"
	"github.com/betbot/snipebot/internal/engine/queue"
	"github.com/betbot/snipebot/internal/engine/supervisor"
	"github.com/betbot/snipebot/internal/engine/watchlist"
	"github.com/betbot/snipebot/internal/events"
	"github.com/betbot/snipebot/internal/ledger"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/internal/ports"
	"github.com/betbot/snipebot/pkg/config"
	"github.com/betbot/snipebot/pkg/persistence"
	"github.com/betbot/snipebot/pkg/syncgroup"
)

var log = logrus.WithField("module", "engine")

// Engine 把闸口、观察列表、监督器与机会管道装配成完整生命周期。
// 机会入口 → 串行买入决策 → 仓位监督 → 平仓记账，全部在此编排。
type Engine struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	gate     *gate.Gate
	watch    *watchlist.Watchlist
	sup      *supervisor.Supervisor
	pipeline *queue.Pipeline

	feed     ports.PriceFeed
	exec     ports.Executor
	notifier ports.Notifier

	snapStore persistence.Store

	sg     *syncgroup.SyncGroup
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// Deps 引擎外部依赖
type Deps struct {
	Feed      ports.PriceFeed
	Exec      ports.Executor
	Balance   ports.BalanceSource
	Store     ports.TradeStore
	Notifier  ports.Notifier
	SnapStore persistence.Store // 可为 nil（不持久化账本快照）
}

// New 装配引擎
func New(cfg *config.Config, d Deps) *Engine {
	if d.Notifier == nil {
		d.Notifier = ports.NopNotifier{}
	}
	l := ledger.New(&cfg.Risk)
	e := &Engine{
		cfg:       cfg,
		ledger:    l,
		gate:      gate.New(cfg, l, d.Balance, d.Notifier),
		sup:       supervisor.New(cfg, l, d.Feed, d.Exec, d.Store, d.Notifier),
		feed:      d.Feed,
		exec:      d.Exec,
		notifier:  d.Notifier,
		snapStore: d.SnapStore,
		sg:        syncgroup.New(),
	}
	e.pipeline = queue.New(0, e.handleOpportunity)
	priceTimeout := time.Duration(cfg.Supervisor.PriceTimeoutMs) * time.Millisecond
	e.watch = watchlist.New(&cfg.Watchlist, d.Feed, priceTimeout, func(opp *domain.Opportunity) {
		// 反弹确认本身就是一次放行：watch 档就地升为可操作档，
		// 之后与普通机会走同一条串行决策管道
		if !opp.Tier.Actionable() {
			opp.Tier = domain.TierLow
		}
		e.pipeline.Submit(opp)
	})
	return e
}

// Ledger 暴露账本只读入口（控制面用）
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Watchlist 暴露观察列表（控制面用）
func (e *Engine) Watchlist() *watchlist.Watchlist { return e.watch }

// Supervisor 暴露监督器（控制面手动平仓用）
func (e *Engine) Supervisor() *supervisor.Supervisor { return e.sup }

// OnOpportunity 机会入口（上游发现器回调）。
// 同一 mint 只受理一次；watch 档进观察列表，可操作档进串行决策管道。
func (e *Engine) OnOpportunity(opp *domain.Opportunity) {
	if opp == nil || opp.Mint == "" {
		return
	}
	metrics.OpportunitiesSeen.Add(1)

	if !e.ledger.MarkSeen(opp.Mint) {
		metrics.OpportunitiesDedup.Add(1)
		log.Debugf("⏭️ 重复机会忽略: %s", opp.Symbol)
		return
	}

	log.Infof("🔍 新机会: %s score=%.0f tier=%s price=%.8f", opp.Symbol, opp.Score, opp.Tier, opp.PriceSOL)
	e.notifier.Notify(events.DetectionEvent{Opportunity: opp, Timestamp: time.Now()})

	switch {
	case opp.Tier == domain.TierWatch:
		e.watch.Add(opp, time.Now())
	case opp.Tier.Actionable():
		e.pipeline.Submit(opp)
	default:
		log.Debugf("🗑️ 忽略低置信机会: %s tier=%s", opp.Symbol, opp.Tier)
	}
}

// handleOpportunity 串行买入决策（管道 worker 调用，同一时刻至多一个在途）
func (e *Engine) handleOpportunity(ctx context.Context, opp *domain.Opportunity) {
	now := time.Now()
	order := e.gate.ShouldBuy(opp, now)
	if order == nil {
		return
	}

	log.Infof("🛒 发起买入: %s amount=%.4f SOL priority=%s", order.Symbol, order.AmountSOL, order.Priority)
	fill, err := e.exec.Buy(ctx, order)
	if err != nil || fill == nil || !fill.Success {
		// 买入失败无状态变更：机会直接作废，不重试
		metrics.BuyFailures.Add(1)
		log.Warnf("❌ 买入失败（机会作废）: %s err=%v", order.Symbol, err)
		return
	}
	metrics.BuysExecuted.Add(1)

	pos := &domain.Position{
		ID:           order.ID,
		Mint:         order.Mint,
		Symbol:       order.Symbol,
		EntryPrice:   fill.FillPrice,
		EntryCapital: order.AmountSOL,
		Quantity:     fill.Quantity,
		EntryTime:    now,
		EntryScore:   order.Score,
		CurrentPrice: fill.FillPrice,
		HighestPrice: fill.FillPrice,
		RemainingPct: 100,
		EntryTxRef:   fill.TxRef,
		Status:       domain.PositionStatusOpen,
		LastUpdate:   now,
	}
	e.sup.Register(pos)
	e.notifier.Notify(events.BuyEvent{Position: pos, Order: order, Timestamp: now})
}

// Start 启动全部循环。重复调用无效果。
func (e *Engine) Start(ctx context.Context) error {
	var startErr error
	e.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel

		if err := e.restoreSnapshot(); err != nil {
			startErr = err
			cancel()
			return
		}

		// 启动前先对一次账，拿真实余额当基准
		if err := e.gate.SyncCapital(runCtx); err != nil {
			log.Warnf("⚠️ 启动资金对账失败（沿用配置初始值）: %v", err)
		}

		e.notifier.Notify(events.StartupEvent{
			CapitalSOL: e.ledger.TotalCapital(),
			DryRun:     e.cfg.DryRun,
			Timestamp:  time.Now(),
		})

		e.sg.Go(func() { e.pipeline.Run(runCtx) })
		e.sg.Go(func() { e.fastLoop(runCtx) })
		e.sg.Go(func() { e.slowLoop(runCtx) })
		e.sg.Go(func() { e.watchLoop(runCtx) })
		e.sg.Go(func() { e.houseLoop(runCtx) })

		log.Infof("🚀 引擎已启动: capital=%.4f SOL dryRun=%v", e.ledger.TotalCapital(), e.cfg.DryRun)
	})
	return startErr
}

// Stop 停止全部循环并落一次快照（幂等）
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		log.Info("🛑 引擎停止中...")
		if e.cancel != nil {
			e.cancel()
		}
		e.pipeline.Close()
		e.sg.Wait()
		e.sup.ClearTimers()
		e.watch.Clear()
		e.saveSnapshot()
		log.Info("✅ 引擎已停止")
	})
}

func (e *Engine) fastLoop(ctx context.Context) {
	t := time.NewTicker(time.Duration(e.cfg.Supervisor.FastIntervalMs) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			e.sup.FastTick(ctx, now)
		}
	}
}

func (e *Engine) slowLoop(ctx context.Context) {
	t := time.NewTicker(time.Duration(e.cfg.Supervisor.SlowIntervalSec) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			e.sup.SlowTick(ctx, now)
		}
	}
}

func (e *Engine) watchLoop(ctx context.Context) {
	t := time.NewTicker(time.Duration(e.cfg.Watchlist.TickIntervalSec) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			e.watch.Tick(ctx, now)
		}
	}
}

// houseLoop 后勤循环：跨日滚动、周期汇总、定期对账与快照
func (e *Engine) houseLoop(ctx context.Context) {
	minute := time.NewTicker(time.Minute)
	defer minute.Stop()
	summary := time.NewTicker(time.Duration(e.cfg.SummaryIntervalMin) * time.Minute)
	defer summary.Stop()
	reconcile := time.NewTicker(5 * time.Minute)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-minute.C:
			if e.ledger.MaybeRollDay(now) {
				log.Info("📅 跨日滚动：当日计数已重置")
			}
			e.saveSnapshot()
		case now := <-summary.C:
			e.emitSummary(now)
		case <-reconcile.C:
			if err := e.gate.SyncCapital(ctx); err != nil {
				log.Warnf("⚠️ 定期资金对账失败: %v", err)
			}
		}
	}
}

func (e *Engine) emitSummary(now time.Time) {
	daily := e.ledger.Daily()
	log.Infof("📊 周期汇总: total=%.4f dailyPnL=%.4f (%.1f%%) open=%d trades=%d W/L=%d/%d",
		e.ledger.TotalCapital(), daily.PnLSOL, daily.PnLPct,
		e.ledger.OpenCount(), daily.Trades, daily.Wins, daily.Losses)
	e.notifier.Notify(events.SummaryEvent{
		TotalCapitalSOL: e.ledger.TotalCapital(),
		DailyPnLSOL:     daily.PnLSOL,
		DailyPnLPct:     daily.PnLPct,
		OpenPositions:   e.ledger.OpenCount(),
		DailyTrades:     daily.Trades,
		DailyWins:       daily.Wins,
		DailyLosses:     daily.Losses,
		Timestamp:       now,
	})
}

func (e *Engine) restoreSnapshot() error {
	if e.snapStore == nil {
		return nil
	}
	var snap ledger.Snapshot
	err := e.snapStore.Load(&snap)
	if errors.Is(err, persistence.ErrNotExists) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "加载账本快照失败")
	}
	e.ledger.Restore(snap)
	log.Infof("♻️ 账本快照已恢复: total=%.4f open=%d", e.ledger.TotalCapital(), e.ledger.OpenCount())
	return nil
}

func (e *Engine) saveSnapshot() {
	if e.snapStore == nil {
		return
	}
	if err := e.snapStore.Save(e.ledger.Snapshot()); err != nil {
		log.Warnf("⚠️ 保存账本快照失败: %v", err)
	}
}
