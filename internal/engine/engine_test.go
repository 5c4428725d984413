package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/events"
	"github.com/betbot/snipebot/pkg/config"
)

type stubFeed struct {
	mu    sync.Mutex
	price float64
}

func (f *stubFeed) set(p float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p
}

func (f *stubFeed) Price(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.price <= 0 {
		return 0, errors.New("no price")
	}
	return f.price, nil
}

func (f *stubFeed) Stats(context.Context, string) (*domain.TokenStats, error) {
	return nil, errors.New("not implemented")
}

type stubExec struct {
	mu   sync.Mutex
	fail bool
	buys []*domain.TradeOrder
}

func (e *stubExec) Buy(_ context.Context, order *domain.TradeOrder) (*domain.FillResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, errors.New("buy failed")
	}
	e.buys = append(e.buys, order)
	return &domain.FillResult{
		Success:   true,
		FillPrice: 0.001,
		Quantity:  order.AmountSOL / 0.001,
		TxRef:     "tx-buy",
	}, nil
}

func (e *stubExec) Sell(context.Context, *domain.Position, float64, string) (*domain.SellResult, error) {
	return nil, errors.New("not used")
}

type recordNotifier struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (n *recordNotifier) Notify(evt events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, evt.EventKind())
}

func (n *recordNotifier) has(kind events.Kind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func newEngine(t *testing.T) (*Engine, *stubFeed, *stubExec, *recordNotifier) {
	t.Helper()
	cfg := config.Default()
	cfg.Risk.InitialCapitalSOL = 10
	feed := &stubFeed{price: 0.001}
	exec := &stubExec{}
	n := &recordNotifier{}
	eng := New(cfg, Deps{
		Feed:     feed,
		Exec:     exec,
		Notifier: n,
	})
	return eng, feed, exec, n
}

func actionable(mint string) *domain.Opportunity {
	return &domain.Opportunity{
		Mint: mint, Symbol: mint, Score: 70,
		Tier: domain.TierHigh, PriceSOL: 0.001, DetectedAt: time.Now(),
	}
}

func TestHandleOpportunityOpensPosition(t *testing.T) {
	t.Parallel()
	eng, _, exec, n := newEngine(t)

	eng.handleOpportunity(context.Background(), actionable("mintA"))

	require.True(t, eng.Ledger().HasPosition("mintA"))
	pos, _ := eng.Ledger().Position("mintA")
	assert.Equal(t, 0.001, pos.EntryPrice)
	assert.Equal(t, 100.0, pos.RemainingPct)
	assert.Equal(t, "tx-buy", pos.EntryTxRef)
	assert.Len(t, exec.buys, 1)
	assert.True(t, n.has(events.KindBuy))
}

func TestHandleOpportunityBuyFailureNoState(t *testing.T) {
	t.Parallel()
	eng, _, exec, n := newEngine(t)
	exec.fail = true

	eng.handleOpportunity(context.Background(), actionable("mintA"))

	assert.False(t, eng.Ledger().HasPosition("mintA"))
	assert.Equal(t, 10.0, eng.Ledger().AvailableCapital(), "买入失败不动资金")
	assert.False(t, n.has(events.KindBuy))
}

func TestOnOpportunityDedup(t *testing.T) {
	t.Parallel()
	eng, _, _, _ := newEngine(t)

	watch := &domain.Opportunity{
		Mint: "w", Symbol: "W", Score: 40,
		Tier: domain.TierWatch, PriceSOL: 0.001,
	}
	eng.OnOpportunity(watch)
	assert.Equal(t, 1, eng.Watchlist().Len())

	// 同一 mint 再来一次：已见集合拦截
	eng.OnOpportunity(watch)
	assert.Equal(t, 1, eng.Watchlist().Len())
}

func TestOnOpportunityIgnoreTier(t *testing.T) {
	t.Parallel()
	eng, _, _, _ := newEngine(t)

	eng.OnOpportunity(&domain.Opportunity{
		Mint: "noise", Symbol: "N", Score: 5,
		Tier: domain.TierIgnore, PriceSOL: 0.001,
	})

	assert.Equal(t, 0, eng.Watchlist().Len())
	assert.False(t, eng.pipeline.InFlight())
}

func TestOnOpportunityEmitsDetection(t *testing.T) {
	t.Parallel()
	eng, _, _, n := newEngine(t)

	eng.OnOpportunity(actionable("d"))
	assert.True(t, n.has(events.KindDetection))
}

// 观察档机会的完整链路：入列 → 回调 → 反弹复核 → 买入信号开仓
func TestWatchlistBuySignalOpensPosition(t *testing.T) {
	t.Parallel()
	eng, feed, exec, n := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.pipeline.Run(ctx)

	now := time.Now()
	eng.OnOpportunity(&domain.Opportunity{
		Mint: "w", Symbol: "W", Score: 40,
		Tier: domain.TierWatch, PriceSOL: 100,
	})
	require.Equal(t, 1, eng.Watchlist().Len())

	// 回调 6% → 确认回调 → 下一次读数进入等待反弹
	feed.set(94)
	eng.Watchlist().Tick(ctx, now.Add(time.Second))
	eng.Watchlist().Tick(ctx, now.Add(2*time.Second))

	// 反弹 3.2% → 挂起复核 → 复核时点仍达标 → 买入信号
	feed.set(97)
	eng.Watchlist().Tick(ctx, now.Add(3*time.Second))
	eng.Watchlist().Tick(ctx, now.Add(6*time.Second))
	assert.Equal(t, 0, eng.Watchlist().Len())

	require.Eventually(t, func() bool {
		return eng.Ledger().HasPosition("w")
	}, 2*time.Second, 10*time.Millisecond, "反弹确认后的买入信号必须真正开仓")

	exec.mu.Lock()
	buys := len(exec.buys)
	exec.mu.Unlock()
	assert.Equal(t, 1, buys)
	assert.True(t, n.has(events.KindBuy))
}
