package watchlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/config"
)

// scriptFeed 按脚本逐次返回价格；脚本耗尽返回错误。
// 同时记录推送订阅调用（实现 ports.StreamFeed）。
type scriptFeed struct {
	mu        sync.Mutex
	prices    map[string][]float64
	watched   []string
	unwatched []string
}

func (f *scriptFeed) Watch(mint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, mint)
}

func (f *scriptFeed) Unwatch(mint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unwatched = append(f.unwatched, mint)
}

func (f *scriptFeed) push(mint string, prices ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[mint] = append(f.prices[mint], prices...)
}

func (f *scriptFeed) Price(_ context.Context, mint string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.prices[mint]
	if len(q) == 0 {
		return 0, errors.New("no price")
	}
	p := q[0]
	f.prices[mint] = q[1:]
	return p, nil
}

func (f *scriptFeed) Stats(context.Context, string) (*domain.TokenStats, error) {
	return nil, errors.New("not implemented")
}

type harness struct {
	w      *Watchlist
	feed   *scriptFeed
	mu     sync.Mutex
	bought []*domain.Opportunity
}

func newHarness(t *testing.T, mutate func(*config.WatchlistConfig)) *harness {
	t.Helper()
	cfg := config.Default().Watchlist
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{feed: &scriptFeed{prices: make(map[string][]float64)}}
	h.w = New(&cfg, h.feed, time.Second, func(opp *domain.Opportunity) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.bought = append(h.bought, opp)
	})
	return h
}

func (h *harness) buys() []*domain.Opportunity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*domain.Opportunity(nil), h.bought...)
}

func watchOpp(mint string, price float64) *domain.Opportunity {
	return &domain.Opportunity{
		Mint: mint, Symbol: mint, Score: 40,
		Tier: domain.TierWatch, PriceSOL: price,
	}
}

func TestAddRequiresReferencePrice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	assert.False(t, h.w.Add(watchOpp("a", 0), time.Now()))
	assert.True(t, h.w.Add(watchOpp("a", 100), time.Now()))
	assert.False(t, h.w.Add(watchOpp("a", 100), time.Now()), "重复 mint 不入列")
	assert.Equal(t, 1, h.w.Len())
}

func TestCapacityEvictsOldest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.WatchlistConfig) { c.Capacity = 2 })
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	h.w.Add(watchOpp("b", 100), now)
	h.w.Add(watchOpp("c", 100), now)

	assert.Equal(t, 2, h.w.Len())
	mints := map[string]bool{}
	for _, e := range h.w.Entries() {
		mints[e.Opp.Mint] = true
	}
	assert.False(t, mints["a"], "最老条目被淘汰")
	assert.True(t, mints["b"] && mints["c"])
}

func TestDipReboundConfirmBuy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	require.True(t, h.w.Add(watchOpp("a", 100), now))

	// 回调 6%（≥5%）→ 确认回调，下一次读数进入等待反弹
	h.feed.push("a", 94)
	h.w.Tick(ctx, now.Add(time.Second))
	entries := h.w.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StateDipDetected, entries[0].State)

	// 反弹 2.1% → 进入延迟复核，尚未触发买入
	h.feed.push("a", 96)
	h.w.Tick(ctx, now.Add(2*time.Second))
	assert.Empty(t, h.buys())

	// 复核时点仍达标 → 买入信号，条目移除
	h.feed.push("a", 96.5)
	h.w.Tick(ctx, now.Add(5*time.Second))

	buys := h.buys()
	require.Len(t, buys, 1)
	assert.Equal(t, "a", buys[0].Mint)
	assert.Equal(t, 96.5, buys[0].PriceSOL, "买入信号携带确认时价格")
	assert.Equal(t, 0, h.w.Len())
}

func TestReboundConfirmFailsThenRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	h.feed.push("a", 94) // 回调
	h.w.Tick(ctx, now.Add(time.Second))
	h.feed.push("a", 96) // 反弹达标，挂起复核
	h.w.Tick(ctx, now.Add(2*time.Second))

	// 复核时价格塌回去 → 不买，继续观察
	h.feed.push("a", 94.2)
	h.w.Tick(ctx, now.Add(5*time.Second))
	assert.Empty(t, h.buys())
	assert.Equal(t, 1, h.w.Len())

	// 再次反弹并通过复核
	h.feed.push("a", 96)
	h.w.Tick(ctx, now.Add(6*time.Second))
	h.feed.push("a", 96)
	h.w.Tick(ctx, now.Add(9*time.Second))
	require.Len(t, h.buys(), 1)
}

func TestDeepDipAbandons(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	h.feed.push("a", 60) // 回调 40% ≥ 35%
	h.w.Tick(ctx, now.Add(time.Second))

	assert.Equal(t, 0, h.w.Len(), "崩盘形态直接放弃")
	assert.Empty(t, h.buys())
}

func TestDipDeepensWhileWaitingAbandons(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	h.feed.push("a", 92) // 回调 8% → 等待反弹
	h.w.Tick(ctx, now.Add(time.Second))
	h.feed.push("a", 55) // 继续崩
	h.w.Tick(ctx, now.Add(2*time.Second))

	assert.Equal(t, 0, h.w.Len())
	assert.Empty(t, h.buys())
}

func TestWatchExpiry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	h.feed.push("a", 99)
	h.w.Tick(ctx, now.Add(16*time.Minute))

	assert.Equal(t, 0, h.w.Len(), "超过最大观察时长移除")
	assert.Empty(t, h.buys())
}

func TestFetchFailureSkipsEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	// 无脚本价格 → 取价失败，条目保留
	h.w.Tick(ctx, now.Add(time.Second))

	assert.Equal(t, 1, h.w.Len())
	assert.Equal(t, StateWatching, h.w.Entries()[0].State)
}

// 行情一直取不到价时，条目到期照样移除
func TestWatchExpiryWithDeadFeed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	// 不给脚本价格：每次取价都失败
	h.w.Tick(ctx, now.Add(time.Minute))
	assert.Equal(t, 1, h.w.Len())

	h.w.Tick(ctx, now.Add(16*time.Minute))
	assert.Equal(t, 0, h.w.Len(), "超时移除不依赖能否取到价")
	assert.Empty(t, h.buys())
}

// 推送订阅随条目生命周期：入列订阅，淘汰/终态退订
func TestStreamSubscriptionFollowsEntries(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.WatchlistConfig) { c.Capacity = 1 })
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	h.w.Add(watchOpp("b", 100), now) // 容量 1：淘汰 a

	h.feed.mu.Lock()
	watched := append([]string(nil), h.feed.watched...)
	unwatched := append([]string(nil), h.feed.unwatched...)
	h.feed.mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, watched)
	assert.Equal(t, []string{"a"}, unwatched)

	// b 崩盘进入终态 → 退订
	h.feed.push("b", 50)
	h.w.Tick(ctx, now.Add(time.Second))

	h.feed.mu.Lock()
	unwatched = append([]string(nil), h.feed.unwatched...)
	h.feed.mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, unwatched)
}

func TestNewHighResetsLow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now()

	h.w.Add(watchOpp("a", 100), now)
	h.feed.push("a", 97, 110, 106)
	h.w.Tick(ctx, now.Add(time.Second))   // 回调 3%，不足 5%
	h.w.Tick(ctx, now.Add(2*time.Second)) // 创新高，低点重置
	h.w.Tick(ctx, now.Add(3*time.Second)) // 相对新高回调 3.6%，仍不足

	entries := h.w.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StateWatching, entries[0].State)
	assert.Equal(t, 110.0, entries[0].HighPrice)
}
