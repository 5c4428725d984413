package watchlist

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/internal/ports"
	"github.com/betbot/snipebot/pkg/config"
)

var log = logrus.WithField("module", "watchlist")

// State 观察条目状态
type State string

const (
	StateWatching       State = "watching"
	StateDipDetected    State = "dip_detected"
	StateWaitingRebound State = "waiting_rebound"
	StateBuySignal      State = "buy_signal" // 终态：触发买入
	StateExpired        State = "expired"    // 终态：观察超时
	StateAbandoned      State = "abandoned"  // 终态：回调过深（崩盘）
)

// Entry 观察条目
type Entry struct {
	Opp            *domain.Opportunity
	AddedAt        time.Time
	HighPrice      float64 // 观察以来最高价
	LowSinceHigh   float64 // 该高点之后的最低价（创新高时重置）
	CurrentPrice   float64
	LastCheck      time.Time
	RetracementPct float64 // (high − lowSinceHigh) / high × 100
	State          State

	// 反弹确认：第一次达标后延迟复核，第二次读数仍达标才发买入信号
	confirmPending bool
	confirmAt      time.Time
	confirmLow     float64
}

// BuyFunc 买入信号回调（每个条目最多触发一次）
type BuyFunc func(opp *domain.Opportunity)

// Watchlist 入场前观察列表：等「回调-企稳-反弹」形态出现再放行买入。
// 容量有界，满时淘汰最老的条目。
type Watchlist struct {
	cfg        *config.WatchlistConfig
	feed       ports.PriceFeed
	streamFeed ports.StreamFeed // 行情源支持推送订阅时非 nil
	onBuy      BuyFunc

	mu      sync.Mutex
	entries map[string]*Entry // key = mint
	order   []string          // 插入顺序（淘汰用）

	priceTimeout time.Duration
}

// New 创建观察列表
func New(cfg *config.WatchlistConfig, feed ports.PriceFeed, priceTimeout time.Duration, onBuy BuyFunc) *Watchlist {
	sf, _ := feed.(ports.StreamFeed)
	return &Watchlist{
		cfg:          cfg,
		feed:         feed,
		streamFeed:   sf,
		onBuy:        onBuy,
		entries:      make(map[string]*Entry),
		priceTimeout: priceTimeout,
	}
}

// Add 加入观察。插入时必须有已知参考价；容量满则淘汰最老条目。
func (w *Watchlist) Add(opp *domain.Opportunity, now time.Time) bool {
	if opp == nil || opp.PriceSOL <= 0 {
		return false
	}
	w.mu.Lock()
	if _, ok := w.entries[opp.Mint]; ok {
		w.mu.Unlock()
		return false
	}
	var evicted []string
	for len(w.order) >= w.cfg.Capacity && len(w.order) > 0 {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.entries, oldest)
		evicted = append(evicted, oldest)
	}

	w.entries[opp.Mint] = &Entry{
		Opp:          opp,
		AddedAt:      now,
		HighPrice:    opp.PriceSOL,
		LowSinceHigh: opp.PriceSOL,
		CurrentPrice: opp.PriceSOL,
		State:        StateWatching,
	}
	w.order = append(w.order, opp.Mint)
	w.mu.Unlock()

	for _, m := range evicted {
		log.Debugf("📤 观察列表已满，淘汰最老条目: %s", m)
		w.unwatch(m)
	}
	w.watch(opp.Mint)
	log.Infof("👀 加入观察: %s price=%.8f", opp.Symbol, opp.PriceSOL)
	return true
}

// Len 当前观察条目数
func (w *Watchlist) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Entries 条目快照（控制面展示用）
func (w *Watchlist) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, *e)
	}
	return out
}

// Clear 清空（停机时调用）
func (w *Watchlist) Clear() {
	w.mu.Lock()
	mints := w.order
	w.entries = make(map[string]*Entry)
	w.order = nil
	w.mu.Unlock()
	for _, m := range mints {
		w.unwatch(m)
	}
}

// watch / unwatch 维护推送流订阅（行情源不支持时为空操作）
func (w *Watchlist) watch(mint string) {
	if w.streamFeed != nil {
		w.streamFeed.Watch(mint)
	}
}

func (w *Watchlist) unwatch(mint string) {
	if w.streamFeed != nil {
		w.streamFeed.Unwatch(mint)
	}
}

// Tick 逐条取价并推进状态机。单条取价失败只跳过该条目。
func (w *Watchlist) Tick(ctx context.Context, now time.Time) {
	w.mu.Lock()
	mints := make([]string, len(w.order))
	copy(mints, w.order)
	w.mu.Unlock()

	for _, mint := range mints {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// 观察总时长上限先于取价判定：取不到价的条目一样会到期移除
		w.mu.Lock()
		e, ok := w.entries[mint]
		expired := false
		if ok && now.Sub(e.AddedAt) > time.Duration(w.cfg.MaxWatchMin)*time.Minute {
			e.State = StateExpired
			w.removeLocked(mint)
			expired = true
		}
		w.mu.Unlock()
		if !ok {
			continue
		}
		if expired {
			metrics.WatchlistExpired.Add(1)
			log.Infof("⌛ 观察超时移除: %s", e.Opp.Symbol)
			w.unwatch(mint)
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, w.priceTimeout)
		price, err := w.feed.Price(fetchCtx, mint)
		cancel()
		if err != nil || price <= 0 {
			log.Debugf("⚠️ 观察取价失败: %s err=%v", e.Opp.Symbol, err)
			continue
		}

		var buyOpp *domain.Opportunity
		removed := false
		w.mu.Lock()
		if cur, ok := w.entries[mint]; ok {
			if final := w.advanceLocked(cur, price, now); final != "" {
				w.removeLocked(mint)
				removed = true
				if final == StateBuySignal {
					buyOpp = cur.Opp
				}
			}
		}
		w.mu.Unlock()

		// 回调在锁外触发，且每条目至多一次（条目已移除）
		if removed {
			w.unwatch(mint)
		}
		if buyOpp != nil && w.onBuy != nil {
			metrics.WatchlistBuys.Add(1)
			w.onBuy(buyOpp)
		}
	}
}

func (w *Watchlist) removeLocked(mint string) {
	delete(w.entries, mint)
	for i, m := range w.order {
		if m == mint {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// advanceLocked 推进单个条目。返回非空表示进入终态，需要移除。
func (w *Watchlist) advanceLocked(e *Entry, price float64, now time.Time) State {
	e.CurrentPrice = price
	e.LastCheck = now

	// 高水位与「高点后最低价」：创新高时重置低点
	if price > e.HighPrice {
		e.HighPrice = price
		e.LowSinceHigh = price
	} else if price < e.LowSinceHigh {
		e.LowSinceHigh = price
	}
	if e.HighPrice > 0 {
		e.RetracementPct = (e.HighPrice - e.LowSinceHigh) / e.HighPrice * 100.0
	}

	switch e.State {
	case StateWatching:
		if e.RetracementPct >= w.cfg.MaxDipPct {
			e.State = StateAbandoned
			metrics.WatchlistAbandoned.Add(1)
			log.Infof("🏳️ 回调过深放弃: %s ret=%.1f%%", e.Opp.Symbol, e.RetracementPct)
			return StateAbandoned
		}
		if e.RetracementPct >= w.cfg.MinDipPct {
			e.State = StateDipDetected
			log.Infof("📉 检测到回调: %s ret=%.1f%% → 等待反弹", e.Opp.Symbol, e.RetracementPct)
		}

	case StateDipDetected, StateWaitingRebound:
		// 回调确认后的下一次读数开始等待反弹
		if e.State == StateDipDetected {
			e.State = StateWaitingRebound
		}
		if e.RetracementPct >= w.cfg.MaxDipPct {
			e.State = StateAbandoned
			metrics.WatchlistAbandoned.Add(1)
			log.Infof("🏳️ 等待反弹中回调继续加深，放弃: %s ret=%.1f%%", e.Opp.Symbol, e.RetracementPct)
			return StateAbandoned
		}

		if e.confirmPending {
			if now.Before(e.confirmAt) {
				return ""
			}
			// 延迟复核：第二次读数仍需相对记录的低点达标
			if e.confirmLow > 0 && (price-e.confirmLow)/e.confirmLow*100.0 >= w.cfg.ReboundPct {
				e.State = StateBuySignal
				e.Opp.PriceSOL = price
				log.Infof("✅ 反弹确认通过: %s price=%.8f low=%.8f", e.Opp.Symbol, price, e.confirmLow)
				return StateBuySignal
			}
			e.confirmPending = false
			log.Debugf("↩️ 反弹复核未通过，继续等待: %s", e.Opp.Symbol)
			return ""
		}

		if e.LowSinceHigh > 0 && (price-e.LowSinceHigh)/e.LowSinceHigh*100.0 >= w.cfg.ReboundPct {
			e.confirmPending = true
			e.confirmAt = now.Add(time.Duration(w.cfg.ConfirmDelaySec) * time.Second)
			e.confirmLow = e.LowSinceHigh
			log.Debugf("🔁 反弹达标，%ds 后复核: %s", w.cfg.ConfirmDelaySec, e.Opp.Symbol)
		}
	}
	return ""
}
