package ledger

import (
	"sync"
	"time"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/config"
)

// Ledger 进程级共享账本：资金、开放仓位与当日绩效计数的唯一权威记录。
// 所有字段只通过本包方法修改，调用方拿不到内部引用的可变视图。
//
// 不变量: availableCapital = totalCapital − Σ(开放仓位 EntryCapital × RemainingPct/100)
type Ledger struct {
	mu sync.Mutex

	initialCapital   float64 // 当日起始资金（每日重置为 totalCapital）
	totalCapital     float64
	availableCapital float64
	reserveFloor     float64

	positions   map[string]*domain.Position // key = mint
	closedToday []*domain.Position
	closedCap   int

	dailyPnLSOL float64
	dailyTrades int
	dailyWins   int
	dailyLosses int
	dayKey      int64 // YYYYMMDD，跨日滚动

	paused     bool
	pauseUntil time.Time

	seen      map[string]struct{}
	seenOrder []string
	seenCap   int
}

// New 创建账本
func New(cfg *config.RiskConfig) *Ledger {
	l := &Ledger{
		initialCapital:   cfg.InitialCapitalSOL,
		totalCapital:     cfg.InitialCapitalSOL,
		availableCapital: cfg.InitialCapitalSOL,
		reserveFloor:     cfg.ReserveFloorSOL,
		positions:        make(map[string]*domain.Position),
		closedCap:        cfg.ClosedTodayCap,
		seen:             make(map[string]struct{}),
		seenCap:          cfg.SeenCacheSize,
	}
	l.dayKey = dayKeyOf(time.Now())
	return l
}

func dayKeyOf(t time.Time) int64 {
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// ---- 资金 ----

// TotalCapital 当前总资金（现金 + 按成本计的占用资金）
func (l *Ledger) TotalCapital() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalCapital
}

// AvailableCapital 当前可用现金
func (l *Ledger) AvailableCapital() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableCapital
}

// ReserveFloor 保留底仓
func (l *Ledger) ReserveFloor() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserveFloor
}

// InitialCapital 当日起始资金（当日亏损比例的分母）
func (l *Ledger) InitialCapital() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialCapital
}

// ReconcileBalance 用外部余额对账：外部余额为当前持有的总资金，
// 可用资金 = 外部余额 − 开放仓位占用（按剩余比例折算成本）。
func (l *Ledger) ReconcileBalance(externalSOL float64) (total, available float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	committed := 0.0
	for _, p := range l.positions {
		committed += p.CommittedCapital()
	}
	l.totalCapital = externalSOL
	l.availableCapital = externalSOL - committed
	if l.availableCapital < 0 {
		l.availableCapital = 0
	}
	return l.totalCapital, l.availableCapital
}

// ---- 仓位 ----

// OpenCount 开放仓位数
func (l *Ledger) OpenCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// HasPosition 该 mint 是否已有仓位
func (l *Ledger) HasPosition(mint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.positions[mint]
	return ok
}

// Position 按 mint 取仓位
func (l *Ledger) Position(mint string) (*domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[mint]
	return p, ok
}

// Positions 开放仓位列表（切片是拷贝，元素仍是共享指针）
func (l *Ledger) Positions() []*domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// RegisterOpen 记入新仓位并扣减可用资金
func (l *Ledger) RegisterOpen(pos *domain.Position) {
	if pos == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[pos.Mint] = pos
	l.availableCapital -= pos.EntryCapital
	l.dailyTrades++
}

// ApplyPartialClose 记入一次部分止盈。
// points 是按原始仓位计的比例点数（RemainingPct 直接减去 points）。
// 返回本切片的已实现盈亏。
func (l *Ledger) ApplyPartialClose(pos *domain.Position, points, proceedsSOL float64) float64 {
	if pos == nil || points <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if points > pos.RemainingPct {
		points = pos.RemainingPct
	}
	costOfSlice := pos.EntryCapital * points / 100.0
	slicePnL := proceedsSOL - costOfSlice

	pos.RemainingPct -= points
	pos.ReturnedSOL += proceedsSOL
	pos.Status = domain.PositionStatusPartial

	l.availableCapital += proceedsSOL
	l.totalCapital += slicePnL
	l.dailyPnLSOL += slicePnL
	return slicePnL
}

// ApplyFullClose 记入完全平仓：从开放集合移除、落当日计数（胜/负互斥）。
// 返回剩余部分的已实现盈亏与整仓总盈亏。
func (l *Ledger) ApplyFullClose(pos *domain.Position, proceedsSOL float64, reason domain.CloseReason) (slicePnL, totalPnL float64) {
	if pos == nil {
		return 0, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.positions[pos.Mint]; !ok {
		// 已被移除：关闭只发生一次
		return 0, pos.ReturnedSOL - pos.EntryCapital
	}

	cost := pos.CommittedCapital()
	slicePnL = proceedsSOL - cost

	pos.ReturnedSOL += proceedsSOL
	pos.RemainingPct = 0
	pos.Status = domain.PositionStatusClosed
	pos.CloseReason = reason

	delete(l.positions, pos.Mint)
	l.closedToday = append(l.closedToday, pos)
	if l.closedCap > 0 && len(l.closedToday) > l.closedCap {
		l.closedToday = l.closedToday[len(l.closedToday)-l.closedCap:]
	}

	l.availableCapital += proceedsSOL
	l.totalCapital += slicePnL
	l.dailyPnLSOL += slicePnL

	totalPnL = pos.ReturnedSOL - pos.EntryCapital
	if totalPnL > 0 {
		l.dailyWins++
	} else {
		l.dailyLosses++
	}
	return slicePnL, totalPnL
}

// ---- 当日绩效 ----

// DailyStats 当日绩效快照
type DailyStats struct {
	PnLSOL float64
	PnLPct float64
	Trades int
	Wins   int
	Losses int
}

// Daily 返回当日绩效
func (l *Ledger) Daily() DailyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	pct := 0.0
	if l.initialCapital > 0 {
		pct = l.dailyPnLSOL / l.initialCapital * 100.0
	}
	return DailyStats{
		PnLSOL: l.dailyPnLSOL,
		PnLPct: pct,
		Trades: l.dailyTrades,
		Wins:   l.dailyWins,
		Losses: l.dailyLosses,
	}
}

// MaybeRollDay 跨日时重置当日计数；成功滚动返回 true
func (l *Ledger) MaybeRollDay(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := dayKeyOf(now)
	if key == l.dayKey {
		return false
	}
	l.dayKey = key
	l.resetDailyLocked()
	return true
}

// ResetDaily 无条件重置当日计数（每日定时器触发）
func (l *Ledger) ResetDaily(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dayKey = dayKeyOf(now)
	l.resetDailyLocked()
}

func (l *Ledger) resetDailyLocked() {
	l.dailyPnLSOL = 0
	l.dailyTrades = 0
	l.dailyWins = 0
	l.dailyLosses = 0
	l.closedToday = nil
	l.initialCapital = l.totalCapital
}

// ---- 熔断 ----

// SetPause 进入暂停状态
func (l *Ledger) SetPause(until time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
	l.pauseUntil = until
}

// ClearPause 解除暂停
func (l *Ledger) ClearPause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	l.pauseUntil = time.Time{}
}

// PauseState 返回 (是否暂停, 截止时间)
func (l *Ledger) PauseState() (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused, l.pauseUntil
}

// ---- 去重 ----

// MarkSeen 标记 mint 已见；首次出现返回 true。集合有界，满时淘汰最老的。
func (l *Ledger) MarkSeen(mint string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[mint]; ok {
		return false
	}
	l.seen[mint] = struct{}{}
	l.seenOrder = append(l.seenOrder, mint)
	if l.seenCap > 0 && len(l.seenOrder) > l.seenCap {
		oldest := l.seenOrder[0]
		l.seenOrder = l.seenOrder[1:]
		delete(l.seen, oldest)
	}
	return true
}

// ---- 快照 ----

// Snapshot 账本快照（持久化与控制面用）
type Snapshot struct {
	InitialCapital   float64            `json:"initialCapital"`
	TotalCapital     float64            `json:"totalCapital"`
	AvailableCapital float64            `json:"availableCapital"`
	ReserveFloor     float64            `json:"reserveFloor"`
	OpenPositions    []*domain.Position `json:"openPositions"`
	DailyPnLSOL      float64            `json:"dailyPnlSOL"`
	DailyTrades      int                `json:"dailyTrades"`
	DailyWins        int                `json:"dailyWins"`
	DailyLosses      int                `json:"dailyLosses"`
	Paused           bool               `json:"paused"`
	PauseUntil       time.Time          `json:"pauseUntil"`
	DayKey           int64              `json:"dayKey"`
}

// Snapshot 导出当前状态
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := make([]*domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		cp := *p
		open = append(open, &cp)
	}
	return Snapshot{
		InitialCapital:   l.initialCapital,
		TotalCapital:     l.totalCapital,
		AvailableCapital: l.availableCapital,
		ReserveFloor:     l.reserveFloor,
		OpenPositions:    open,
		DailyPnLSOL:      l.dailyPnLSOL,
		DailyTrades:      l.dailyTrades,
		DailyWins:        l.dailyWins,
		DailyLosses:      l.dailyLosses,
		Paused:           l.paused,
		PauseUntil:       l.pauseUntil,
		DayKey:           l.dayKey,
	}
}

// Restore 从快照恢复（重启续跑当日计数）
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialCapital = s.InitialCapital
	l.totalCapital = s.TotalCapital
	l.availableCapital = s.AvailableCapital
	l.dailyPnLSOL = s.DailyPnLSOL
	l.dailyTrades = s.DailyTrades
	l.dailyWins = s.DailyWins
	l.dailyLosses = s.DailyLosses
	l.paused = s.Paused
	l.pauseUntil = s.PauseUntil
	l.dayKey = s.DayKey
	for _, p := range s.OpenPositions {
		if p != nil && p.IsOpen() {
			l.positions[p.Mint] = p
		}
	}
}
