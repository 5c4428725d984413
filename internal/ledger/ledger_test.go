package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/config"
)

func testRiskConfig() *config.RiskConfig {
	cfg := config.Default().Risk
	cfg.InitialCapitalSOL = 10
	return &cfg
}

func openPosition(mint string, capital float64) *domain.Position {
	return &domain.Position{
		ID:           "pos-" + mint,
		Mint:         mint,
		Symbol:       mint,
		EntryPrice:   0.001,
		EntryCapital: capital,
		Quantity:     capital / 0.001,
		EntryTime:    time.Now(),
		RemainingPct: 100,
		Status:       domain.PositionStatusOpen,
	}
}

func TestRegisterOpenDeductsAvailable(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())

	l.RegisterOpen(openPosition("mintA", 2))

	assert.Equal(t, 10.0, l.TotalCapital())
	assert.Equal(t, 8.0, l.AvailableCapital())
	assert.Equal(t, 1, l.OpenCount())
	assert.True(t, l.HasPosition("mintA"))
	assert.Equal(t, 1, l.Daily().Trades)
}

func TestApplyPartialClose(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())
	pos := openPosition("mintA", 2)
	l.RegisterOpen(pos)

	// 卖出原始仓位的 30%，成本 0.6，回收 0.9 → 盈利 0.3
	slicePnL := l.ApplyPartialClose(pos, 30, 0.9)

	assert.InDelta(t, 0.3, slicePnL, 1e-9)
	assert.InDelta(t, 70.0, pos.RemainingPct, 1e-9)
	assert.Equal(t, domain.PositionStatusPartial, pos.Status)
	assert.InDelta(t, 8.9, l.AvailableCapital(), 1e-9)
	assert.InDelta(t, 10.3, l.TotalCapital(), 1e-9)
	assert.InDelta(t, 0.3, l.Daily().PnLSOL, 1e-9)
	// 仓位仍在开放集合
	assert.True(t, l.HasPosition("mintA"))
}

func TestApplyPartialCloseClampsPoints(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())
	pos := openPosition("mintA", 2)
	l.RegisterOpen(pos)
	pos.RemainingPct = 20

	l.ApplyPartialClose(pos, 50, 0.5)

	assert.Equal(t, 0.0, pos.RemainingPct)
}

func TestApplyFullCloseWinLossCounting(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		proceeds float64
		wantWin  bool
	}{
		{"盈利计为胜", 2.5, true},
		{"亏损计为负", 1.5, false},
		{"持平计为负", 2.0, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			l := New(testRiskConfig())
			pos := openPosition("mintA", 2)
			l.RegisterOpen(pos)

			_, totalPnL := l.ApplyFullClose(pos, tc.proceeds, domain.CloseReasonTrailing)

			daily := l.Daily()
			assert.InDelta(t, tc.proceeds-2.0, totalPnL, 1e-9)
			assert.False(t, l.HasPosition("mintA"))
			assert.Equal(t, domain.PositionStatusClosed, pos.Status)
			if tc.wantWin {
				assert.Equal(t, 1, daily.Wins)
				assert.Equal(t, 0, daily.Losses)
			} else {
				assert.Equal(t, 0, daily.Wins)
				assert.Equal(t, 1, daily.Losses)
			}
		})
	}
}

func TestApplyFullCloseIdempotent(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())
	pos := openPosition("mintA", 2)
	l.RegisterOpen(pos)

	l.ApplyFullClose(pos, 2.4, domain.CloseReasonTrailing)
	totalBefore := l.TotalCapital()
	daily := l.Daily()

	// 第二次关闭是空操作
	l.ApplyFullClose(pos, 2.4, domain.CloseReasonTrailing)

	assert.Equal(t, totalBefore, l.TotalCapital())
	assert.Equal(t, daily, l.Daily())
}

func TestFullCloseAfterPartialUsesCommittedCost(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())
	pos := openPosition("mintA", 2)
	l.RegisterOpen(pos)

	l.ApplyPartialClose(pos, 50, 1.3) // 成本 1.0，盈利 0.3
	slicePnL, totalPnL := l.ApplyFullClose(pos, 1.2, domain.CloseReasonTrailing)

	// 剩余成本 1.0，回收 1.2 → 本切片 +0.2；总回收 2.5 − 投入 2.0 = +0.5
	assert.InDelta(t, 0.2, slicePnL, 1e-9)
	assert.InDelta(t, 0.5, totalPnL, 1e-9)
	assert.InDelta(t, 0.5, l.Daily().PnLSOL, 1e-9)
	assert.InDelta(t, 10.5, l.TotalCapital(), 1e-9)
	assert.InDelta(t, 10.5, l.AvailableCapital(), 1e-9)
}

func TestReconcileBalance(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())
	pos := openPosition("mintA", 2)
	l.RegisterOpen(pos)

	total, available := l.ReconcileBalance(9.5)

	assert.Equal(t, 9.5, total)
	assert.InDelta(t, 7.5, available, 1e-9)

	// 外部余额低于占用资金时可用资金钳到 0
	_, available = l.ReconcileBalance(1.0)
	assert.Equal(t, 0.0, available)
}

func TestMaybeRollDay(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())
	pos := openPosition("mintA", 2)
	l.RegisterOpen(pos)
	l.ApplyFullClose(pos, 2.6, domain.CloseReasonLadder)

	now := time.Now()
	assert.False(t, l.MaybeRollDay(now), "同一天不应滚动")

	require.True(t, l.MaybeRollDay(now.Add(24*time.Hour)))
	daily := l.Daily()
	assert.Equal(t, 0, daily.Trades)
	assert.Equal(t, 0.0, daily.PnLSOL)
	// 起始资金重置为当前总资金
	assert.Equal(t, l.TotalCapital(), l.InitialCapital())
}

func TestPauseState(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())

	paused, _ := l.PauseState()
	assert.False(t, paused)

	until := time.Now().Add(time.Hour)
	l.SetPause(until)
	paused, got := l.PauseState()
	assert.True(t, paused)
	assert.Equal(t, until, got)

	l.ClearPause()
	paused, _ = l.PauseState()
	assert.False(t, paused)
}

func TestMarkSeenBounded(t *testing.T) {
	t.Parallel()
	cfg := testRiskConfig()
	cfg.SeenCacheSize = 2
	l := New(cfg)

	assert.True(t, l.MarkSeen("a"))
	assert.False(t, l.MarkSeen("a"), "重复 mint 不再受理")
	assert.True(t, l.MarkSeen("b"))
	assert.True(t, l.MarkSeen("c")) // 淘汰 a

	assert.True(t, l.MarkSeen("a"), "被淘汰后允许再次受理")
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()
	l := New(testRiskConfig())
	pos := openPosition("mintA", 2)
	l.RegisterOpen(pos)
	l.SetPause(time.Now().Add(time.Hour))

	snap := l.Snapshot()

	l2 := New(testRiskConfig())
	l2.Restore(snap)

	assert.Equal(t, l.TotalCapital(), l2.TotalCapital())
	assert.Equal(t, l.AvailableCapital(), l2.AvailableCapital())
	assert.Equal(t, 1, l2.OpenCount())
	assert.True(t, l2.HasPosition("mintA"))
	paused, _ := l2.PauseState()
	assert.True(t, paused)
}
