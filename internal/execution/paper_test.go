package execution

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/config"
)

type fixedFeed struct {
	price float64
	err   error
}

func (f *fixedFeed) Price(context.Context, string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func (f *fixedFeed) Stats(context.Context, string) (*domain.TokenStats, error) {
	return nil, errors.New("not implemented")
}

func paperCfg() *config.ExecutorConfig {
	cfg := config.Default().Executor
	cfg.SlippageBps = 0 // 关掉滑点，断言干净
	return &cfg
}

func TestPaperBuy(t *testing.T) {
	t.Parallel()
	e := NewPaper(paperCfg(), &fixedFeed{price: 0.002})

	fill, err := e.Buy(context.Background(), &domain.TradeOrder{
		ID: "o1", Side: domain.SideBuy, Mint: "a", Symbol: "A", AmountSOL: 1,
	})

	require.NoError(t, err)
	assert.True(t, fill.Success)
	assert.Equal(t, 0.002, fill.FillPrice)
	assert.InDelta(t, 500.0, fill.Quantity, 1e-9)
	assert.Contains(t, fill.TxRef, "paper-")
}

func TestPaperBuySlippage(t *testing.T) {
	t.Parallel()
	cfg := paperCfg()
	cfg.SlippageBps = 100 // 1%
	e := NewPaper(cfg, &fixedFeed{price: 100})

	fill, err := e.Buy(context.Background(), &domain.TradeOrder{AmountSOL: 1, Mint: "a"})
	require.NoError(t, err)
	assert.InDelta(t, 101.0, fill.FillPrice, 1e-9, "买入按不利方向加滑点")
}

func TestPaperBuyFeedFailure(t *testing.T) {
	t.Parallel()
	e := NewPaper(paperCfg(), &fixedFeed{err: errors.New("down")})

	_, err := e.Buy(context.Background(), &domain.TradeOrder{AmountSOL: 1, Mint: "a"})
	assert.Error(t, err)
}

func sellPos() *domain.Position {
	return &domain.Position{
		Mint: "a", Symbol: "A",
		EntryPrice:   100,
		EntryCapital: 1,
		Quantity:     0.01,
		CurrentPrice: 100,
		RemainingPct: 100,
		Status:       domain.PositionStatusOpen,
	}
}

func TestPaperSellFullPosition(t *testing.T) {
	t.Parallel()
	e := NewPaper(paperCfg(), &fixedFeed{price: 110})

	res, err := e.Sell(context.Background(), sellPos(), 100, "test")
	require.NoError(t, err)
	assert.InDelta(t, 1.1, res.SOLReceived, 1e-9)
}

func TestPaperSellFraction(t *testing.T) {
	t.Parallel()
	e := NewPaper(paperCfg(), &fixedFeed{price: 110})

	res, err := e.Sell(context.Background(), sellPos(), 30, "test")
	require.NoError(t, err)
	assert.InDelta(t, 0.33, res.SOLReceived, 1e-9)
}

func TestPaperSellFallsBackToLastKnownPrice(t *testing.T) {
	t.Parallel()
	e := NewPaper(paperCfg(), &fixedFeed{err: errors.New("down")})
	pos := sellPos()
	pos.CurrentPrice = 95

	res, err := e.Sell(context.Background(), pos, 100, "dead data")
	require.NoError(t, err)
	assert.InDelta(t, 0.95, res.SOLReceived, 1e-9, "死数据平仓按最后已知价模拟")
}

func TestPaperSellLossClamp(t *testing.T) {
	t.Parallel()
	cfg := paperCfg()
	cfg.PaperMaxLossPct = 65
	e := NewPaper(cfg, &fixedFeed{price: 1}) // 理论回收 0.0001，亏 99.99%

	res, err := e.Sell(context.Background(), sellPos(), 100, "crash")
	require.NoError(t, err)
	// 回收不低于成本的 35%
	assert.InDelta(t, 0.35, res.SOLReceived, 1e-9)
}

func TestPaperSellClampDisabled(t *testing.T) {
	t.Parallel()
	cfg := paperCfg()
	cfg.PaperMaxLossPct = 0
	e := NewPaper(cfg, &fixedFeed{price: 1})

	res, err := e.Sell(context.Background(), sellPos(), 100, "crash")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, res.SOLReceived, 1e-9, "钳制关闭时按市价模拟")
}
