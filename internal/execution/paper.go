package execution

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/ports"
	"github.com/betbot/snipebot/pkg/config"
)

// PaperExecutor 纸交易执行器：用真实行情模拟成交，不碰链。
// 买入按当前价加滑点，卖出按当前价减滑点。
// 实现 ports.Executor。
type PaperExecutor struct {
	feed        ports.PriceFeed
	slippageBps int
	maxLossPct  float64 // 单笔模拟亏损真实感上限，仅模拟路径使用
}

// NewPaper 创建纸交易执行器
func NewPaper(cfg *config.ExecutorConfig, feed ports.PriceFeed) *PaperExecutor {
	return &PaperExecutor{
		feed:        feed,
		slippageBps: cfg.SlippageBps,
		maxLossPct:  cfg.PaperMaxLossPct,
	}
}

// Buy 模拟买入：当前价加滑点成交
func (e *PaperExecutor) Buy(ctx context.Context, order *domain.TradeOrder) (*domain.FillResult, error) {
	if order == nil || order.AmountSOL <= 0 {
		return nil, errors.New("非法买入订单")
	}
	price, err := e.feed.Price(ctx, order.Mint)
	if err != nil {
		return nil, errors.Wrap(err, "纸交易取价失败")
	}

	fillPrice := price * (1 + float64(e.slippageBps)/10000.0)
	quantity := order.AmountSOL / fillPrice
	log.Infof("📝 纸交易买入: %s amount=%.4f fill=%.8f qty=%.2f", order.Symbol, order.AmountSOL, fillPrice, quantity)
	return &domain.FillResult{
		Success:   true,
		FillPrice: fillPrice,
		Quantity:  quantity,
		TxRef:     "paper-" + uuid.NewString(),
	}, nil
}

// Sell 模拟卖出：当前价减滑点成交；取不到价时退回最后已知价
// （死数据平仓走的就是这条路）。
func (e *PaperExecutor) Sell(ctx context.Context, pos *domain.Position, fractionPct float64, reason string) (*domain.SellResult, error) {
	if pos == nil || fractionPct <= 0 {
		return nil, errors.New("非法卖出请求")
	}
	if fractionPct > 100 {
		fractionPct = 100
	}

	price, err := e.feed.Price(ctx, pos.Mint)
	if err != nil || price <= 0 {
		price = pos.CurrentPrice
	}
	if price <= 0 {
		return nil, errors.New("纸交易无可用价格")
	}

	sellPrice := price * (1 - float64(e.slippageBps)/10000.0)
	quantity := pos.RemainingQuantity() * fractionPct / 100.0
	proceeds := quantity * sellPrice

	// 模拟路径的真实感钳制：memecoin 也很少瞬间清零，
	// 单笔回收不低于成本的 (100-maxLossPct)%。不参与实盘。
	cost := pos.EntryCapital * (pos.RemainingPct * fractionPct / 100.0) / 100.0
	if e.maxLossPct > 0 {
		floor := cost * (1 - e.maxLossPct/100.0)
		if proceeds < floor {
			proceeds = floor
		}
	}

	log.Infof("📝 纸交易卖出: %s fraction=%.0f%% price=%.8f proceeds=%.4f（%s）",
		pos.Symbol, fractionPct, sellPrice, proceeds, reason)
	return &domain.SellResult{
		Success:     true,
		SOLReceived: proceeds,
		TxRef:       "paper-" + uuid.NewString(),
	}, nil
}
