package execution

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/config"
	sdkhttp "github.com/betbot/snipebot/pkg/sdk/http"
)

var log = logrus.WithField("module", "execution")

// tradeRequest 交易中继 API 的下单请求
type tradeRequest struct {
	Action      string  `json:"action"` // buy / sell
	Mint        string  `json:"mint"`
	AmountSOL   float64 `json:"amountSol,omitempty"`   // 买入投入
	SellPct     float64 `json:"sellPct,omitempty"`     // 卖出比例（相对当前持仓）
	SlippageBps int     `json:"slippageBps"`
	PriorityFee bool    `json:"priorityFee,omitempty"` // 高优先级路由
}

type tradeResponse struct {
	Signature   string  `json:"signature"`
	SOLAmount   float64 `json:"solAmount"`   // 实际花费/回收的 SOL
	TokenAmount float64 `json:"tokenAmount"` // 实际买到/卖出的 token 数量
	Error       string  `json:"error"`
}

// LiveExecutor 实盘执行器：走托管交易中继 API（签名由中继侧完成）。
// 实现 ports.Executor。失败只返回错误，不做自动重试，重试策略归核心决定。
type LiveExecutor struct {
	http        *resty.Client
	slippageBps int
}

// NewLive 创建实盘执行器；apiKey 从密钥库取出后传入
func NewLive(cfg *config.ExecutorConfig, apiKey string) *LiveExecutor {
	c := sdkhttp.NewClient(sdkhttp.Options{
		BaseURL:   cfg.BaseURL,
		Timeout:   time.Duration(cfg.TimeoutMs) * time.Millisecond,
		AuthToken: apiKey,
	})
	c.SetHeader("Content-Type", "application/json")
	return &LiveExecutor{http: c, slippageBps: cfg.SlippageBps}
}

// Buy 按订单买入
func (e *LiveExecutor) Buy(ctx context.Context, order *domain.TradeOrder) (*domain.FillResult, error) {
	if order == nil || order.AmountSOL <= 0 {
		return nil, errors.New("非法买入订单")
	}

	req := tradeRequest{
		Action:      "buy",
		Mint:        order.Mint,
		AmountSOL:   order.AmountSOL,
		SlippageBps: e.slippageBps,
		PriorityFee: order.Priority == domain.PriorityHigh,
	}
	out, err := e.trade(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.TokenAmount <= 0 || out.SOLAmount <= 0 {
		return nil, errors.Errorf("买入成交数据非法: sol=%.6f tokens=%.2f", out.SOLAmount, out.TokenAmount)
	}

	log.Infof("✅ 买入成交: %s spent=%.4f SOL tokens=%.2f sig=%s", order.Symbol, out.SOLAmount, out.TokenAmount, out.Signature)
	return &domain.FillResult{
		Success:   true,
		FillPrice: out.SOLAmount / out.TokenAmount,
		Quantity:  out.TokenAmount,
		TxRef:     out.Signature,
	}, nil
}

// Sell 卖出仓位的指定比例（相对剩余持仓）
func (e *LiveExecutor) Sell(ctx context.Context, pos *domain.Position, fractionPct float64, reason string) (*domain.SellResult, error) {
	if pos == nil || fractionPct <= 0 {
		return nil, errors.New("非法卖出请求")
	}
	if fractionPct > 100 {
		fractionPct = 100
	}

	req := tradeRequest{
		Action:      "sell",
		Mint:        pos.Mint,
		SellPct:     fractionPct,
		SlippageBps: e.slippageBps,
	}
	out, err := e.trade(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.SOLAmount <= 0 {
		return nil, errors.Errorf("卖出成交数据非法: sol=%.6f", out.SOLAmount)
	}

	log.Infof("✅ 卖出成交: %s fraction=%.0f%% received=%.4f SOL sig=%s（%s）",
		pos.Symbol, fractionPct, out.SOLAmount, out.Signature, reason)
	return &domain.SellResult{
		Success:     true,
		SOLReceived: out.SOLAmount,
		TxRef:       out.Signature,
	}, nil
}

func (e *LiveExecutor) trade(ctx context.Context, req tradeRequest) (*tradeResponse, error) {
	var out tradeResponse
	resp, err := e.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/trade")
	if err != nil {
		return nil, errors.Wrapf(err, "交易请求失败: %s %s", req.Action, req.Mint)
	}
	if resp.IsError() {
		return nil, errors.Errorf("交易请求返回 %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != "" {
		return nil, errors.Errorf("交易被拒: %s", out.Error)
	}
	if out.Signature == "" {
		return nil, errors.New("交易响应缺少签名")
	}
	return &out, nil
}
