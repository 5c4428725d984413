package solrpc

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	sdkhttp "github.com/betbot/snipebot/pkg/sdk/http"
)

// lamports 与 SOL 的换算基数
var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type balanceResponse struct {
	Result struct {
		Value uint64 `json:"value"` // lamports
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// Client Solana JSON-RPC 薄客户端，只做余额查询（账本对账用）。
// 实现 ports.BalanceSource。
type Client struct {
	http   *resty.Client
	wallet string // 钱包公钥（base58）
}

// New 创建 RPC 客户端
func New(endpoint, wallet string, timeout time.Duration) *Client {
	c := sdkhttp.NewClient(sdkhttp.Options{
		BaseURL:    endpoint,
		Timeout:    timeout,
		RetryCount: 2,
		RetryWait:  300 * time.Millisecond,
	})
	c.SetHeader("Content-Type", "application/json")
	return &Client{http: c, wallet: wallet}
}

// BalanceSOL 查询钱包余额并换算为 SOL（lamports 用 decimal 精确换算）
func (c *Client) BalanceSOL(ctx context.Context) (float64, error) {
	if c.wallet == "" {
		return 0, errors.New("未配置钱包公钥")
	}

	var out balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  "getBalance",
			Params:  []interface{}{c.wallet},
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return 0, errors.Wrap(err, "getBalance 请求失败")
	}
	if resp.IsError() {
		return 0, errors.Errorf("getBalance 返回 %d", resp.StatusCode())
	}
	if out.Error != nil {
		return 0, errors.Errorf("getBalance RPC 错误 %d: %s", out.Error.Code, out.Error.Message)
	}

	sol := decimal.NewFromUint64(out.Result.Value).Div(lamportsPerSOL)
	f, _ := sol.Float64()
	return f, nil
}
