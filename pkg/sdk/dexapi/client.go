package dexapi

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/pkg/cache"
	"github.com/betbot/snipebot/pkg/config"
	sdkhttp "github.com/betbot/snipebot/pkg/sdk/http"
	"github.com/betbot/snipebot/pkg/sdk/stream"
)

var log = logrus.WithField("module", "dexapi")

// pairResp 行情 API 的交易对结构（只取用到的字段）
type pairResp struct {
	PriceNative string `json:"priceNative"` // 以 SOL 计价
	PriceUsd    string `json:"priceUsd"`
	Volume      struct {
		M5 float64 `json:"m5"`
		H1 float64 `json:"h1"`
	} `json:"volume"`
	Txns struct {
		M5 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"m5"`
	} `json:"txns"`
	PriceChange struct {
		M5 float64 `json:"m5"`
	} `json:"priceChange"`
	MarketCap float64 `json:"marketCap"` // USD
	Liquidity struct {
		Base float64 `json:"base"`
		USD  float64 `json:"usd"`
	} `json:"liquidity"`
}

type tokensResp struct {
	Pairs []pairResp `json:"pairs"`
}

// Client 行情数据源：推送流（如启用）→ 短 TTL 缓存 → REST，三级取价。
// 实现 ports.PriceFeed。
type Client struct {
	http       *resty.Client
	priceCache *cache.TTLCache[string, float64]
	statsCache *cache.TTLCache[string, *domain.TokenStats]
	stream     *stream.PriceStream // 可为 nil
}

// New 创建行情客户端；ps 传 nil 表示不用推送流
func New(cfg *config.FeedConfig, ps *stream.PriceStream) *Client {
	httpClient := sdkhttp.NewClient(sdkhttp.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		RetryCount: 1,
	})

	ttl := time.Duration(cfg.CacheTTLMs) * time.Millisecond
	return &Client{
		http:       httpClient,
		priceCache: cache.NewTTL[string, float64](ttl),
		statsCache: cache.NewTTL[string, *domain.TokenStats](ttl * 2),
		stream:     ps,
	}
}

// Watch 为 mint 打开推送流订阅（未启用推送流时为空操作）。
// 实现 ports.StreamFeed。
func (c *Client) Watch(mint string) {
	if c.stream != nil {
		c.stream.Subscribe(mint)
	}
}

// Unwatch 退订 mint 的推送流
func (c *Client) Unwatch(mint string) {
	if c.stream != nil {
		c.stream.Unsubscribe(mint)
	}
}

// Price 返回 token 最新价格（SOL）
func (c *Client) Price(ctx context.Context, mint string) (float64, error) {
	if c.stream != nil {
		if p, ok := c.stream.LastPrice(mint); ok {
			return p, nil
		}
	}
	if p, ok := c.priceCache.Get(mint); ok {
		return p, nil
	}

	pair, err := c.bestPair(ctx, mint)
	if err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(pair.PriceNative, 64)
	if err != nil || price <= 0 {
		return 0, errors.Errorf("行情价格非法: %q", pair.PriceNative)
	}
	c.priceCache.Set(mint, price)
	return price, nil
}

// Stats 返回二级确认信号（市值按 priceNative/priceUsd 折算成 SOL 口径）
func (c *Client) Stats(ctx context.Context, mint string) (*domain.TokenStats, error) {
	if st, ok := c.statsCache.Get(mint); ok {
		return st, nil
	}

	pair, err := c.bestPair(ctx, mint)
	if err != nil {
		return nil, err
	}
	priceSOL, _ := strconv.ParseFloat(pair.PriceNative, 64)
	priceUSD, _ := strconv.ParseFloat(pair.PriceUsd, 64)

	st := &domain.TokenStats{
		PriceSOL:         priceSOL,
		Volume5mSOL:      usdToSOL(pair.Volume.M5, priceSOL, priceUSD),
		Volume1hSOL:      usdToSOL(pair.Volume.H1, priceSOL, priceUSD),
		Buys5m:           pair.Txns.M5.Buys,
		Sells5m:          pair.Txns.M5.Sells,
		PriceChange5mPct: pair.PriceChange.M5,
		MarketCapSOL:     usdToSOL(pair.MarketCap, priceSOL, priceUSD),
		LiquiditySOL:     usdToSOL(pair.Liquidity.USD, priceSOL, priceUSD),
	}
	c.statsCache.Set(mint, st)
	return st, nil
}

// bestPair 取流动性最高的交易对
func (c *Client) bestPair(ctx context.Context, mint string) (*pairResp, error) {
	var out tokensResp
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/latest/dex/tokens/" + mint)
	if err != nil {
		return nil, errors.Wrap(err, "行情请求失败")
	}
	if resp.IsError() {
		return nil, errors.Errorf("行情请求返回 %d", resp.StatusCode())
	}
	if len(out.Pairs) == 0 {
		return nil, errors.Errorf("行情无交易对: %s", mint)
	}

	best := &out.Pairs[0]
	for i := 1; i < len(out.Pairs); i++ {
		if out.Pairs[i].Liquidity.USD > best.Liquidity.USD {
			best = &out.Pairs[i]
		}
	}
	return best, nil
}

func usdToSOL(usd, priceSOL, priceUSD float64) float64 {
	if priceUSD <= 0 || priceSOL <= 0 {
		return 0
	}
	// usd / (usd per sol)；usd per sol = priceUSD / priceSOL
	return usd * priceSOL / priceUSD
}
