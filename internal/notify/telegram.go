package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/events"
	"github.com/betbot/snipebot/pkg/config"
	"github.com/betbot/snipebot/pkg/ratelimit"
	sdkhttp "github.com/betbot/snipebot/pkg/sdk/http"
)

var log = logrus.WithField("module", "notify")

// Telegram 通知器：事件进有界队列，单 worker 发送，满了直接丢。
// 令牌桶限频，超频的消息同样丢弃。通知永远不反压核心。
// 实现 ports.Notifier。
type Telegram struct {
	http    *resty.Client
	chatID  int64
	limiter *ratelimit.TokenBucket
	ch      chan events.Event
}

// NewTelegram 创建通知器；token 从密钥库取出后传入
func NewTelegram(cfg *config.NotifyConfig, token string) *Telegram {
	ratePerSec := float64(cfg.RatePerMin) / 60.0
	return &Telegram{
		http: sdkhttp.NewClient(sdkhttp.Options{
			BaseURL:    "https://api.telegram.org/bot" + token,
			Timeout:    10 * time.Second,
			RetryCount: 1,
		}),
		chatID:  cfg.ChatID,
		limiter: ratelimit.NewTokenBucket(5, ratePerSec),
		ch:      make(chan events.Event, 64),
	}
}

// Notify 投递事件（非阻塞，队列满丢弃）
func (t *Telegram) Notify(evt events.Event) {
	if evt == nil {
		return
	}
	select {
	case t.ch <- evt:
	default:
		log.Debugf("⚠️ 通知队列已满，丢弃: %s", evt.EventKind())
	}
}

// Run 发送循环；ctx 取消后退出
func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-t.ch:
			if !t.limiter.Allow() {
				log.Debugf("⚠️ 通知限频，丢弃: %s", evt.EventKind())
				continue
			}
			t.send(ctx, format(evt))
		}
	}
}

func (t *Telegram) send(ctx context.Context, text string) {
	if text == "" {
		return
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id":    fmt.Sprintf("%d", t.chatID),
			"text":       text,
			"parse_mode": "HTML",
		}).
		Post("/sendMessage")
	if err != nil {
		log.Warnf("⚠️ Telegram 发送失败: %v", err)
		return
	}
	if resp.IsError() {
		log.Warnf("⚠️ Telegram 返回 %d: %s", resp.StatusCode(), resp.String())
	}
}

// format 把事件格式化成消息文本；未知事件返回空串
func format(evt events.Event) string {
	switch e := evt.(type) {
	case events.StartupEvent:
		mode := "实盘"
		if e.DryRun {
			mode = "纸交易"
		}
		return fmt.Sprintf("🤖 <b>启动</b>（%s）\n资金: %.4f SOL", mode, e.CapitalSOL)

	case events.DetectionEvent:
		o := e.Opportunity
		var b strings.Builder
		fmt.Fprintf(&b, "🔍 <b>新机会</b> %s\n评分: %.0f（%s）\n价格: %.8f SOL", o.Symbol, o.Score, o.Tier, o.PriceSOL)
		if len(o.Reasons) > 0 {
			fmt.Fprintf(&b, "\n依据: %s", strings.Join(o.Reasons, ", "))
		}
		return b.String()

	case events.BuyEvent:
		return fmt.Sprintf("🛒 <b>买入</b> %s\n投入: %.4f SOL\n成交价: %.8f\n评分: %.0f",
			e.Position.Symbol, e.Position.EntryCapital, e.Position.EntryPrice, e.Order.Score)

	case events.CloseEvent:
		r := e.Record
		emoji := "🟢"
		if r.PnLSOL < 0 {
			emoji = "🔴"
		}
		if e.Partial {
			return fmt.Sprintf("%s <b>部分止盈</b> %s（%.0f%%）\n回收: %.4f SOL（盈亏 %+.4f）",
				emoji, r.Symbol, e.Fraction, r.ReturnedSOL, r.PnLSOL)
		}
		return fmt.Sprintf("%s <b>平仓</b> %s\n原因: %s\n盈亏: %+.4f SOL（%+.1f%%）\n持仓: %s",
			emoji, r.Symbol, r.CloseReason, r.PnLSOL, r.PnLPct, r.Duration.Round(time.Second))

	case events.RiskAlertEvent:
		return fmt.Sprintf("🚨 <b>风控告警</b>\n%s\n当日盈亏: %+.4f SOL", e.Reason, e.DailyPnL)

	case events.SummaryEvent:
		return fmt.Sprintf("📊 <b>周期汇总</b>\n总资金: %.4f SOL\n当日盈亏: %+.4f（%+.1f%%）\n开放仓位: %d\n当日交易: %d（%dW/%dL）",
			e.TotalCapitalSOL, e.DailyPnLSOL, e.DailyPnLPct, e.OpenPositions, e.DailyTrades, e.DailyWins, e.DailyLosses)
	}
	return ""
}
