package http

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// Options HTTP 客户端通用选项
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	AuthToken  string
}

// NewClient 创建带统一默认值的 resty 客户端。
// 各 SDK 适配器共用这一个入口，超时/重试口径保持一致。
func NewClient(opts Options) *resty.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 200 * time.Millisecond
	}

	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流优先按 Retry-After 头等待
			if resp.StatusCode() == 429 {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 5 * time.Second, nil
			}
			return 0, nil
		}).
		SetHeader("Accept", "application/json")
	if opts.AuthToken != "" {
		c.SetAuthToken(opts.AuthToken)
	}
	return c
}
