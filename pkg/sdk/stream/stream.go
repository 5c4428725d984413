package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "price_stream")

const (
	writeWait      = 5 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 20 * time.Second
	reconnectMin   = time.Second
	reconnectMax   = 30 * time.Second
	staleTolerance = 10 * time.Second
)

type tickMsg struct {
	Mint     string  `json:"mint"`
	PriceSOL float64 `json:"priceSol"`
}

type subscribeMsg struct {
	Op    string   `json:"op"`
	Mints []string `json:"mints"`
}

type lastPrice struct {
	price float64
	at    time.Time
}

// PriceStream 推送行情通道：维护每个已订阅 mint 的最新成交价。
// 断线自动指数退避重连，重连后重放全部订阅。
// 这是 REST 取价前的快路径，过期数据不当真（LastPrice 自带新鲜度判断）。
type PriceStream struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]struct{}
	prices map[string]lastPrice
	closed bool
}

// New 创建行情流
func New(url string) *PriceStream {
	return &PriceStream{
		url:    url,
		subs:   make(map[string]struct{}),
		prices: make(map[string]lastPrice),
	}
}

// Subscribe 订阅 mint 的推送行情（幂等）
func (s *PriceStream) Subscribe(mint string) {
	if mint == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.subs[mint]; ok {
		s.mu.Unlock()
		return
	}
	s.subs[mint] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.send(conn, subscribeMsg{Op: "subscribe", Mints: []string{mint}})
	}
}

// Unsubscribe 退订并清除缓存价
func (s *PriceStream) Unsubscribe(mint string) {
	s.mu.Lock()
	delete(s.subs, mint)
	delete(s.prices, mint)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		s.send(conn, subscribeMsg{Op: "unsubscribe", Mints: []string{mint}})
	}
}

// LastPrice 返回最近推送价；过期（超过 staleTolerance）视为没有
func (s *PriceStream) LastPrice(mint string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lp, ok := s.prices[mint]
	if !ok || time.Since(lp.at) > staleTolerance {
		return 0, false
	}
	return lp.price, true
}

// Run 连接并维持行情流；ctx 取消后退出
func (s *PriceStream) Run(ctx context.Context) {
	backoff := reconnectMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connectAndServe(ctx); err != nil {
			log.Warnf("🔌 行情流断开: %v（%s 后重连）", err, backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (s *PriceStream) connectAndServe(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	mints := make([]string, 0, len(s.subs))
	for m := range s.subs {
		mints = append(mints, m)
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	log.Infof("🔌 行情流已连接: %s（重放订阅 %d 个）", s.url, len(mints))
	if len(mints) > 0 {
		if err := s.send(conn, subscribeMsg{Op: "subscribe", Mints: mints}); err != nil {
			return err
		}
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// ping 与 ctx 监听
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var tick tickMsg
		if err := json.Unmarshal(data, &tick); err != nil || tick.Mint == "" || tick.PriceSOL <= 0 {
			continue
		}
		s.mu.Lock()
		if _, subscribed := s.subs[tick.Mint]; subscribed {
			s.prices[tick.Mint] = lastPrice{price: tick.PriceSOL, at: time.Now()}
		}
		s.mu.Unlock()
	}
}

func (s *PriceStream) send(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
