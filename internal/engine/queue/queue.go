package queue

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
)

var log = logrus.WithField("module", "opp_queue")

// Handler 处理单个机会（串行调用，同一时刻最多一个在途）
type Handler func(ctx context.Context, opp *domain.Opportunity)

// Pipeline 把「发现机会 → 买入决策」串行化：
// 单 worker 消费，防止并发闸口评估在同一账本上打架
// （例如两个机会同时通过仓位数检查）。
type Pipeline struct {
	ch      chan *domain.Opportunity
	done    chan struct{}
	handler Handler

	mu       sync.Mutex
	inFlight bool

	closeOnce sync.Once
}

// New 创建管道；buffer <= 0 时取默认 32
func New(buffer int, handler Handler) *Pipeline {
	if buffer <= 0 {
		buffer = 32
	}
	return &Pipeline{
		ch:      make(chan *domain.Opportunity, buffer),
		done:    make(chan struct{}),
		handler: handler,
	}
}

// Submit 非阻塞投递；队列满或已关闭返回 false（直接丢弃，不等待）
func (p *Pipeline) Submit(opp *domain.Opportunity) bool {
	if opp == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.ch <- opp:
		return true
	default:
		log.Warnf("⚠️ 机会队列已满，丢弃: %s", opp.Symbol)
		return false
	}
}

// InFlight 当前是否有机会在处理中
func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Run 串行消费循环；ctx 取消或 Close 后退出
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case opp := <-p.ch:
			if opp == nil {
				continue
			}
			p.mu.Lock()
			p.inFlight = true
			p.mu.Unlock()

			p.handler(ctx, opp)

			p.mu.Lock()
			p.inFlight = false
			p.mu.Unlock()
		}
	}
}

// Close 关闭管道（幂等）
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
