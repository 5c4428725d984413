package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/snipebot/internal/domain"
)

func opp(mint string) *domain.Opportunity {
	return &domain.Opportunity{Mint: mint, Symbol: mint, Tier: domain.TierHigh}
}

func TestSerialProcessing(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var handled []string
	concurrent := 0
	maxConcurrent := 0

	p := New(8, func(_ context.Context, o *domain.Opportunity) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		concurrent--
		handled = append(handled, o.Mint)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for _, m := range []string{"a", "b", "c"} {
		require.True(t, p.Submit(opp(m)))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c"}, handled, "严格按提交顺序处理")
	assert.Equal(t, 1, maxConcurrent, "同一时刻最多一个在途")
	mu.Unlock()

	cancel()
	<-done
}

func TestSubmitDropsWhenFull(t *testing.T) {
	t.Parallel()
	p := New(2, func(context.Context, *domain.Opportunity) {})
	// 不启动 worker：填满缓冲后继续提交应被丢弃

	assert.True(t, p.Submit(opp("a")))
	assert.True(t, p.Submit(opp("b")))
	assert.False(t, p.Submit(opp("c")), "队列满直接丢弃，不阻塞")
}

func TestSubmitAfterClose(t *testing.T) {
	t.Parallel()
	p := New(2, func(context.Context, *domain.Opportunity) {})
	p.Close()
	p.Close() // 幂等

	assert.False(t, p.Submit(opp("a")))
}

func TestSubmitNil(t *testing.T) {
	t.Parallel()
	p := New(2, func(context.Context, *domain.Opportunity) {})
	assert.False(t, p.Submit(nil))
}
