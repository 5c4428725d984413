package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenDeny(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(3, 0.001) // 补充极慢，专测突发容量

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "令牌耗尽后拒绝")
}

func TestRefill(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(1, 50) // 每秒 50 个 → 20ms 一个

	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	time.Sleep(40 * time.Millisecond)
	assert.True(t, tb.Allow(), "等待后补充令牌")
}

func TestRefillCapped(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(2, 1000)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, tb.Remaining(), "补充不超过突发上限")
}

func TestDefensiveDefaults(t *testing.T) {
	t.Parallel()
	tb := NewTokenBucket(0, -1)
	assert.True(t, tb.Allow(), "非法参数回退到最小可用配置")
}
