package syncgroup

import "sync"

// SyncGroup 是 sync.WaitGroup 的薄包装：Go() 自动配对 Add/Done，
// 避免循环 goroutine 漏调 Done 导致 Wait 永久阻塞。
type SyncGroup struct {
	wg sync.WaitGroup
}

// New 创建 SyncGroup
func New() *SyncGroup {
	return &SyncGroup{}
}

// Go 启动一个被跟踪的 goroutine
func (g *SyncGroup) Go(fn func()) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait 等待所有 goroutine 完成
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
