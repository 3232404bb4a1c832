package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

var (
	globalMgr *Chain
	once      sync.Once
)

// Chain 把 /ws 入口的中间件收拢到一处，启动期注册、运行期只读。
// Use 返回的总控按注册顺序执行，任一环 Abort 则后续不再走。
type Chain struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewChain() *Chain {
	return &Chain{}
}

// Manager 全局链（惰性初始化，线程安全）
func Manager() *Chain {
	once.Do(func() {
		globalMgr = NewChain()
	})
	return globalMgr
}

func (m *Chain) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

// Use 挂载到路由上的总控
func (m *Chain) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
