package events

import (
	"context"
	"time"

	"APChat/logger"
	"APChat/tools/safe"
)

// Sink 单个事件出口
type Sink interface {
	Name() string
	Emit(ctx context.Context, ev Event) error
}

// Publisher 发布口。实现必须 fire-and-forget：
// 不允许阻塞或失败房间状态迁移（失败只记日志，重试归外部协作方）。
type Publisher interface {
	Publish(ev Event)
}

// Fanout 异步扇出到所有 sink
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, timeout: 5 * time.Second}
}

func (f *Fanout) Publish(ev Event) {
	for _, s := range f.sinks {
		s := s
		safe.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()
			if err := s.Emit(ctx, ev); err != nil {
				logger.Errorf("[events] sink=%s kind=%s room=%s emit failed: %v",
					s.Name(), ev.Kind, ev.RoomID, err)
			}
		})
	}
}

// Nop 无 sink 时的占位
type Nop struct{}

func (Nop) Publish(Event) {}
