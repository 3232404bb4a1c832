package match

import (
	"context"
	"sync"
	"time"

	"APChat/logger"
	"APChat/service/room"
	"APChat/service/storage"
	errors "APChat/tools/errs"
	"APChat/tools/safe"
)

// ConnRegistry 协调器需要的最小注册表能力（由连接层实现）。
// Mark* 内部校验相位迁移：IDLE->QUEUED、QUEUED->PAIRED、QUEUED->IDLE。
type ConnRegistry interface {
	Exists(connID string) bool
	MarkQueued(connID string) error
	MarkPaired(connID string) error
	MarkIdle(connID string) error
}

type Config struct {
	QueueTTL       time.Duration // 超过视为 stale，sweep 清理
	FallbackWindow time.Duration // 带标签条目超窗后按"任意话题"重试
	SweepEvery     time.Duration
	MaxClaimRetry  int              // 局部候选失效时的连环重试上限
	Clock          func() time.Time // 可注入时钟（单测用）
}

func (c *Config) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Second
	}
	if c.QueueTTL <= 0 {
		c.QueueTTL = 2 * time.Minute
	}
	if c.MaxClaimRetry <= 0 {
		c.MaxClaimRetry = 4
	}
}

// Result TryMatch 的产出：Matched=false 即 Pending（已入队等待）
type Result struct {
	Matched bool
	Room    *room.Room
}

// queuedEntry 本地在队记账：回退重试要复用原始入队参数
type queuedEntry struct {
	at      time.Time
	tags    []string
	exclude []string
}

// Coordinator 配对协调器：唯一消除竞态的位置。
// "选中+移除"合并为存储层单次原子操作（Redis 脚本 / 内存单锁），
// 任何 QueueEntry 至多被一次成功匹配消费；被并发抢走就换下一个候选重试。
type Coordinator struct {
	store storage.QueueStore
	reg   ConnRegistry
	rooms *room.Manager
	conf  Config

	// 本进程入队的连接及其入队参数：回退窗口重试只为本地连接发起，
	// 重试时带回原始 exclude（互斥名单不随回退放宽）
	mu     sync.Mutex
	queued map[string]*queuedEntry

	// 每次配对成功都会回调（含清扫线程的回退配对），连接层借此向双方推 MATCHED
	onMatched func(r *room.Room)

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewCoordinator(store storage.QueueStore, reg ConnRegistry, rooms *room.Manager, conf Config) *Coordinator {
	conf.norm()
	c := &Coordinator{
		store:  store,
		reg:    reg,
		rooms:  rooms,
		conf:   conf,
		queued: make(map[string]*queuedEntry),
		stopCh: make(chan struct{}),
	}
	safe.SafeGo(c.sweeper)
	return c
}

// OnMatched 注册配对成功回调（连接层在启动时挂接）。
// 清扫协程也会经 claimLoop 读到它，读写都过 c.mu
func (c *Coordinator) OnMatched(fn func(r *room.Room)) {
	c.mu.Lock()
	c.onMatched = fn
	c.mu.Unlock()
}

func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// TryMatch 找一个兼容对手并原子摘走；没有就把自己入队返回 Pending。
// exclude 通常带上一个搭档的 connID，避免立刻重逢。
func (c *Coordinator) TryMatch(ctx context.Context, connID string, tags, exclude []string) (*Result, error) {
	if err := c.reg.MarkQueued(connID); err != nil {
		return nil, err
	}
	res, err := c.claimLoop(ctx, connID, tags, exclude, false)
	if err != nil {
		// 入队失败回滚相位，连接仍可用
		_ = c.reg.MarkIdle(connID)
		return nil, err
	}
	return res, nil
}

// claimLoop 执行 claim；候选已本地失联时换下一个候选继续，而不是整体失败
func (c *Coordinator) claimLoop(ctx context.Context, connID string, tags, exclude []string, wildcard bool) (*Result, error) {
	now := c.conf.Clock()
	skip := append([]string(nil), exclude...)

	for attempt := 0; attempt < c.conf.MaxClaimRetry; attempt++ {
		if !c.reg.Exists(connID) {
			// 连接在尝试中途被销毁：终止，不建房，清掉可能已写入的队列条目
			_ = c.store.Cancel(ctx, connID)
			c.forget(connID)
			return nil, errors.ErrStaleConnection.WrapMsg("conn=" + connID)
		}

		claim, err := c.store.Claim(ctx, storage.ClaimRequest{
			ConnID:   connID,
			Tags:     tags,
			Exclude:  skip,
			Wildcard: wildcard,
			NowMS:    now.UnixMilli(),
		})
		if err != nil {
			return nil, err
		}
		if !claim.Matched {
			// NoCandidate 不是错误：留在队里等待
			c.remember(connID, now, tags, exclude)
			return &Result{Matched: false}, nil
		}

		partner := claim.Partner.ConnID
		if err := c.reg.MarkPaired(partner); err != nil {
			// 候选条目已被摘走但其连接不在本进程（远端托管或刚断连）
			logger.Warnf("[match] claimed unreachable candidate conn=%s partner=%s: %v", connID, partner, err)
			if !c.reg.Exists(partner) {
				// 条目还回去，保住对方的排队资历；真断连的残留由 stale sweep 兜底
				if rerr := c.store.Restore(ctx, *claim.Partner); rerr != nil {
					logger.Errorf("[match] restore entry conn=%s: %v", partner, rerr)
				}
			}
			skip = append(skip, partner)
			continue
		}
		if err := c.reg.MarkPaired(connID); err != nil {
			// 自己这头在 claim 后被销毁：对方回到队列，排队资历不清零
			c.requeuePartner(ctx, claim.Partner)
			c.forget(connID)
			return nil, errors.ErrStaleConnection.WrapMsg("conn=" + connID)
		}

		r, err := c.rooms.Create(claim.Partner.ConnID, connID)
		if err != nil {
			c.requeuePartner(ctx, claim.Partner)
			_ = c.reg.MarkIdle(connID)
			c.forget(connID)
			return nil, err
		}
		c.forget(connID)
		c.forget(partner)
		c.mu.Lock()
		matched := c.onMatched
		c.mu.Unlock()
		if matched != nil {
			matched(r)
		}
		return &Result{Matched: true, Room: r}, nil
	}

	// 连环撞上失效候选：入队等待，不算失败
	c.remember(connID, now, tags, exclude)
	return &Result{Matched: false}, nil
}

// Cancel 主动撤出队列。与进行中的 claim 走同一原子原语互斥：
// 条目还在 -> 撤掉并回 IDLE；已被 claim 消费 -> 幂等返回（此刻已经配上了）。
func (c *Coordinator) Cancel(ctx context.Context, connID string) error {
	if err := c.store.Cancel(ctx, connID); err != nil {
		return err
	}
	c.forget(connID)
	if err := c.reg.MarkIdle(connID); err != nil {
		// QUEUED->IDLE 失败说明并发 claim 赢了（相位已是 PAIRED）：no-op
		logger.Debugf("[match] cancel raced with claim conn=%s: %v", connID, err)
	}
	return nil
}

// Dequeue 断连级联入口：只清存储与本地记账，相位由注册表删除自行处理
func (c *Coordinator) Dequeue(ctx context.Context, connID string) {
	_ = c.store.Cancel(ctx, connID)
	c.forget(connID)
}

// requeuePartner 把已被摘走却没能成行的对方放回：存储条目复原（保留原
// enqueue 时间），相位经 IDLE 退回 QUEUED；对方不在本进程时只还条目
func (c *Coordinator) requeuePartner(ctx context.Context, e *storage.QueueEntry) {
	if err := c.store.Restore(ctx, *e); err != nil {
		logger.Errorf("[match] restore entry conn=%s: %v", e.ConnID, err)
	}
	if c.reg.Exists(e.ConnID) {
		_ = c.reg.MarkIdle(e.ConnID)
		if err := c.reg.MarkQueued(e.ConnID); err != nil {
			logger.Warnf("[match] requeue conn=%s: %v", e.ConnID, err)
		}
	}
}

func (c *Coordinator) remember(connID string, at time.Time, tags, exclude []string) {
	c.mu.Lock()
	if _, ok := c.queued[connID]; !ok {
		c.queued[connID] = &queuedEntry{
			at:      at,
			tags:    append([]string(nil), tags...),
			exclude: append([]string(nil), exclude...),
		}
	}
	c.mu.Unlock()
}

func (c *Coordinator) forget(connID string) {
	c.mu.Lock()
	delete(c.queued, connID)
	c.mu.Unlock()
}

// QueuedSince 本地在队时间（单测用）
func (c *Coordinator) QueuedSince(connID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.queued[connID]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// ===== 清扫协程：stale 回收 + 回退窗口重试 =====

func (c *Coordinator) sweeper() {
	t := time.NewTicker(c.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case now := <-t.C:
			c.SweepOnce(context.Background(), now)
		}
	}
}

// SweepOnce 单轮清扫（导出供单测直接驱动）
func (c *Coordinator) SweepOnce(ctx context.Context, now time.Time) {
	// 1) 跨进程 stale 条目回收（进程崩溃没走断连级联时的兜底）
	victims, err := c.store.SweepStale(ctx, now.Add(-c.conf.QueueTTL).UnixMilli())
	if err != nil {
		logger.Errorf("[match] sweep stale failed: %v", err)
	}
	for _, v := range victims {
		c.forget(v)
		if c.reg.Exists(v) {
			_ = c.reg.MarkIdle(v)
		}
	}

	// 2) 回退：本地在队超窗的连接按"任意话题"再试一把
	if c.conf.FallbackWindow <= 0 {
		return
	}
	c.mu.Lock()
	overdue := make(map[string]*queuedEntry)
	for id, e := range c.queued {
		if now.Sub(e.at) >= c.conf.FallbackWindow {
			overdue[id] = e
		}
	}
	c.mu.Unlock()

	for id, e := range overdue {
		// 本轮前面的回退配对可能已把它撮合掉
		if _, still := c.QueuedSince(id); !still {
			continue
		}
		if !c.reg.Exists(id) {
			c.Dequeue(ctx, id)
			continue
		}
		// 回退只放宽话题过滤；互斥名单原样带上
		res, err := c.claimLoop(ctx, id, e.tags, e.exclude, true)
		if err != nil {
			logger.Warnf("[match] fallback claim conn=%s: %v", id, err)
			continue
		}
		if res.Matched {
			logger.Infof("[match] fallback matched conn=%s room=%s", id, res.Room.ID)
		}
	}
}
