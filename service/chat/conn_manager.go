package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	errors "APChat/tools/errs"
)

// ===== 相位 =====

// Phase 连接在匹配生命周期中的相位。
// 合法迁移：IDLE->QUEUED、QUEUED->PAIRED、QUEUED->IDLE（取消）、PAIRED->IDLE（房间结束）。
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseQueued
	PhasePaired
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseQueued:
		return "QUEUED"
	case PhasePaired:
		return "PAIRED"
	default:
		return "UNKNOWN"
	}
}

// ===== 配置 =====

type ManagerConf struct {
	SendBuffer int              // 每连接发送队列容量
	IdleTTL    time.Duration    // 心跳静默超过该值由 sweeper 清理
	SweepEvery time.Duration    // 清理周期
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
}

// ===== 数据结构 =====

type WsConn struct {
	ConnID string
	UserID string // 可选：带 JWT 时绑定的账号，匿名连接为空

	Conn     *websocket.Conn
	SendChan chan []byte // 每连接独立发送队列（写协程独占消费）

	CreatedAt time.Time
	UpdatedAt time.Time
	Heartbeat time.Time
	ExpireAt  time.Time

	phase       Phase
	lastPartner string // 上一个搭档的 connID，重入队时用作排除
}

// ConnManager 注册表：connID -> 连接，含相位表与心跳清理。
// 相位只在持锁时变更，Mark* 校验迁移表，非法迁移一律拒绝。
type ConnManager struct {
	mu   sync.RWMutex
	byID map[string]*WsConn

	conf     ManagerConf
	gwID     string // 节点ID
	onEvict  func(connID string, phase Phase)
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewConnManager(gwID string) *ConnManager {
	return NewConnManagerWithConf(ManagerConf{}, gwID)
}

func NewConnManagerWithConf(conf ManagerConf, gwID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byID:   make(map[string]*WsConn),
		conf:   conf,
		gwID:   gwID,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) GwID() string { return m.gwID }

// OnEvict 注册 sweeper 淘汰回调（断连级联入口，启动时挂接一次）。
// 清扫协程会读它，读写都过 m.mu
func (m *ConnManager) OnEvict(fn func(connID string, phase Phase)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.byID {
		closeQuiet(w.Conn)
	}
	m.byID = map[string]*WsConn{}
}

// ===== 登记 / 查询 / 移除 =====

// Register 新连接登记，初始相位 IDLE。connID 重复视为异常（snowflake 不应撞）。
func (m *ConnManager) Register(connID, userID string, conn *websocket.Conn) (*WsConn, error) {
	if connID == "" {
		return nil, errors.ErrInternal.WrapMsg("connID empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[connID]; exists {
		return nil, errors.ErrDuplicateConnection.WrapMsg("conn=" + connID)
	}
	w := &WsConn{
		ConnID:    connID,
		UserID:    userID,
		Conn:      conn,
		SendChan:  make(chan []byte, m.conf.SendBuffer),
		CreatedAt: now,
		UpdatedAt: now,
		Heartbeat: now,
		ExpireAt:  now.Add(m.conf.IdleTTL),
		phase:     PhaseIdle,
	}
	m.byID[connID] = w
	return w, nil
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byID[connID]
	return w, ok
}

func (m *ConnManager) Exists(connID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[connID]
	return ok
}

// UserID 连接绑定的账号 id（匿名连接或已注销为空串）
func (m *ConnManager) UserID(connID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.byID[connID]; ok {
		return w.UserID
	}
	return ""
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Remove 注销并关闭连接，返回移除时刻的相位，调用方据此驱动级联
// （QUEUED -> 清队列条目；PAIRED -> 结束房间）。
func (m *ConnManager) Remove(connID string) (Phase, bool) {
	m.mu.Lock()
	w, ok := m.byID[connID]
	if ok {
		delete(m.byID, connID)
		// SendChan 关闭必须与 Push 的入队互斥（同一把锁），否则并发 Push 会撞上已关通道
		close(w.SendChan)
	}
	m.mu.Unlock()
	if !ok {
		return PhaseIdle, false
	}
	closeQuiet(w.Conn)
	return w.phase, true
}

// ===== 相位迁移 =====

func (m *ConnManager) Phase(connID string) (Phase, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byID[connID]
	if !ok {
		return PhaseIdle, false
	}
	return w.phase, true
}

// MarkQueued IDLE -> QUEUED。已在队/已配对分别报 AlreadyQueued/NotIdle。
func (m *ConnManager) MarkQueued(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byID[connID]
	if !ok {
		return errors.ErrNotFound.WrapMsg("conn=" + connID)
	}
	switch w.phase {
	case PhaseIdle:
		w.phase = PhaseQueued
		w.UpdatedAt = m.conf.Clock()
		return nil
	case PhaseQueued:
		return errors.ErrAlreadyQueued.WrapMsg("conn=" + connID)
	default:
		return errors.ErrNotIdle.WrapMsg("conn=" + connID, "phase", w.phase.String())
	}
}

// MarkPaired QUEUED -> PAIRED
func (m *ConnManager) MarkPaired(connID string) error {
	return m.transit(connID, PhaseQueued, PhasePaired)
}

// MarkIdle QUEUED/PAIRED -> IDLE（取消出队或房间结束）
func (m *ConnManager) MarkIdle(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byID[connID]
	if !ok {
		return errors.ErrNotFound.WrapMsg("conn=" + connID)
	}
	if w.phase == PhaseIdle {
		return errors.ErrInvalidTransition.WrapMsg("conn=" + connID, "from", "IDLE", "to", "IDLE")
	}
	w.phase = PhaseIdle
	w.UpdatedAt = m.conf.Clock()
	return nil
}

func (m *ConnManager) transit(connID string, from, to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byID[connID]
	if !ok {
		return errors.ErrNotFound.WrapMsg("conn=" + connID)
	}
	if w.phase != from {
		return errors.ErrInvalidTransition.WrapMsg(
			"conn=" + connID, "from", w.phase.String(), "to", to.String())
	}
	w.phase = to
	w.UpdatedAt = m.conf.Clock()
	return nil
}

// ===== 上一个搭档 =====

func (m *ConnManager) SetLastPartner(connID, partner string) {
	m.mu.Lock()
	if w, ok := m.byID[connID]; ok {
		w.lastPartner = partner
	}
	m.mu.Unlock()
}

func (m *ConnManager) LastPartner(connID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.byID[connID]; ok {
		return w.lastPartner
	}
	return ""
}

// ===== 推送 =====

// Push 非阻塞入发送队列；满即拒绝，慢消费者不准拖住中继路径。
// 入队动作持读锁完成（select 带 default 不会阻塞），与 Remove/sweep
// 持写锁关闭 SendChan 互斥：拿到条目就不可能再撞上已关通道。
func (m *ConnManager) Push(connID string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.byID[connID]
	if !ok {
		return errors.ErrNotFound.WrapMsg("conn=" + connID)
	}
	select {
	case w.SendChan <- data:
		return nil
	default:
		return errors.ErrDeliveryBackpressure.WrapMsg("conn=" + connID)
	}
}

// ===== 心跳 =====

func (m *ConnManager) RefreshHeartbeat(connID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byID[connID]
	if !ok {
		return errors.ErrNotFound.WrapMsg("conn=" + connID)
	}
	w.Heartbeat = now
	w.ExpireAt = now.Add(m.conf.IdleTTL)
	w.UpdatedAt = now
	return nil
}

// AttachPongHandler 绑定 gorilla/websocket 的 PongHandler，自动心跳续期
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, connID string) {
	if conn == nil || connID == "" {
		return
	}
	conn.SetPongHandler(func(appData string) error {
		_ = m.RefreshHeartbeat(connID) // 忽略错误：连接可能刚好被清理
		return nil
	})
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	type victim struct {
		w     *WsConn
		phase Phase
	}
	var expired []victim

	m.mu.Lock()
	for id, w := range m.byID {
		if now.After(w.ExpireAt) {
			expired = append(expired, victim{w: w, phase: w.phase})
			delete(m.byID, id)
			// 与 Remove 同一纪律：SendChan 在写锁内关；socket 收集后统一关
			close(w.SendChan)
		}
	}
	onEvict := m.onEvict
	m.mu.Unlock()

	for _, v := range expired {
		closeQuiet(v.w.Conn)
		if onEvict != nil {
			onEvict(v.w.ConnID, v.phase)
		}
	}
}

// ===== 工具函数 =====

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
