package room

import (
	"sync"
	"time"

	"APChat/logger"
	"APChat/service/events"
	errors "APChat/tools/errs"
	"APChat/tools/ids"
	"APChat/tools/safe"
)

type Config struct {
	WaitingTimeout time.Duration // WAITING 无信令超时 -> ENDED(TIMEOUT)
	ActiveTimeout  time.Duration // ACTIVE 无流量超时 -> ENDED(TIMEOUT)
	SweepEvery     time.Duration
	Clock          func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *Config) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Second
	}
	if c.WaitingTimeout <= 0 {
		c.WaitingTimeout = 30 * time.Second
	}
	if c.ActiveTimeout <= 0 {
		c.ActiveTimeout = 10 * time.Minute
	}
}

// Manager 房间注册表 + 超时清扫。
// byConn 维护 connID -> roomID 反查（断连级联用显式索引，不持有连接对象）。
type Manager struct {
	mu     sync.RWMutex
	byID   map[string]*Room
	byConn map[string]string

	conf     Config
	notifier Notifier
	pub      events.Publisher

	// 房间结束后的回调：连接层借此把双方打回 IDLE、记录上一个搭档。
	// 与 userOf 一样由启动接线写入、清扫协程读取，读写都过 m.mu
	onEnded func(roomID string, participants [2]string, reason EndReason)
	// 可选：connID -> 账号 id（匿名为空串），生命周期事件随之带出
	userOf func(connID string) string

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewManager(conf Config, notifier Notifier, pub events.Publisher) *Manager {
	conf.norm()
	if pub == nil {
		pub = events.Nop{}
	}
	m := &Manager{
		byID:     make(map[string]*Room),
		byConn:   make(map[string]string),
		conf:     conf,
		notifier: notifier,
		pub:      pub,
		stopCh:   make(chan struct{}),
	}
	safe.SafeGo(m.sweeper)
	return m
}

// OnEnded 注册房间终态回调（启动时接线，运行期不再变）
func (m *Manager) OnEnded(fn func(roomID string, participants [2]string, reason EndReason)) {
	m.mu.Lock()
	m.onEnded = fn
	m.mu.Unlock()
}

// UserResolver 注册账号解析回调（启动时接线，运行期不再变）
func (m *Manager) UserResolver(fn func(connID string) string) {
	m.mu.Lock()
	m.userOf = fn
	m.mu.Unlock()
}

func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	// 优雅收尾：剩余房间按显式结束处理
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.byID))
	for _, r := range m.byID {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()
	for _, r := range rooms {
		m.endRoom(r, ReasonExplicitEnd, "")
	}
}

// Create 建房（由配对协调器在原子 claim 成功后调用）。
// 不变式：一个连接同一时刻至多归属一个非 ENDED 房间。
func (m *Manager) Create(a, b string) (*Room, error) {
	now := m.conf.Clock()
	r := newRoom(ids.GenerateString(), a, b, now)

	m.mu.Lock()
	if rid, ok := m.byConn[a]; ok {
		m.mu.Unlock()
		return nil, errors.ErrInternal.WrapMsg("conn already in room", "conn", a, "room", rid)
	}
	if rid, ok := m.byConn[b]; ok {
		m.mu.Unlock()
		return nil, errors.ErrInternal.WrapMsg("conn already in room", "conn", b, "room", rid)
	}
	// 账号 id 在此刻定格：房间结束时连接可能已注销，届时查不到了
	if m.userOf != nil {
		r.UserA, r.UserB = m.userOf(a), m.userOf(b)
	}
	m.byID[r.ID] = r
	m.byConn[a] = r.ID
	m.byConn[b] = r.ID
	m.mu.Unlock()

	m.pub.Publish(events.Event{
		Kind:         events.KindRoomCreated,
		RoomID:       r.ID,
		Participants: []string{a, b},
		UserIDs:      r.userIDs(),
		CreatedAt:    now,
		TS:           now.UnixMilli(),
	})
	return r, nil
}

func (m *Manager) get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[roomID]
	return r, ok
}

// Get 房间快照
func (m *Manager) Get(roomID string) (Info, bool) {
	r, ok := m.get(roomID)
	if !ok {
		return Info{}, false
	}
	return r.Snapshot(), true
}

// RoomOf 反查连接所在的非 ENDED 房间
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rid, ok := m.byConn[connID]
	return rid, ok
}

// Relay 转发信令：READY 在 WAITING 受理，LEAVE 任意状态受理，
// 其余 kind 仅 ACTIVE；成功时原样送达对端并刷新活跃时间。
func (m *Manager) Relay(roomID, sender string, kind Kind, body []byte) error {
	r, ok := m.get(roomID)
	if !ok {
		// 房间不在注册表：要么从未存在，要么已终结并被摘除
		return errors.ErrRoomEnded.WrapMsg("room=" + roomID)
	}
	peer, isMember := r.other(sender)
	if !isMember {
		return errors.ErrNotParticipant.WrapMsg("room=" + roomID, "sender", sender)
	}
	now := m.conf.Clock()

	switch kind {
	case KindLeave:
		m.endRoom(r, ReasonExplicitEnd, sender)
		return nil
	case KindReady:
		activated, err := r.markReady(sender, now)
		if err != nil {
			return err
		}
		m.pub.Publish(events.Event{
			Kind:         events.KindParticipantReady,
			RoomID:       r.ID,
			Participants: []string{r.A, r.B},
			UserIDs:      r.userIDs(),
			ConnID:       sender,
			TS:           now.UnixMilli(),
		})
		if activated {
			logger.Infof("[room] activated room=%s a=%s b=%s", r.ID, r.A, r.B)
		}
		// READY 也照转发：对端据此判断双方就绪
	default:
		if err := r.touchRelay(now); err != nil {
			return err
		}
	}

	env := Envelope{RoomID: r.ID, Sender: sender, Kind: kind, Body: body, TS: now.UnixMilli()}
	if err := m.notifier.Deliver(peer, env); err != nil {
		// 对端出口拥塞/已消失：快速失败，由发送方重试或放弃
		return err
	}
	return nil
}

// EndForConn 断连级联：结束该连接所在房间，幸存方收到 PARTNER_LEFT。
// 返回是否真的结束了一个房间（重复断连拿 false，幂等）。
func (m *Manager) EndForConn(connID string, reason EndReason) bool {
	m.mu.RLock()
	rid, ok := m.byConn[connID]
	var r *Room
	if ok {
		r = m.byID[rid]
	}
	m.mu.RUnlock()
	if r == nil {
		return false
	}
	return m.endRoom(r, reason, connID)
}

// endRoom 终态迁移 + 摘索引 + 通知 + 发事件。byConn 为触发方（无则两边都视为被动结束）。
func (m *Manager) endRoom(r *Room, reason EndReason, byConn string) bool {
	now := m.conf.Clock()
	if !r.end(reason, now) {
		return false // 已有一侧先行终结，这里是幂等 no-op
	}

	m.mu.Lock()
	delete(m.byID, r.ID)
	delete(m.byConn, r.A)
	delete(m.byConn, r.B)
	onEnded := m.onEnded
	m.mu.Unlock()

	// 通知：触发方以外的一侧是"被留下的人"
	if byConn != "" {
		if peer, ok := r.other(byConn); ok {
			m.notifier.NotifyPartnerLeft(peer, r.ID)
			m.notifier.NotifyRoomEnded(peer, r.ID, reason)
		}
		m.notifier.NotifyRoomEnded(byConn, r.ID, reason)
	} else {
		m.notifier.NotifyRoomEnded(r.A, r.ID, reason)
		m.notifier.NotifyRoomEnded(r.B, r.ID, reason)
	}

	if onEnded != nil {
		onEnded(r.ID, [2]string{r.A, r.B}, reason)
	}

	snap := r.Snapshot()
	m.pub.Publish(events.Event{
		Kind:         events.KindRoomEnded,
		RoomID:       r.ID,
		Participants: []string{r.A, r.B},
		UserIDs:      r.userIDs(),
		Reason:       string(reason),
		CreatedAt:    snap.CreatedAt,
		ActivatedAt:  snap.ActivatedAt,
		EndedAt:      now,
		TS:           now.UnixMilli(),
	})
	logger.Infof("[room] ended room=%s reason=%s", r.ID, reason)
	return true
}

// ===== 清扫协程 =====

func (m *Manager) sweeper() {
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

func (m *Manager) sweepOnce(now time.Time) {
	m.mu.RLock()
	expired := make([]*Room, 0)
	for _, r := range m.byID {
		if r.idleExpired(now, m.conf.WaitingTimeout, m.conf.ActiveTimeout) {
			expired = append(expired, r)
		}
	}
	m.mu.RUnlock()

	for _, r := range expired {
		m.endRoom(r, ReasonTimeout, "")
	}
}
