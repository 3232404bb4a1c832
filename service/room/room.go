package room

import (
	"encoding/json"
	"sync"
	"time"

	errors "APChat/tools/errs"
)

// ===== 状态机 =====

type Status int32

const (
	StatusWaiting Status = iota // 已建房，等双方 READY
	StatusActive                // 双方就绪，允许转发
	StatusEnded                 // 终态，不可再迁移
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusActive:
		return "ACTIVE"
	case StatusEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}

type EndReason string

const (
	ReasonPartnerLeft EndReason = "PARTNER_LEFT"
	ReasonTimeout     EndReason = "TIMEOUT"
	ReasonExplicitEnd EndReason = "EXPLICIT_END"
)

// ===== 信令 =====

type Kind string

const (
	KindReady        Kind = "READY"
	KindOffer        Kind = "OFFER"
	KindAnswer       Kind = "ANSWER"
	KindICECandidate Kind = "ICE_CANDIDATE"
	KindText         Kind = "TEXT"
	KindLeave        Kind = "LEAVE"
)

// Envelope 转发的信令封皮（不落盘，原样透传）
type Envelope struct {
	RoomID string          `json:"room_id"`
	Sender string          `json:"sender"`
	Kind   Kind            `json:"kind"`
	Body   json.RawMessage `json:"body,omitempty"`
	TS     int64           `json:"ts"`
}

// Notifier 房间向连接层回写的出口。
// Deliver 必须是有界非阻塞交接：对端出口拥塞时立刻报 DeliveryBackpressure。
type Notifier interface {
	Deliver(connID string, env Envelope) error
	NotifyPartnerLeft(connID, roomID string)
	NotifyRoomEnded(connID, roomID string, reason EndReason)
}

// ===== Room =====

// Room 两人会话。参与者建房即固定，到 ENDED 不变。
// 所有可变字段由 r.mu 串行化（每房一把锁 = 单写者纪律）；
// 双方同时断连时先到者完成 ENDED 迁移，后到者拿到 ended=false 幂等返回。
type Room struct {
	ID string
	// 参与者按配对序固定：A 先入队，B 是发起 claim 的一方
	A, B string
	// 建房时解析的账号 id（与 A/B 同序），匿名连接为空串；此后不变
	UserA, UserB string
	CreatedAt    time.Time

	mu           sync.Mutex
	status       Status
	readyA       bool
	readyB       bool
	activatedAt  time.Time
	endedAt      time.Time
	endReason    EndReason
	lastActivity time.Time
}

// Info 状态快照（读模型/单测用）
type Info struct {
	ID           string
	Status       Status
	Participants [2]string
	CreatedAt    time.Time
	ActivatedAt  time.Time
	EndedAt      time.Time
	Reason       EndReason
}

func newRoom(id, a, b string, now time.Time) *Room {
	return &Room{
		ID:           id,
		A:            a,
		B:            b,
		CreatedAt:    now,
		status:       StatusWaiting,
		lastActivity: now,
	}
}

// userIDs 事件携带的账号对（与参与者同序）；双方全匿名则省略
func (r *Room) userIDs() []string {
	if r.UserA == "" && r.UserB == "" {
		return nil
	}
	return []string{r.UserA, r.UserB}
}

func (r *Room) other(connID string) (string, bool) {
	switch connID {
	case r.A:
		return r.B, true
	case r.B:
		return r.A, true
	}
	return "", false
}

func (r *Room) Snapshot() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		ID:           r.ID,
		Status:       r.status,
		Participants: [2]string{r.A, r.B},
		CreatedAt:    r.CreatedAt,
		ActivatedAt:  r.activatedAt,
		EndedAt:      r.endedAt,
		Reason:       r.endReason,
	}
}

// markReady 记录 READY；双双就绪时迁移到 ACTIVE。
// 返回 activated=true 表示本次调用完成了 WAITING->ACTIVE。
func (r *Room) markReady(connID string, now time.Time) (activated bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case StatusEnded:
		return false, errors.ErrRoomEnded.WrapMsg("room=" + r.ID)
	case StatusActive:
		// 重复 READY：幂等成功
		r.lastActivity = now
		return false, nil
	}

	switch connID {
	case r.A:
		r.readyA = true
	case r.B:
		r.readyB = true
	}
	r.lastActivity = now
	if r.readyA && r.readyB {
		r.status = StatusActive
		r.activatedAt = now
		return true, nil
	}
	return false, nil
}

// touchRelay 校验转发许可并刷新活跃时间（READY/LEAVE 之外的 kind 要求 ACTIVE）
func (r *Room) touchRelay(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusEnded:
		return errors.ErrRoomEnded.WrapMsg("room=" + r.ID)
	case StatusWaiting:
		return errors.ErrRoomNotActive.WrapMsg("room=" + r.ID, "status", r.status.String())
	}
	r.lastActivity = now
	return nil
}

// end 终态迁移。返回 true 表示本次调用完成了迁移（首个生效，后续幂等 no-op）。
func (r *Room) end(reason EndReason, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == StatusEnded {
		return false
	}
	r.status = StatusEnded
	r.endedAt = now
	r.endReason = reason
	return true
}

// idleDeadline 依据当前状态给出超时判定基准
func (r *Room) idleExpired(now time.Time, waiting, active time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusWaiting:
		return waiting > 0 && now.Sub(r.lastActivity) >= waiting
	case StatusActive:
		return active > 0 && now.Sub(r.lastActivity) >= active
	}
	return false
}
