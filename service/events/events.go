package events

import (
	"encoding/json"
	"time"
)

// 事件类型
const (
	KindRoomCreated      = "room_created"
	KindParticipantReady = "participant_ready"
	KindRoomEnded        = "room_ended"
)

// Event 房间生命周期事件，供外部协作方（落库/统计）异步消费。
// 核心只发不读，房间/参与者 id 是与管理端读模型的唯一耦合点。
type Event struct {
	Kind         string    `json:"kind"`
	RoomID       string    `json:"room_id"`
	Participants []string  `json:"participants"`
	UserIDs      []string  `json:"user_ids,omitempty"` // 匿名连接为空串占位
	ConnID       string    `json:"conn_id,omitempty"`  // participant_ready 的主体
	Reason       string    `json:"reason,omitempty"`   // room_ended 的终止原因
	CreatedAt    time.Time `json:"created_at"`
	ActivatedAt  time.Time `json:"activated_at,omitempty"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	TS           int64     `json:"ts"` // 事件产生时间，unix 毫秒
}

func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
