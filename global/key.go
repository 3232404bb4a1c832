package global

// EventKey 事件消息的分区 key：同一房间的事件保持同分区有序
func EventKey(roomID string) string {
	return "room:" + roomID
}

// EventSubject 按事件类型生成 NATS subject
func EventSubject(kind string) string {
	return "room.events." + kind
}
