package handlers

import (
	"APChat/service/chat"
	"APChat/service/room"
	errors "APChat/tools/errs"
)

// SignalHandler 房间内中继：ready/offer/answer/ice_candidate/text/leave。
// 负载不解析不校验，原样转给对端；顺序由房间单写者保证。
type SignalHandler struct {
	frameType string
	kind      room.Kind
}

func NewSignalHandler(frameType string) chat.Handler {
	k, ok := chat.RelayKind(frameType)
	if !ok {
		panic("not a relay frame type: " + frameType)
	}
	return &SignalHandler{frameType: frameType, kind: k}
}

func (h *SignalHandler) Type() string { return h.frameType }

func (h *SignalHandler) Handle(c *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	roomID := f.RoomID
	if roomID == "" {
		// 容忍省略 room_id：一个连接至多在一个房间里
		var ok bool
		roomID, ok = c.S.Rooms().RoomOf(conn.ConnID)
		if !ok {
			return errors.ErrRoomEnded.WrapMsg("conn=" + conn.ConnID)
		}
	}
	return c.S.Rooms().Relay(roomID, conn.ConnID, h.kind, f.Body)
}
