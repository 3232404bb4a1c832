package handlers

import (
	"APChat/service/chat"
)

// PingHandler 应用层心跳：回 pong 并续期 TTL（链路层 ping/pong 另有 PongHandler）
type PingHandler struct{}

func NewPingHandler() chat.Handler { return &PingHandler{} }

func (h *PingHandler) Type() string { return chat.FramePing }

func (h *PingHandler) Handle(c *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	_ = c.S.ConnMgr().RefreshHeartbeat(conn.ConnID)
	return c.S.ConnMgr().Push(conn.ConnID, chat.BuildPong())
}
