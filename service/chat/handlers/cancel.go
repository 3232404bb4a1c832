package handlers

import (
	"context"
	"time"

	"APChat/service/chat"
)

// CancelHandler 主动撤出匹配队列。
// 与并发 claim 竞争输掉时不报错：此刻 MATCHED 帧已经在路上。
type CancelHandler struct{}

func NewCancelHandler() chat.Handler { return &CancelHandler{} }

func (h *CancelHandler) Type() string { return chat.FrameCancel }

func (h *CancelHandler) Handle(c *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.S.Matcher().Cancel(ctx, conn.ConnID); err != nil {
		return err
	}
	return c.S.ConnMgr().Push(conn.ConnID, chat.BuildCancelled(conn.ConnID))
}
