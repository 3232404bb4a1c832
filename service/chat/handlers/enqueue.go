package handlers

import (
	"context"
	"time"

	"APChat/service/chat"
)

// EnqueueHandler 入队/即时匹配。
// 排除列表自动带上该连接上一个搭档，避免结束后立刻重逢。
type EnqueueHandler struct{}

func NewEnqueueHandler() chat.Handler { return &EnqueueHandler{} }

func (h *EnqueueHandler) Type() string { return chat.FrameEnqueue }

func (h *EnqueueHandler) Handle(c *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	body, err := chat.ExtractEnqueueBody(f)
	if err != nil {
		return err
	}

	exclude := body.Exclude
	if last := c.S.ConnMgr().LastPartner(conn.ConnID); last != "" {
		exclude = append(exclude, last)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, err := c.S.Matcher().TryMatch(ctx, conn.ConnID, body.Tags, exclude)
	if err != nil {
		return err
	}
	if res.Matched {
		// MATCHED 帧由 OnMatched 回调统一推给双方
		return nil
	}
	return c.S.ConnMgr().Push(conn.ConnID, chat.BuildQueued(conn.ConnID))
}
