package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"APChat/logger"
	"APChat/service/storage"
	"APChat/tools/ids"
	"APChat/tools/safe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Origin 白名单在 middleware 层做
}

const (
	writeWait      = 5 * time.Second
	pingInterval   = 25 * time.Second
	firstPingDelay = 5 * time.Second // 首个 ping 延后，避免刚连上即写超时
)

// HandleWS ===== WebSocket 入口 =====
// 每连接两协程：本协程只读，写协程独占 SendChan。
// 退出统一走断连级联：注销注册表 -> 按相位清队列/结房 -> presence 下线。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	// 可选 JWT 身份（middleware/security 解析后写入 context），匿名为空
	userID := c.GetString(CtxUserIDKey)

	connID := ids.GenerateString()
	rec, rerr := s.mgr.Register(connID, userID, ws)
	if rerr != nil {
		logger.Errorf("[HandleWS] register conn=%s error: %v", connID, rerr)
		_ = ws.Close()
		return
	}
	s.mgr.AttachPongHandler(ws, connID)

	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if perr := storage.PresenceOnline(ctx, connID, s.mgr.GwID(), s.mgr.conf.IdleTTL); perr != nil {
			logger.Warnf("[HandleWS] presence online conn=%s: %v", connID, perr)
		}
		cancel()
	}

	done := make(chan struct{})
	safe.SafeGo(func() { s.writePump(rec, done) })

	// 连接确认先行，客户端拿到 conn_id 才能解释后续帧
	if perr := s.mgr.Push(connID, BuildConnAck(connID, s.mgr.GwID())); perr != nil {
		logger.Warnf("[HandleWS] push conn_ack conn=%s: %v", connID, perr)
	}

	// ---- 读循环：只读，不写；出错即退出（写协程收尾） ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", connID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout conn=%s err=%v", connID, rerr)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", connID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		msg, perr := ParseFrameJSON(data)
		if perr != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] ParseFrameJSON err conn=%s err=%v sample=%q len=%d",
				connID, perr, sample, len(data))
			continue
		}

		h := s.disp.GetHandler(msg.Type)
		if h == nil {
			_ = s.mgr.Push(connID, BuildError(400, "unknown frame type: " + msg.Type))
			continue
		}
		if herr := h.Handle(&ChatContext{S: s}, msg, rec); herr != nil {
			// 业务错误回给客户端，连接保持
			logger.Infof("[WS] handle type=%s conn=%s err=%v", msg.Type, connID, herr)
			_ = s.mgr.Push(connID, BuildErrorFrom(herr))
		}
	}

	// ---- 退出阶段：注销并按相位级联 ----
	phase, existed := s.mgr.Remove(connID)
	if existed {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		s.Disconnect(ctx, connID, phase)
		cancel()
	}
	<-done // 等写协程真正关闭 ws
}

// writePump 写协程：独占消费 SendChan，周期发 ping
func (s *Server) writePump(rec *WsConn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		// 统一由写协程发 Close 并关闭底层连接
		_ = rec.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = rec.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = rec.Conn.Close()
		close(done)
		logger.Infof("[WS] closed conn=%s user=%s", rec.ConnID, rec.UserID)
	}()

	for {
		select {
		case payload, ok := <-rec.SendChan:
			if !ok {
				return
			}
			_ = rec.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := rec.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Infof("[WS] write payload err conn=%s err=%v", rec.ConnID, err)
				return
			}

		case <-first.C:
			_ = rec.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := rec.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				logger.Infof("[WS] first ping err conn=%s err=%v", rec.ConnID, err)
				return
			}

		case <-ticker.C:
			_ = rec.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := rec.Conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				logger.Infof("[WS] ping err conn=%s err=%v", rec.ConnID, err)
				return
			}
		}
	}
}
