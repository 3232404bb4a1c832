package chat

// CtxUserIDKey JWT 鉴权中间件解析出的用户ID在 gin context 里的 key
const CtxUserIDKey = "userID"

// Handler 入站帧处理器，按帧类型注册到 Dispatcher
type Handler interface {
	Type() string
	Handle(*ChatContext, *Frame, *WsConn) error
}

type ChatContext struct {
	S *Server
}
