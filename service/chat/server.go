package chat

import (
	"context"

	"APChat/logger"
	"APChat/service/match"
	"APChat/service/room"
	"APChat/service/storage"
)

// Server 网关汇合点：注册表、派发器、配对协调器与房间管理器在此接线。
// 同时实现 room.Notifier，把房间出站事件落到对应连接的发送队列。
type Server struct {
	mgr     *ConnManager
	disp    *Dispatcher
	matcher *match.Coordinator
	rooms   *room.Manager
}

func NewServer(mgr *ConnManager) *Server {
	return &Server{mgr: mgr, disp: NewDispatcher()}
}

// Wire 挂接协调器与房间管理器，并注册三条回调：
// 配对成功 -> 双方推 MATCHED；房间结束 -> 双方相位回 IDLE 并互记上一个搭档；
// 注册表淘汰 -> 按相位级联清队列/结房。启动时调用一次。
func (s *Server) Wire(matcher *match.Coordinator, rooms *room.Manager) {
	s.matcher = matcher
	s.rooms = rooms

	// 房间事件要带账号 id：建房时从注册表定格
	rooms.UserResolver(s.mgr.UserID)

	matcher.OnMatched(func(r *room.Room) {
		if err := s.mgr.Push(r.A, BuildMatched(r.ID, r.B)); err != nil {
			logger.Warnf("[chat] push matched conn=%s room=%s: %v", r.A, r.ID, err)
		}
		if err := s.mgr.Push(r.B, BuildMatched(r.ID, r.A)); err != nil {
			logger.Warnf("[chat] push matched conn=%s room=%s: %v", r.B, r.ID, err)
		}
	})

	rooms.OnEnded(func(roomID string, participants [2]string, reason room.EndReason) {
		a, b := participants[0], participants[1]
		s.mgr.SetLastPartner(a, b)
		s.mgr.SetLastPartner(b, a)
		for _, id := range participants {
			if err := s.mgr.MarkIdle(id); err != nil {
				// 连接已注销时 MarkIdle 报 NotFound，属正常级联路径
				logger.Debugf("[chat] reset phase conn=%s room=%s: %v", id, roomID, err)
			}
		}
	})

	s.mgr.OnEvict(func(connID string, phase Phase) {
		s.Disconnect(context.Background(), connID, phase)
	})
}

func (s *Server) ConnMgr() *ConnManager { return s.mgr }
func (s *Server) Disp() *Dispatcher { return s.disp }
func (s *Server) Matcher() *match.Coordinator { return s.matcher }
func (s *Server) Rooms() *room.Manager { return s.rooms }

// Disconnect 断连级联：按离场相位清理残留状态。
// 注册表条目已移除（或由调用方移除），这里只处理队列与房间侧。
func (s *Server) Disconnect(ctx context.Context, connID string, phase Phase) {
	switch phase {
	case PhaseQueued:
		s.matcher.Dequeue(ctx, connID)
	case PhasePaired:
		s.rooms.EndForConn(connID, room.ReasonPartnerLeft)
	}
	_ = storage.PresenceOffline(ctx, connID)
}

// ===== room.Notifier =====

func (s *Server) Deliver(connID string, env room.Envelope) error {
	return s.mgr.Push(connID, BuildDeliver(env))
}

func (s *Server) NotifyPartnerLeft(connID, roomID string) {
	if err := s.mgr.Push(connID, BuildPartnerLeft(roomID)); err != nil {
		logger.Debugf("[chat] push partner_left conn=%s room=%s: %v", connID, roomID, err)
	}
}

func (s *Server) NotifyRoomEnded(connID, roomID string, reason room.EndReason) {
	if err := s.mgr.Push(connID, BuildRoomEnded(roomID, reason)); err != nil {
		logger.Debugf("[chat] push room_ended conn=%s room=%s: %v", connID, roomID, err)
	}
}
