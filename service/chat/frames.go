package chat

import (
	"encoding/json"
	"time"

	"APChat/service/room"
	"APChat/tools/decode"
	errors "APChat/tools/errs"
)

// ===== 帧类型 =====

// 入站
const (
	FrameEnqueue = "enqueue"
	FrameCancel  = "cancel"
	FramePing    = "ping"
	// 以下进入房间中继
	FrameReady        = "ready"
	FrameOffer        = "offer"
	FrameAnswer       = "answer"
	FrameICECandidate = "ice_candidate"
	FrameText         = "text"
	FrameLeave        = "leave"
)

// 出站
const (
	FrameConnAck     = "conn_ack"
	FrameQueued      = "queued"
	FrameCancelled   = "cancelled"
	FrameMatched     = "matched"
	FrameDeliver     = "deliver"
	FramePartnerLeft = "partner_left"
	FrameRoomEnded   = "room_ended"
	FrameError       = "error"
	FramePong        = "pong"
)

// Frame 统一信封：type 决定 body 的形状，body 对中继帧保持不透明
type Frame struct {
	Type   string          `json:"type"`
	RoomID string          `json:"room_id,omitempty"`
	From   string          `json:"from,omitempty"`
	TS     int64           `json:"ts,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errors.ErrInternal.WrapMsg("unmarshal frame failed", "err", err.Error())
	}
	if f.Type == "" {
		return nil, errors.ErrInternal.WrapMsg("frame type empty")
	}
	return f, nil
}

// EnqueueBody enqueue 帧参数
type EnqueueBody struct {
	Tags    []string `json:"tags,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

func ExtractEnqueueBody(f *Frame) (*EnqueueBody, error) {
	if len(f.Body) == 0 {
		return &EnqueueBody{}, nil
	}
	return decode.DecodeRaw[EnqueueBody](f.Body)
}

// RelayKind 入站帧类型 -> 房间信令类别；不认识返回 false
func RelayKind(frameType string) (room.Kind, bool) {
	switch frameType {
	case FrameReady:
		return room.KindReady, true
	case FrameOffer:
		return room.KindOffer, true
	case FrameAnswer:
		return room.KindAnswer, true
	case FrameICECandidate:
		return room.KindICECandidate, true
	case FrameText:
		return room.KindText, true
	case FrameLeave:
		return room.KindLeave, true
	default:
		return "", false
	}
}

func frameKind(k room.Kind) string {
	switch k {
	case room.KindReady:
		return FrameReady
	case room.KindOffer:
		return FrameOffer
	case room.KindAnswer:
		return FrameAnswer
	case room.KindICECandidate:
		return FrameICECandidate
	case room.KindText:
		return FrameText
	case room.KindLeave:
		return FrameLeave
	default:
		return string(k)
	}
}

// ---- 构造若干服务端回执 ----

func marshalFrame(f *Frame) []byte {
	b, _ := json.Marshal(f)
	return b
}

func BuildConnAck(connID, gatewayID string) []byte {
	body, _ := json.Marshal(map[string]string{"conn_id": connID, "gateway_id": gatewayID})
	return marshalFrame(&Frame{Type: FrameConnAck, TS: time.Now().UnixMilli(), Body: body})
}

func BuildQueued(connID string) []byte {
	body, _ := json.Marshal(map[string]string{"conn_id": connID})
	return marshalFrame(&Frame{Type: FrameQueued, TS: time.Now().UnixMilli(), Body: body})
}

func BuildCancelled(connID string) []byte {
	body, _ := json.Marshal(map[string]string{"conn_id": connID})
	return marshalFrame(&Frame{Type: FrameCancelled, TS: time.Now().UnixMilli(), Body: body})
}

func BuildMatched(roomID, partnerConnID string) []byte {
	body, _ := json.Marshal(map[string]string{"partner": partnerConnID})
	return marshalFrame(&Frame{Type: FrameMatched, RoomID: roomID, TS: time.Now().UnixMilli(), Body: body})
}

func BuildDeliver(env room.Envelope) []byte {
	return marshalFrame(&Frame{
		Type:   FrameDeliver,
		RoomID: env.RoomID,
		From:   env.Sender,
		TS:     env.TS,
		Body:   mustKindBody(env),
	})
}

// mustKindBody 中继帧把信令类别随不透明负载一起带给对端
func mustKindBody(env room.Envelope) json.RawMessage {
	wrap := struct {
		Kind string          `json:"kind"`
		Data json.RawMessage `json:"data,omitempty"`
	}{Kind: frameKind(env.Kind), Data: env.Body}
	b, _ := json.Marshal(wrap)
	return b
}

func BuildPartnerLeft(roomID string) []byte {
	return marshalFrame(&Frame{Type: FramePartnerLeft, RoomID: roomID, TS: time.Now().UnixMilli()})
}

func BuildRoomEnded(roomID string, reason room.EndReason) []byte {
	body, _ := json.Marshal(map[string]string{"reason": string(reason)})
	return marshalFrame(&Frame{Type: FrameRoomEnded, RoomID: roomID, TS: time.Now().UnixMilli(), Body: body})
}

func BuildError(code int, msg string) []byte {
	body, _ := json.Marshal(map[string]any{"code": code, "msg": msg})
	return marshalFrame(&Frame{Type: FrameError, TS: time.Now().UnixMilli(), Body: body})
}

// BuildErrorFrom 从 CodeError 还原错误帧
func BuildErrorFrom(err error) []byte {
	return BuildError(errors.CodeOf(err), err.Error())
}

func BuildPong() []byte {
	return marshalFrame(&Frame{Type: FramePong, TS: time.Now().UnixMilli()})
}
