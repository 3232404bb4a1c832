package events

import (
	"context"

	"APChat/global"
	"APChat/service/natsx"
)

const natsBiz = "room_events"

// NatsSink JetStream 出口：subject=room.events.<kind>
type NatsSink struct {
	p *natsx.NatsxProducer
}

func NewNatsSink(c *natsx.NatsxClient) (*NatsSink, error) {
	if err := c.RegisterRoute(natsx.NatsxRoute{
		Biz:     natsBiz,
		Subject: "room.events.>",
		Mode:    natsx.JetStreamPush,
	}); err != nil {
		return nil, err
	}
	return &NatsSink{p: natsx.NewNatsxProducer(c)}, nil
}

func (s *NatsSink) Name() string { return "nats" }

func (s *NatsSink) Emit(ctx context.Context, ev Event) error {
	return s.p.PublishSubject(ctx, natsBiz, global.EventSubject(ev.Kind), ev.Marshal(),
		map[string]string{"room-id": ev.RoomID})
}
