package events

import (
	"context"

	"APChat/global"
	ka "APChat/service/kafka"
)

// KafkaSink 分析流出口：key=room id，同房间事件同分区有序
type KafkaSink struct {
	topic string
}

func NewKafkaSink(topic string) *KafkaSink {
	if topic == "" {
		topic = ka.Cfg.EventsTopic
	}
	return &KafkaSink{topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Emit(ctx context.Context, ev Event) error {
	return ka.SendSyncWithKey(s.topic, global.EventKey(ev.RoomID), ev.Marshal())
}
