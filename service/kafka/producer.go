package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

var (
	KafkaClient sarama.Client
	SyncProd    sarama.SyncProducer
)

func InitKafkaClient() error {
	cfg := BuildBaseConfig()
	c, err := sarama.NewClient(Cfg.Brokers, cfg)
	if err != nil {
		return err
	}
	KafkaClient = c
	return nil
}

func InitSyncProducerFromClient() error {
	p, err := sarama.NewSyncProducerFromClient(KafkaClient)
	if err != nil {
		return err
	}
	SyncProd = p
	return nil
}

func SendSync(topic, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.StringEncoder(value),
	}
	_, _, err := SyncProd.SendMessage(msg)
	return err
}

// SendSyncWithKey Key 走 HashPartitioner，同 key 同分区
func SendSyncWithKey(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	p, o, err := SyncProd.SendMessage(msg)
	if err != nil {
		return err
	}
	glog.V(2).Infof("[Kafka] sent topic=%s key=%s partition=%d offset=%d", topic, key, p, o)
	return nil
}

func CloseKafka() {
	if SyncProd != nil {
		_ = SyncProd.Close()
	}
	if KafkaClient != nil {
		_ = KafkaClient.Close()
	}
}
