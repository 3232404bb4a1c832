package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// AppConfig 生产者配置（事件流只有本进程写入，消费在外部协作方）
type AppConfig struct {
	Brokers                 []string
	EventsTopic             string
	PartitionsPerTopic      int32 // 单机=1~8；生产按吞吐定
	ReplicationFactor       int16 // 单机=1；生产=3
	ProducerRetries         int
	ProducerCompression     string // none/snappy/lz4/zstd
	KafkaVersion            sarama.KafkaVersion
	AutoCreateTopicsOnStart bool
}

var Cfg = AppConfig{
	Brokers:                 []string{"127.0.0.1:9092"},
	EventsTopic:             "room-events",
	PartitionsPerTopic:      8,
	ReplicationFactor:       1,
	ProducerRetries:         5,
	ProducerCompression:     "snappy",
	KafkaVersion:            sarama.V2_1_0_0,
	AutoCreateTopicsOnStart: true,
}

func BuildBaseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = Cfg.KafkaVersion

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if Cfg.ProducerRetries <= 0 {
		Cfg.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = Cfg.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区：同房间事件有序
	switch strings.ToLower(Cfg.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
