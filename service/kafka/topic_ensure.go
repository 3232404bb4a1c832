package kafka

import (
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// EnsureTopicsFromClient 用已初始化的 client 建 admin 再确保 topic
func EnsureTopicsFromClient(topics []string) error {
	admin, err := sarama.NewClusterAdminFromClient(KafkaClient)
	if err != nil {
		return err
	}
	// admin 与 client 共用连接，这里不 Close（会带着 client 一起关）
	return EnsureTopics(admin, topics)
}

func EnsureTopics(admin sarama.ClusterAdmin, topics []string) error {
	for _, t := range topics {
		desc, err := admin.DescribeTopics([]string{t})
		if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
			glog.Infof("[Topic] exists: %s (partitions=%d)", t, len(desc[0].Partitions))
			continue
		}
		td := &sarama.TopicDetail{
			NumPartitions:     Cfg.PartitionsPerTopic,
			ReplicationFactor: Cfg.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr("1"),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
				glog.Infof("[Topic] exists (race): %s", t)
				continue
			}
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				glog.Infof("[Topic] exists (race): %s", t)
				continue
			}
			return fmt.Errorf("create topic %s: %w", t, err)
		}
		glog.Infof("[Topic] created: %s (partitions=%d, rf=%d)", t, Cfg.PartitionsPerTopic, Cfg.ReplicationFactor)
	}
	return nil
}

func strPtr(s string) *string { return &s }
