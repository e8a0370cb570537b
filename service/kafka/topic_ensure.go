package kafka

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"PPGate/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopic 不存在就创建；已存在且分区数不足时扩分区（kafka 只能加不能减）
func EnsureTopic(c Config, log *zap.Logger) error {
	c.norm()
	if log == nil {
		log = zap.NewNop()
	}
	cfg := sarama.NewConfig()
	cfg.Version = c.KafkaVersion
	cfg.Admin.Timeout = 15 * time.Second
	cfg.Net.DialTimeout = 10 * time.Second

	admin, err := sarama.NewClusterAdmin(c.Brokers, cfg)
	if err != nil {
		return errs.WrapMsg(err, "new cluster admin", "brokers", c.Brokers)
	}
	defer func() {
		if e := admin.Close(); e != nil {
			log.Warn("close cluster admin", zap.Error(e))
		}
	}()
	return ensureTopic(admin, c, log)
}

func ensureTopic(admin sarama.ClusterAdmin, c Config, log *zap.Logger) error {
	existing, err := admin.ListTopics()
	if err != nil {
		return errs.WrapMsg(err, "list topics")
	}
	if td, ok := existing[c.Topic]; ok {
		if td.NumPartitions < c.Partitions {
			if err := admin.CreatePartitions(c.Topic, c.Partitions, nil, false); err != nil {
				return errs.WrapMsg(err, "expand partitions", "topic", c.Topic)
			}
			log.Info("[Topic] partitions expanded", zap.String("topic", c.Topic),
				zap.Int32("from", td.NumPartitions), zap.Int32("to", c.Partitions))
		}
		return nil
	}
	if err := admin.CreateTopic(c.Topic, topicDetail(c), false); err != nil && !isTopicExistsErr(err) {
		return errs.WrapMsg(err, "create topic", "topic", c.Topic)
	}
	log.Info("[Topic] created", zap.String("topic", c.Topic), zap.Int32("partitions", c.Partitions))
	return nil
}

func topicDetail(c Config) *sarama.TopicDetail {
	// min.insync.replicas 跟随副本数，至少 1
	minISR := "1"
	if c.ReplicationFactor > 1 {
		minISR = strconv.Itoa(int(c.ReplicationFactor) - 1)
	}
	retention := strconv.Itoa(7 * 24 * 60 * 60 * 1000) // 7 天
	return &sarama.TopicDetail{
		NumPartitions:     c.Partitions,
		ReplicationFactor: c.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 ptr("delete"),
			"retention.ms":                   &retention,
			"min.insync.replicas":            &minISR,
			"unclean.leader.election.enable": ptr("false"),
		},
	}
}

func ptr[T any](v T) *T { return &v }

func isTopicExistsErr(err error) bool {
	if errors.Is(err, sarama.ErrTopicAlreadyExists) {
		return true
	}
	var te *sarama.TopicError
	if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
		return true
	}
	// 有的 broker 只返回文本
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
