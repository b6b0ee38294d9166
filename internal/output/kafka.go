package output

import (
	"encoding/json"
	"fmt"
	"time"

	"cheeznad/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaSink 同步发送，每条消息等待所有副本确认
type KafkaSink struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.SyncProducer
}

// NewKafkaSink 创建同步 Kafka 输出
func NewKafkaSink(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaSink, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)
	logger.Infof("Kafka topics配置: %v", topics)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return newKafkaSinkWithProducer(producer, topics, logger), nil
}

func newKafkaSinkWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaSink {
	return &KafkaSink{logger: logger, topics: topics, producer: producer}
}

func (k *KafkaSink) Name() string { return "kafka" }

// buildMessage 以回合号为 key，值为带 round_number/created_at 的事件 JSON
func buildMessage(topics map[string]string, ev *models.Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(ev.ToKafkaMessage())
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return &sarama.ProducerMessage{
		Topic: resolveTopic(topics, ev),
		Key:   sarama.StringEncoder(messageKey(ev)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
		},
	}, nil
}

// Write 发送并等待确认
func (k *KafkaSink) Write(ev *models.Event) error {
	if ev == nil {
		return nil
	}
	msg, err := buildMessage(k.topics, ev)
	if err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("事件 %s 已发送到 topic '%s' (partition: %d, offset: %d)",
		ev.Type, msg.Topic, partition, offset)
	return nil
}

// Close 关闭Kafka连接
func (k *KafkaSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
