package output

import (
	"context"
	"fmt"
	"strconv"

	"cheeznad/internal/config"
	"cheeznad/internal/events"
	"cheeznad/internal/metrics"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
)

// Sink 事件输出接口
type Sink interface {
	Name() string
	Write(ev *models.Event) error
	Close() error
}

// 默认 topic，按事件类别
const (
	TopicKeyRounds       = "rounds"
	TopicKeyTransactions = "transactions"
)

var defaultTopics = map[string]string{
	TopicKeyRounds:       "cheeznad_rounds",
	TopicKeyTransactions: "cheeznad_transactions",
}

// topicKey 交易事件单独一个 topic，其余回合事件共用一个
func topicKey(ev *models.Event) string {
	if ev.Type == models.EventTransaction {
		return TopicKeyTransactions
	}
	return TopicKeyRounds
}

func resolveTopic(topics map[string]string, ev *models.Event) string {
	key := topicKey(ev)
	if t, ok := topics[key]; ok && t != "" {
		return t
	}
	return defaultTopics[key]
}

// messageKey 同一回合的事件落在同一分区，保证顺序
func messageKey(ev *models.Event) string {
	return strconv.FormatInt(ev.RoundNumber, 10)
}

// New 按配置创建输出器，format 为 none 时返回 nil
func New(ctx context.Context, cfg *config.OutputConfig, logger *logrus.Logger) (Sink, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Format {
	case "", "none":
		return nil, nil
	case "json":
		return NewFileSink(cfg.Directory, logger)
	case "json_async":
		return NewAsyncFileSink(cfg.Directory, logger)
	case "kafka", "kafka_async":
		brokers := []string{"localhost:9092"}
		topics := defaultTopics
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			if len(cfg.Kafka.Topics) > 0 {
				topics = cfg.Kafka.Topics
			}
		}
		if cfg.Format == "kafka_async" {
			return NewAsyncKafkaSink(brokers, topics, logger)
		}
		return NewKafkaSink(brokers, topics, logger)
	case "redis":
		if cfg.Redis == nil || cfg.Redis.URL == "" {
			return nil, fmt.Errorf("redis 输出需要配置 output.redis.url")
		}
		return NewRedisSink(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// Forward 把订阅到的事件写入 sink，直到订阅关闭或 ctx 取消。
// 写入失败只计数并记录日志，不影响回合。
func Forward(ctx context.Context, sub *events.Subscription, sink Sink, logger *logrus.Logger) {
	log := logger.WithField("component", "output").WithField("sink", sink.Name())
	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := sink.Write(ev); err != nil {
				failures++
				metrics.OutputErrors.WithLabelValues(sink.Name()).Inc()
				if failures == 1 || failures%100 == 0 {
					log.Warnf("写入事件失败 (累计 %d 次): %v", failures, err)
				}
			}
		}
	}
}
