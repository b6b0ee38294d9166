package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cheeznad/internal/metrics"
	"cheeznad/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// AsyncKafkaSink 异步发送，成功与失败由后台协程统计
type AsyncKafkaSink struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.AsyncProducer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	once     sync.Once

	mu         sync.RWMutex
	sentCount  int64
	errorCount int64
	inflight   int64
}

// NewAsyncKafkaSink 创建异步 Kafka 输出
func NewAsyncKafkaSink(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaSink, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_8_0_0

	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Flush.Bytes = 1024 * 1024
	config.Producer.Compression = sarama.CompressionSnappy
	config.ChannelBufferSize = 1000

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}

	k := newAsyncKafkaSinkWithProducer(producer, topics, logger, 30*time.Second)
	logger.Info("异步Kafka生产者已创建并启动")
	return k, nil
}

func newAsyncKafkaSinkWithProducer(producer sarama.AsyncProducer, topics map[string]string, logger *logrus.Logger, statsInterval time.Duration) *AsyncKafkaSink {
	ctx, cancel := context.WithCancel(context.Background())
	k := &AsyncKafkaSink{
		logger:   logger,
		topics:   topics,
		producer: producer,
		ctx:      ctx,
		cancel:   cancel,
	}

	k.wg.Add(3)
	go func() {
		defer k.wg.Done()
		k.handleSuccesses()
	}()
	go func() {
		defer k.wg.Done()
		k.handleErrors()
	}()
	go func() {
		defer k.wg.Done()
		k.reportStats(statsInterval)
	}()
	return k
}

func (k *AsyncKafkaSink) Name() string { return "kafka_async" }

// handleSuccesses 生产者关闭后 Successes 通道随之关闭
func (k *AsyncKafkaSink) handleSuccesses() {
	for msg := range k.producer.Successes() {
		k.mu.Lock()
		k.sentCount++
		k.inflight--
		k.mu.Unlock()
		k.logger.Debugf("消息成功发送到 topic %s, partition %d, offset %d", msg.Topic, msg.Partition, msg.Offset)
	}
}

func (k *AsyncKafkaSink) handleErrors() {
	for perr := range k.producer.Errors() {
		k.mu.Lock()
		k.errorCount++
		k.inflight--
		k.mu.Unlock()
		metrics.OutputErrors.WithLabelValues(k.Name()).Inc()
		k.logger.Errorf("Kafka发送失败: topic=%s, error=%v", perr.Msg.Topic, perr.Err)
	}
}

func (k *AsyncKafkaSink) reportStats(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, failed := k.GetStats()
			if sent > 0 || failed > 0 {
				k.logger.Infof("Kafka统计: 已发送 %d 条消息, 失败 %d 条, 成功率 %.2f%%",
					sent, failed, float64(sent)/float64(sent+failed)*100)
			}
		case <-k.ctx.Done():
			return
		}
	}
}

// Write 非阻塞写入生产者输入通道
func (k *AsyncKafkaSink) Write(ev *models.Event) error {
	if ev == nil {
		return nil
	}
	msg, err := buildMessage(k.topics, ev)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	select {
	case <-k.ctx.Done():
		return fmt.Errorf("Kafka生产者已关闭")
	default:
	}

	select {
	case k.producer.Input() <- msg:
		k.inflight++
		return nil
	default:
		return fmt.Errorf("Kafka生产者输入通道已满")
	}
}

// Flush 等待已入队的消息得到确认或失败
func (k *AsyncKafkaSink) Flush(timeout time.Duration) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		k.mu.RLock()
		pending := k.inflight
		k.mu.RUnlock()
		if pending <= 0 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("刷新超时，仍有 %d 条消息未确认", pending)
		}
	}
}

// GetStats 已确认与失败的消息数
func (k *AsyncKafkaSink) GetStats() (int64, int64) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sentCount, k.errorCount
}

// Close 刷新后关闭生产者
func (k *AsyncKafkaSink) Close() error {
	var closeErr error
	k.once.Do(func() {
		k.logger.Info("关闭异步Kafka生产者...")
		if err := k.Flush(10 * time.Second); err != nil {
			k.logger.Warnf("刷新缓冲区时出现错误: %v", err)
		}

		k.mu.Lock()
		k.cancel()
		k.mu.Unlock()

		if err := k.producer.Close(); err != nil {
			k.logger.Errorf("关闭Kafka生产者失败: %v", err)
			closeErr = err
		}
		k.wg.Wait()

		sent, failed := k.GetStats()
		k.logger.Infof("异步Kafka生产者已关闭，总计发送: %d，错误: %d", sent, failed)
	})
	return closeErr
}
