package output

import (
	"context"
	"fmt"
	"time"

	"cheeznad/internal/config"
	"cheeznad/pkg/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	redisWriteTimeout = 2 * time.Second
	// latestTTL 最近一次回合事件的保留时间，供后加入的订阅者读取
	latestTTL = 24 * time.Hour
)

// redisClient RedisSink 用到的命令，*redis.Client 实现了它
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisSink 事件发布到 <prefix>:<type> 频道；回合事件同时写入 <prefix>:latest:<type>
type RedisSink struct {
	client redisClient
	prefix string
	logger *logrus.Logger
}

// NewRedisSink 连接 Redis 并检查连通性
func NewRedisSink(ctx context.Context, cfg *config.RedisConfig, logger *logrus.Logger) (*RedisSink, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("解析 redis 地址失败: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("连接 redis 失败: %w", err)
	}

	logger.Infof("Redis 输出已连接: %s", opts.Addr)
	return newRedisSinkWithClient(rdb, cfg.ChannelPrefix, logger), nil
}

func newRedisSinkWithClient(client redisClient, prefix string, logger *logrus.Logger) *RedisSink {
	if prefix == "" {
		prefix = "cheeznad"
	}
	return &RedisSink{client: client, prefix: prefix, logger: logger}
}

func (r *RedisSink) Name() string { return "redis" }

// Channel 事件类型对应的频道名
func (r *RedisSink) Channel(typ models.EventType) string {
	return fmt.Sprintf("%s:%s", r.prefix, typ)
}

func (r *RedisSink) latestKey(typ models.EventType) string {
	return fmt.Sprintf("%s:latest:%s", r.prefix, typ)
}

// Write 发布事件
func (r *RedisSink) Write(ev *models.Event) error {
	if ev == nil {
		return nil
	}
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()

	receivers, err := r.client.Publish(ctx, r.Channel(ev.Type), data).Result()
	if err != nil {
		return fmt.Errorf("publish %s 失败: %w", ev.Type, err)
	}
	r.logger.Debugf("事件 %s 已发布，%d 个订阅者", ev.Type, receivers)

	if ev.Type == models.EventTransaction {
		return nil
	}
	if err := r.client.Set(ctx, r.latestKey(ev.Type), data, latestTTL).Err(); err != nil {
		return fmt.Errorf("保存最近 %s 事件失败: %w", ev.Type, err)
	}
	return nil
}

// Close 关闭连接
func (r *RedisSink) Close() error {
	return r.client.Close()
}
