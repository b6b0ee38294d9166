package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cheeznad/internal/config"
	"cheeznad/internal/logging"
	"cheeznad/internal/metrics"
	"cheeznad/internal/retry"
	"cheeznad/pkg/models"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 2 * time.Second
	// DefaultMaxCatchUp 落后超过该数量时跳到最新区块附近，实时回合不需要旧区块
	DefaultMaxCatchUp = 100
	// resubscribeEvery 订阅断开后，每隔多少次轮询尝试重新订阅
	resubscribeEvery = 10
)

// BlockSource 区块来源，按高度顺序投递，不重复
type BlockSource interface {
	Run(ctx context.Context, out chan<- *models.Block) error
}

// Source 优先订阅新区块头，订阅不可用时轮询最新高度；
// 每次收到新高度都会补齐上次之后的所有区块。
type Source struct {
	pool       *Pool
	validator  *Validator
	retrier    *retry.Retrier
	logger     *logrus.Logger
	interval   time.Duration
	timeout    time.Duration
	maxCatchUp uint64

	mu   sync.Mutex
	last uint64
}

// NewSource 创建区块来源
func NewSource(pool *Pool, cfg *config.ChainConfig, logger *logrus.Logger) *Source {
	s := &Source{
		pool:       pool,
		validator:  NewValidator(logger, false),
		retrier:    retry.NewRetrier(retry.NetworkRetryConfig, logger),
		logger:     logger,
		interval:   DefaultPollInterval,
		timeout:    10 * time.Second,
		maxCatchUp: DefaultMaxCatchUp,
	}
	if cfg != nil {
		if cfg.PollInterval > 0 {
			s.interval = cfg.PollInterval
		}
		if cfg.FetchTimeout > 0 {
			s.timeout = cfg.FetchTimeout
		}
	}
	return s
}

// LastBlock 最近投递的区块高度
func (s *Source) LastBlock() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run 从当前最新区块开始投递，直到 ctx 取消
func (s *Source) Run(ctx context.Context, out chan<- *models.Block) error {
	log := s.logger.WithField("component", "chain")

	head, err := s.pool.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("获取最新区块号失败: %w", err)
	}
	s.mu.Lock()
	if s.last == 0 && head > 0 {
		s.last = head - 1
	}
	s.mu.Unlock()
	log.Infof("开始监听新区块，当前区块: %d", head)

	if err := s.catchUp(ctx, head, out); err != nil {
		return err
	}

	heads := make(chan *types.Header, 16)
	sub, nodeName, err := s.pool.SubscribeNewHead(ctx, heads)
	if err != nil {
		log.Infof("节点不支持订阅，使用轮询 (%v): %v", s.interval, err)
		sub = nil
	} else {
		log.Infof("已订阅节点 %s 的新区块", nodeName)
	}
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	ticks := 0

	for {
		var subErr <-chan error
		if sub != nil {
			subErr = sub.Err()
		}

		select {
		case <-ctx.Done():
			log.Info("区块来源已停止")
			return ctx.Err()

		case h := <-heads:
			if h == nil || h.Number == nil {
				continue
			}
			if err := s.catchUp(ctx, h.Number.Uint64(), out); err != nil {
				return err
			}

		case err := <-subErr:
			log.Warnf("新区块订阅断开，改为轮询: %v", err)
			sub.Unsubscribe()
			sub = nil
			ticks = 0

		case <-ticker.C:
			if sub != nil {
				continue
			}
			latest, err := s.pool.BlockNumber(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Errorf("获取最新区块号失败: %v", err)
				continue
			}
			if err := s.catchUp(ctx, latest, out); err != nil {
				return err
			}

			ticks++
			if ticks%resubscribeEvery == 0 {
				if newSub, name, err := s.pool.SubscribeNewHead(ctx, heads); err == nil {
					sub = newSub
					log.Infof("已重新订阅节点 %s 的新区块", name)
				}
			}
		}
	}
}

// catchUp 依次投递 (last, head]；拉取重试耗尽的区块计数后跳过
func (s *Source) catchUp(ctx context.Context, head uint64, out chan<- *models.Block) error {
	s.mu.Lock()
	from := s.last + 1
	s.mu.Unlock()
	if head < from {
		return nil
	}

	if head-from+1 > s.maxCatchUp {
		skipped := head - from + 1 - s.maxCatchUp
		from = head - s.maxCatchUp + 1
		metrics.BlocksSkipped.WithLabelValues("behind").Add(float64(skipped))
		s.logger.WithField("component", "chain").Warnf("落后 %d 个区块，从 %d 开始", skipped+s.maxCatchUp, from)
	}

	for n := from; n <= head; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		block, err := s.fetch(ctx, n)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.BlocksSkipped.WithLabelValues("fetch_failed").Inc()
			logging.NewBlockLogger(s.logger, n).Errorf("拉取区块失败，跳过: %v", err)
		case block != nil:
			select {
			case out <- block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.mu.Lock()
		s.last = n
		s.mu.Unlock()
	}
	return nil
}

// fetch 拉取并校验一个区块；区块头不合法时返回 nil
func (s *Source) fetch(ctx context.Context, number uint64) (*models.Block, error) {
	raw, err := retry.Do(ctx, s.retrier, fmt.Sprintf("拉取区块 %d", number), func() (*types.Block, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.pool.BlockByNumber(callCtx, number)
	})
	if err != nil {
		return nil, err
	}

	block := models.FromEthereumBlock(raw)
	result := s.validator.ValidateBlock(block)
	if !result.Valid {
		metrics.BlocksSkipped.WithLabelValues("invalid").Inc()
		for _, e := range result.Errors {
			logging.NewBlockLogger(s.logger, number).Warnf("区块校验失败: %v", e)
		}
		return nil, nil
	}
	return block, nil
}
