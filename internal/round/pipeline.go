package round

import (
	"context"
	"errors"

	"cheeznad/internal/classifier"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/events"
	"cheeznad/internal/logging"
	"cheeznad/internal/metrics"
	"cheeznad/internal/registry"
	"cheeznad/pkg/models"

	"github.com/sirupsen/logrus"
)

// Pipeline 区块 -> 分类 -> 累加到当前回合 -> 发布交易事件
type Pipeline struct {
	lookup     registry.Lookup
	engine     *Engine
	publisher  events.Publisher
	tally      *classifier.Tally
	publishTxs bool
	logger     *logrus.Logger
}

// NewPipeline 创建处理管道
func NewPipeline(lookup registry.Lookup, engine *Engine, publisher events.Publisher, tally *classifier.Tally, publishTxs bool, logger *logrus.Logger) *Pipeline {
	if tally == nil {
		tally = classifier.NewTally()
	}
	return &Pipeline{
		lookup:     lookup,
		engine:     engine,
		publisher:  publisher,
		tally:      tally,
		publishTxs: publishTxs,
		logger:     logger,
	}
}

// Tally 会话统计
func (p *Pipeline) Tally() *classifier.Tally {
	return p.tally
}

// HandleBlock 处理一个区块，返回其统计
func (p *Pipeline) HandleBlock(block *models.Block) *models.BlockStats {
	txs, stats := classifier.Classify(block, p.lookup)

	p.tally.Record(stats)
	metrics.BlocksProcessed.Inc()
	metrics.LatestBlock.Set(float64(stats.BlockNumber))
	metrics.BlockTransactions.WithLabelValues("classified").Add(float64(stats.ClassifiedTxns))
	metrics.BlockTransactions.WithLabelValues("native_transfer").Add(float64(stats.NativeTransfers))
	metrics.BlockTransactions.WithLabelValues("contract_creation").Add(float64(stats.ContractCreations))
	metrics.BlockTransactions.WithLabelValues("unclassified").Add(float64(stats.UnclassifiedCalls))
	for z, n := range stats.ByZone {
		metrics.ClassifiedTransactions.WithLabelValues(string(z)).Add(float64(n))
	}

	log := logging.NewBlockLogger(p.logger, stats.BlockNumber)
	log.Debugf("txs=%d transfers=%d other=%d matched=%d  %s",
		stats.TotalTxns, stats.NativeTransfers, stats.Other(), stats.ClassifiedTxns, classifier.FormatZones(stats.ByZone))
	if len(txs) > 0 {
		log.Debug(classifier.FormatBreakdown(txs))
	}

	// 不在计分窗口时只跳过计分，交易事件照常推送，回合号为最近一个回合
	roundNumber, err := p.engine.Ingest(txs)
	if err != nil && len(txs) > 0 {
		if errors.Is(err, engineerrors.ErrRoundNotLive) {
			log.Debugf("没有进行中的回合，%d 笔分类交易未计分", len(txs))
		} else {
			log.Warnf("累加分类交易失败: %v", err)
		}
	}

	if p.publishTxs {
		for _, tx := range txs {
			p.publisher.Publish(models.NewTransactionEvent(tx, roundNumber))
		}
	}
	return stats
}

// Run 消费区块直到通道关闭或 ctx 取消
func (p *Pipeline) Run(ctx context.Context, blocks <-chan *models.Block) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			if block == nil {
				continue
			}
			p.HandleBlock(block)
		}
	}
}

// LogSession 输出会话累计统计
func (p *Pipeline) LogSession() {
	s := p.tally.Snapshot()
	p.logger.WithField("component", "classifier").Infof(
		"会话统计: 区块 %d，交易 %d，转账 %d，其他 %d，分类 %d (%.1f%%)  %s",
		s.Blocks, s.TotalTxns, s.NativeTransfers, s.Other, s.Classified, s.Rate, classifier.FormatZones(s.ByZone))
}
