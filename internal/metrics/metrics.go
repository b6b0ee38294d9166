package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed 已分类的区块数
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cheeznad_blocks_processed_total",
			Help: "Total number of blocks classified",
		},
	)

	// BlockTransactions 按分桶统计的交易数
	BlockTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_block_transactions_total",
			Help: "Transactions seen per classification bucket",
		},
		[]string{"bucket"},
	)

	// ClassifiedTransactions 每个区域命中的交易数
	ClassifiedTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_classified_transactions_total",
			Help: "Classified transactions per zone",
		},
		[]string{"zone"},
	)

	// LatestBlock 最近处理的区块高度
	LatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cheeznad_latest_block",
			Help: "Latest block number classified",
		},
	)

	// BlocksSkipped 未能交给分类器的区块，按原因
	BlocksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_blocks_skipped_total",
			Help: "Blocks skipped by the block source",
		},
		[]string{"reason"},
	)

	// MalformedTransactions 校验未通过被丢弃的交易
	MalformedTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cheeznad_malformed_transactions_total",
			Help: "Transactions dropped by block validation",
		},
	)

	// NodeAvailable 节点是否可用
	NodeAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cheeznad_node_available",
			Help: "Whether an RPC node is currently selectable",
		},
		[]string{"node"},
	)

	// CurrentRound 当前回合号
	CurrentRound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cheeznad_current_round",
			Help: "Current round number",
		},
	)

	// RoundsResolved 已结束的回合，按胜者区域
	RoundsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_rounds_resolved_total",
			Help: "Resolved rounds per winning zone",
		},
		[]string{"winner"},
	)

	// ZoneMultiplier 当前回合的区域乘数
	ZoneMultiplier = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cheeznad_zone_multiplier",
			Help: "Multiplier of each zone in the current round",
		},
		[]string{"zone"},
	)

	// AccumulateDropped 回合不在计分状态时被拒绝的累加
	AccumulateDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cheeznad_accumulate_dropped_total",
			Help: "Accumulate calls rejected outside a scoring window",
		},
	)

	// SettlementAttempts 结算尝试，按结果
	SettlementAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_settlement_attempts_total",
			Help: "Settlement attempts by result",
		},
		[]string{"result"},
	)

	// SettlementActions 已确认的链上动作
	SettlementActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_settlement_actions_total",
			Help: "Confirmed settlement actions (distribute or reset)",
		},
		[]string{"action"},
	)

	// StoreOperations 存储调用，按操作与结果
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_store_operations_total",
			Help: "Store operations by name and status",
		},
		[]string{"op", "status"},
	)

	// StoreLatency 存储调用耗时
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cheeznad_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// EventsPublished 事件总线发布数
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_events_published_total",
			Help: "Events published on the bus by type",
		},
		[]string{"type"},
	)

	// EventsDropped 订阅者缓冲区满时丢弃的事件
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"subscriber"},
	)

	// OutputErrors 事件输出失败
	OutputErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_output_errors_total",
			Help: "Event sink write failures",
		},
		[]string{"sink"},
	)

	// WebSocketClients 当前连接数
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cheeznad_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	// RPCCalls 节点调用，按节点与结果
	RPCCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cheeznad_rpc_calls_total",
			Help: "RPC calls by node and status",
		},
		[]string{"node", "method", "status"},
	)
)
