package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/logging"
	"cheeznad/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

const (
	// DefaultRateLimitCooldown 节点返回 429 后的冷却时间
	DefaultRateLimitCooldown = 5 * time.Minute
	// maxNodeErrors 连续错误达到该值后暂时禁用节点
	maxNodeErrors = 3
	dialTimeout   = 10 * time.Second
)

// Client 区块来源用到的节点方法，*ethclient.Client 实现了它
type Client interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// Node 单个 RPC 节点及其健康状态
type Node struct {
	Name     string
	URL      string
	Priority int

	client  Client
	limiter ratelimit.Limiter

	mu           sync.RWMutex
	available    bool
	rateLimited  bool
	rateLimitEnd time.Time
	errorCount   int
	lastUsed     time.Time
}

// NewNode 包装一个已连接的客户端，rps <= 0 表示不限速
func NewNode(name, url string, priority, rps int, client Client) *Node {
	limiter := ratelimit.NewUnlimited()
	if rps > 0 {
		limiter = ratelimit.New(rps)
	}
	return &Node{
		Name:      name,
		URL:       url,
		Priority:  priority,
		client:    client,
		limiter:   limiter,
		available: true,
	}
}

// NodeStatus 节点状态快照
type NodeStatus struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Priority     int       `json:"priority"`
	Available    bool      `json:"available"`
	RateLimited  bool      `json:"rate_limited"`
	RateLimitEnd time.Time `json:"rate_limit_end,omitempty"`
	ErrorCount   int       `json:"error_count"`
	LastUsed     time.Time `json:"last_used"`
}

// Pool 按优先级选择节点，429 时冷却，连续出错时暂时禁用
type Pool struct {
	nodes    []*Node
	logger   *logrus.Logger
	cooldown time.Duration

	mu      sync.Mutex
	current int
}

// NewPool 由已连接的节点创建，优先级数字越小越优先
func NewPool(nodes []*Node, logger *logrus.Logger) (*Pool, error) {
	if len(nodes) == 0 {
		return nil, engineerrors.ErrConfigInvalid.Wrap(fmt.Errorf("至少需要一个可用节点"))
	}
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	for _, n := range sorted {
		metrics.NodeAvailable.WithLabelValues(n.Name).Set(1)
	}
	return &Pool{nodes: sorted, logger: logger, cooldown: DefaultRateLimitCooldown}, nil
}

// DialPool 连接配置中的所有节点，跳过无法连接或无响应的节点
func DialPool(ctx context.Context, cfgs []*config.NodeConfig, logger *logrus.Logger) (*Pool, error) {
	var nodes []*Node
	for _, nc := range cfgs {
		log := logging.NewRPCLogger(logger, "eth_blockNumber", nc.URL)

		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		client, err := ethclient.DialContext(dialCtx, nc.URL)
		if err != nil {
			cancel()
			log.Warnf("连接节点 %s 失败: %v", nc.Name, err)
			continue
		}
		if _, err := client.BlockNumber(dialCtx); err != nil {
			cancel()
			client.Close()
			log.Warnf("节点 %s 不可用: %v", nc.Name, err)
			continue
		}
		cancel()

		nodes = append(nodes, NewNode(nc.Name, nc.URL, nc.Priority, nc.RateLimit, client))
		logger.Infof("成功连接到节点: %s", nc.Name)
	}
	if len(nodes) == 0 {
		return nil, engineerrors.ErrConfigInvalid.Wrap(fmt.Errorf("无法连接到任何区块链节点"))
	}
	return NewPool(nodes, logger)
}

// next 从当前位置开始找第一个可用节点；全部不可用但未被限速时重置后返回最高优先级节点
func (p *Pool) next() *Node {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.nodes); i++ {
		index := (p.current + i) % len(p.nodes)
		node := p.nodes[index]

		node.mu.Lock()
		if node.rateLimited && now.After(node.rateLimitEnd) {
			node.rateLimited = false
			node.errorCount = 0
			p.logger.Infof("节点 %s 速率限制已解除", node.Name)
			metrics.NodeAvailable.WithLabelValues(node.Name).Set(1)
		}
		ok := node.available && !node.rateLimited
		node.mu.Unlock()

		if ok {
			p.current = index
			return node
		}
	}

	var reset *Node
	for _, node := range p.nodes {
		node.mu.Lock()
		if !node.rateLimited {
			node.available = true
			node.errorCount = 0
			if reset == nil {
				reset = node
			}
		}
		node.mu.Unlock()
	}
	if reset == nil {
		p.logger.Warn("所有节点都被速率限制，等待限制解除")
		return nil
	}
	p.logger.Warn("所有节点都不可用，重新启用")
	return reset
}

// advance 当前节点失败后换到下一个
func (p *Pool) advance(failed *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nodes[p.current] == failed {
		p.current = (p.current + 1) % len(p.nodes)
	}
}

func (p *Pool) handleError(node *Node, err error) {
	node.mu.Lock()
	defer node.mu.Unlock()

	node.errorCount++
	if isRateLimitError(err) {
		node.rateLimited = true
		node.rateLimitEnd = time.Now().Add(p.cooldown)
		metrics.NodeAvailable.WithLabelValues(node.Name).Set(0)
		p.logger.Errorf("节点 %s 达到速率限制，%v 后重试: %v", node.Name, p.cooldown, err)
		return
	}
	if node.errorCount >= maxNodeErrors && node.available {
		node.available = false
		metrics.NodeAvailable.WithLabelValues(node.Name).Set(0)
		p.logger.Warnf("节点 %s 错误次数过多，暂时禁用", node.Name)
	}
}

func (p *Pool) markSuccess(node *Node) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.errorCount = 0
	node.lastUsed = time.Now()
}

// Call 在可用节点上执行 fn，失败时依次换节点，每个节点最多尝试一次
func (p *Pool) Call(ctx context.Context, method string, fn func(ctx context.Context, c Client) error) error {
	var lastErr error
	for attempt := 0; attempt < len(p.nodes); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		node := p.next()
		if node == nil {
			return engineerrors.ErrRateLimitExceeded.Wrap(fmt.Errorf("没有可用节点"))
		}

		node.limiter.Take()
		err := fn(ctx, node.client)
		if err == nil {
			metrics.RPCCalls.WithLabelValues(node.Name, method, "ok").Inc()
			p.markSuccess(node)
			return nil
		}

		metrics.RPCCalls.WithLabelValues(node.Name, method, "error").Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.NewRPCLogger(p.logger, method, node.URL).Debugf("调用失败: %v", err)
		p.handleError(node, err)
		p.advance(node)
		lastErr = fmt.Errorf("节点 %s: %w", node.Name, err)
	}
	return lastErr
}

// BlockNumber 最新区块高度
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := p.Call(ctx, "eth_blockNumber", func(ctx context.Context, c Client) error {
		n, err := c.BlockNumber(ctx)
		head = n
		return err
	})
	return head, err
}

// BlockByNumber 拉取完整区块
func (p *Pool) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := p.Call(ctx, "eth_getBlockByNumber", func(ctx context.Context, c Client) error {
		b, err := c.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		block = b
		return err
	})
	return block, err
}

// SubscribeNewHead 在第一个可用节点上订阅新区块头，HTTP 节点会返回错误
func (p *Pool) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, string, error) {
	node := p.next()
	if node == nil {
		return nil, "", engineerrors.ErrRateLimitExceeded.Wrap(fmt.Errorf("没有可用节点"))
	}
	sub, err := node.client.SubscribeNewHead(ctx, ch)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCCalls.WithLabelValues(node.Name, "eth_subscribe", status).Inc()
	return sub, node.Name, err
}

// Status 所有节点的状态
func (p *Pool) Status() []NodeStatus {
	out := make([]NodeStatus, 0, len(p.nodes))
	for _, n := range p.nodes {
		n.mu.RLock()
		out = append(out, NodeStatus{
			Name:         n.Name,
			URL:          n.URL,
			Priority:     n.Priority,
			Available:    n.available,
			RateLimited:  n.rateLimited,
			RateLimitEnd: n.rateLimitEnd,
			ErrorCount:   n.errorCount,
			LastUsed:     n.lastUsed,
		})
		n.mu.RUnlock()
	}
	return out
}

// Close 关闭所有节点连接
func (p *Pool) Close() {
	for _, n := range p.nodes {
		n.client.Close()
	}
	p.logger.Info("节点连接已关闭")
}

// isRateLimitError 检测是否为 429 错误
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "too many requests", "rate limit", "quota exceeded",
		"request limit", "requests per second", "exceed rate limit",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
