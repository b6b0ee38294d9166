package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序
const (
	OrderStopBlockSource = 10 // 停止区块订阅，不再产生新的 accumulate
	OrderStopEngine      = 20 // 取消回合计时器与结算轮询
	OrderStopAPI         = 30 // 关闭 HTTP 与 WebSocket
	OrderFlushOutputs    = 40 // 刷新事件输出
	OrderCloseStore      = 50 // 关闭存储
)

const defaultTimeout = 30 * time.Second

// Stage 一个停机阶段，Order 小的先执行，同序号按注册顺序
type Stage struct {
	Name  string
	Order int
	Run   func(ctx context.Context) error
}

// GracefulShutdown 按阶段停止回合引擎的各个组件
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu        sync.Mutex
	stages    []Stage
	triggered bool
	cause     error
	failures  []error

	signals chan os.Signal
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewGracefulShutdown 创建停机管理器，timeout 是全部阶段共享的时限
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	gs := &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
		signals: make(chan os.Signal, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	signal.Notify(gs.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return gs
}

// RegisterShutdownFunc 注册停机阶段
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.stages = append(gs.stages, Stage{Name: name, Order: order, Run: fn})
	gs.logger.Debugf("注册停机阶段: %s (order: %d)", name, order)
}

// Start 开始监听 SIGINT/SIGTERM/SIGQUIT
func (gs *GracefulShutdown) Start() {
	go func() {
		select {
		case sig := <-gs.signals:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.trigger(nil)
		case <-gs.done:
		}
	}()
	gs.logger.Info("停机管理器已启动")
}

// Wait 阻塞到全部停机阶段执行完
func (gs *GracefulShutdown) Wait() {
	<-gs.done
}

// Context 停机完成后取消
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Shutdown 手动停机，已在停机时直接返回
func (gs *GracefulShutdown) Shutdown() {
	gs.trigger(nil)
}

// Fail 因组件故障停机，cause 会由 Err 返回
func (gs *GracefulShutdown) Fail(cause error) {
	if cause != nil {
		gs.logger.Errorf("组件故障，开始停机: %v", cause)
	}
	gs.trigger(cause)
}

// Err 触发停机的故障，信号或手动停机时为 nil
func (gs *GracefulShutdown) Err() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.cause
}

// StageErrors 执行失败的阶段
func (gs *GracefulShutdown) StageErrors() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return errors.Join(gs.failures...)
}

// IsShuttingDown 是否已触发停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.triggered
}

// StageNames 按执行顺序列出阶段名
func (gs *GracefulShutdown) StageNames() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	names := make([]string, 0, len(gs.stages))
	for _, s := range gs.ordered() {
		names = append(names, s.Name)
	}
	return names
}

// Close 停止监听信号，尚未停机时执行停机
func (gs *GracefulShutdown) Close() error {
	signal.Stop(gs.signals)
	gs.Shutdown()
	return nil
}

func (gs *GracefulShutdown) trigger(cause error) {
	gs.mu.Lock()
	if gs.triggered {
		gs.mu.Unlock()
		return
	}
	gs.triggered = true
	gs.cause = cause
	stages := gs.ordered()
	gs.mu.Unlock()

	defer close(gs.done)
	defer gs.cancel()
	gs.run(stages)
}

// run 依次执行阶段，超时后跳过剩余阶段
func (gs *GracefulShutdown) run(stages []Stage) {
	gs.logger.Infof("开始停机，共 %d 个阶段", len(stages))
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	for i, stage := range stages {
		if ctx.Err() != nil {
			skipped := make([]string, 0, len(stages)-i)
			for _, s := range stages[i:] {
				skipped = append(skipped, s.Name)
			}
			gs.logger.Warnf("停机超时 (%v)，跳过: %v", gs.timeout, skipped)
			return
		}

		start := time.Now()
		if err := stage.Run(ctx); err != nil {
			gs.logger.Errorf("停机阶段 %s 失败 (耗时: %v): %v", stage.Name, time.Since(start), err)
			gs.mu.Lock()
			gs.failures = append(gs.failures, fmt.Errorf("%s: %w", stage.Name, err))
			gs.mu.Unlock()
			continue
		}
		gs.logger.Infof("停机阶段 %s 完成 (耗时: %v)", stage.Name, time.Since(start))
	}
	gs.logger.Info("停机完成")
}

// ordered 调用方需持有 mu
func (gs *GracefulShutdown) ordered() []Stage {
	stages := make([]Stage, len(gs.stages))
	copy(stages, gs.stages)
	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Order < stages[j].Order
	})
	return stages
}
