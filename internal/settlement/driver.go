package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/logging"
	"cheeznad/internal/metrics"
	"cheeznad/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval   = 20 * time.Second
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultReadyPhase     = "COMPLETE"

	ActionDistribute = "distribute"
	ActionReset      = "reset"
)

var (
	// ErrSuperseded 新回合的结算开始后，旧的轮询被取消
	ErrSuperseded = errors.New("结算已被新的回合取代")
	// ErrStopped 结算器已停止
	ErrStopped = errors.New("结算器已停止")
)

// Contract 外部结算合约，所有调用都可能很慢或失败
type Contract interface {
	ReadPhase(ctx context.Context) (string, error)
	ReadZoneDeposit(ctx context.Context, zoneEnum uint8) (*big.Int, error)
	CallReset(ctx context.Context) (common.Hash, error)
	CallDistribute(ctx context.Context, zoneEnum uint8) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Settler 回合引擎依赖的结算接口
type Settler interface {
	Settle(ctx context.Context, roundNumber int64, winner models.Zone) (*Result, error)
}

// Result 一次成功结算
type Result struct {
	RoundNumber int64       `json:"round_number"`
	Winner      models.Zone `json:"winner"`
	Action      string      `json:"action"`
	TxHash      string      `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Attempts    int         `json:"attempts"`
}

// Driver 结算驱动：先检查合约阶段，再按是否有押注选择 reset 或 distribute，
// 失败后立即重试一次，之后按固定间隔轮询，直到成功、被取代或停止
type Driver struct {
	contract       Contract
	pollInterval   time.Duration
	confirmTimeout time.Duration
	readyPhase     string
	logger         *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelCauseFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewDriver 创建结算驱动
func NewDriver(contract Contract, cfg *config.SettlementConfig, logger *logrus.Logger) *Driver {
	d := &Driver{
		contract:       contract,
		pollInterval:   DefaultPollInterval,
		confirmTimeout: DefaultConfirmTimeout,
		readyPhase:     DefaultReadyPhase,
		logger:         logger,
	}
	if cfg != nil {
		if cfg.PollInterval > 0 {
			d.pollInterval = cfg.PollInterval
		}
		if cfg.ConfirmTimeout > 0 {
			d.confirmTimeout = cfg.ConfirmTimeout
		}
		if cfg.ReadyPhase != "" {
			d.readyPhase = cfg.ReadyPhase
		}
	}
	return d
}

// Settle 阻塞直到结算成功、遇到不可恢复的错误、被下一次 Settle 取代或 ctx 取消
func (d *Driver) Settle(ctx context.Context, roundNumber int64, winner models.Zone) (*Result, error) {
	zoneEnum, err := winner.ContractEnum()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil, ErrStopped
	}
	if d.cancel != nil {
		d.cancel(ErrSuperseded)
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	defer cancel(nil)

	d.logger.WithFields(logrus.Fields{
		"component": "settlement",
		"round":     roundNumber,
		"zone":      winner,
	}).Infof("开始结算，胜者 %s (enum=%d)", winner, zoneEnum)

	attempt := 0
	try := func() (*Result, error) {
		attempt++
		log := logging.NewSettlementLogger(d.logger, string(winner), attempt).WithField("round", roundNumber)

		result, err := d.attempt(runCtx, zoneEnum, log)
		if err == nil {
			result.RoundNumber = roundNumber
			result.Winner = winner
			result.Attempts = attempt
			metrics.SettlementAttempts.WithLabelValues("success").Inc()
			metrics.SettlementActions.WithLabelValues(result.Action).Inc()
			log.Infof("结算完成: %s 交易 %s 已在区块 %d 确认", result.Action, result.TxHash, result.BlockNumber)
			return result, nil
		}

		if errors.Is(err, engineerrors.ErrContractNotReady) {
			metrics.SettlementAttempts.WithLabelValues("not_ready").Inc()
			log.Debugf("合约尚未就绪: %v", err)
		} else {
			metrics.SettlementAttempts.WithLabelValues("error").Inc()
			log.Warnf("结算尝试失败: %v", err)
		}
		return nil, err
	}

	// 第一次尝试和一次立即重试
	for i := 0; i < 2; i++ {
		result, err := try()
		if err == nil {
			return result, nil
		}
		if fatal(err) {
			return nil, err
		}
		if runCtx.Err() != nil {
			return nil, context.Cause(runCtx)
		}
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			cause := context.Cause(runCtx)
			d.logger.WithFields(logrus.Fields{
				"component": "settlement",
				"round":     roundNumber,
			}).Infof("结算轮询结束: %v", cause)
			return nil, cause
		case <-ticker.C:
			result, err := try()
			if err == nil {
				return result, nil
			}
			if fatal(err) {
				return nil, err
			}
		}
	}
}

// attempt 完整执行一次：阶段检查、押注检查、发送交易并等待确认
func (d *Driver) attempt(ctx context.Context, zoneEnum uint8, log *logrus.Entry) (*Result, error) {
	phase, err := d.contract.ReadPhase(ctx)
	if err != nil {
		return nil, engineerrors.ErrContractCall.Wrap(fmt.Errorf("读取合约阶段失败: %w", err))
	}
	log.Debugf("当前合约阶段: %q", phase)
	if phase != d.readyPhase {
		return nil, engineerrors.ErrContractNotReady.Wrap(fmt.Errorf("合约阶段为 %q", phase))
	}

	deposits, err := d.hasDeposits(ctx)
	if err != nil {
		return nil, err
	}

	var (
		action string
		txHash common.Hash
	)
	if !deposits {
		log.Info("所有区域都没有押注，调用 resetRound")
		action = ActionReset
		txHash, err = d.contract.CallReset(ctx)
	} else {
		log.Infof("合约已就绪，调用 distribute(%d)", zoneEnum)
		action = ActionDistribute
		txHash, err = d.contract.CallDistribute(ctx, zoneEnum)
	}
	if err != nil {
		if errors.Is(err, engineerrors.ErrMissingCredentials) {
			return nil, err
		}
		return nil, engineerrors.ErrContractCall.Wrap(fmt.Errorf("发送 %s 交易失败: %w", action, err))
	}
	log.Infof("%s 交易已发送: %s", action, txHash.Hex())

	confirmCtx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()

	receipt, err := d.contract.WaitForConfirmation(confirmCtx, txHash)
	if err != nil {
		return nil, engineerrors.ErrNetworkTimeout.Wrap(fmt.Errorf("等待交易 %s 确认失败: %w", txHash.Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, engineerrors.ErrTxReverted.Wrap(fmt.Errorf("交易 %s 执行失败", txHash.Hex()))
	}

	result := &Result{Action: action, TxHash: txHash.Hex()}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result, nil
}

// hasDeposits 任一区域押注大于 0
func (d *Driver) hasDeposits(ctx context.Context) (bool, error) {
	for _, z := range models.AllZones {
		zoneEnum, _ := z.ContractEnum()
		total, err := d.contract.ReadZoneDeposit(ctx, zoneEnum)
		if err != nil {
			return false, engineerrors.ErrContractCall.Wrap(fmt.Errorf("读取区域 %s 押注失败: %w", z, err))
		}
		if total != nil && total.Sign() > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Stop 取消进行中的轮询并等待其退出
func (d *Driver) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.cancel != nil {
		d.cancel(ErrStopped)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// fatal 缺少凭证时继续轮询没有意义
func fatal(err error) bool {
	return errors.Is(err, engineerrors.ErrMissingCredentials)
}
