package settlement

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"
	"cheeznad/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// ContractABI 结算合约中用到的方法
const ContractABI = `[
	{"name":"getCurrentRoundPhase","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"canDistribute","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"name":"distribute","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_winningZone","type":"uint8"}],"outputs":[]},
	{"name":"resetRound","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"name":"getZoneTotal","type":"function","stateMutability":"view","inputs":[{"name":"_zone","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getRoundTimeRemaining","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getBettingTimeRemaining","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const receiptPollInterval = time.Second

// Backend ethclient 中合约交互用到的部分
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Timers 合约侧的剩余时间，单位秒
type Timers struct {
	RoundRemaining   uint64 `json:"roundRemaining"`
	BettingRemaining uint64 `json:"bettingRemaining"`
	CanDistribute    bool   `json:"canDistribute"`
}

// EVMContract 通过 JSON-RPC 访问结算合约
type EVMContract struct {
	backend  Backend
	closer   func()
	address  common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	logger   *logrus.Entry

	sendMu sync.Mutex
}

// DialEVMContract 连接 RPC 并创建合约客户端；私钥缺失不报错，首次发送交易时才失败
func DialEVMContract(ctx context.Context, cfg *config.SettlementConfig, logger *logrus.Logger) (*EVMContract, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接结算 RPC 失败: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID <= 0 {
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("获取链ID失败: %w", err)
		}
	}

	c, err := NewEVMContract(client, cfg, chainID, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.closer = client.Close
	return c, nil
}

// NewEVMContract 基于已有后端创建合约客户端
func NewEVMContract(backend Backend, cfg *config.SettlementConfig, chainID *big.Int, logger *logrus.Logger) (*EVMContract, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("无效的合约地址: %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("解析合约ABI失败: %w", err)
	}

	c := &EVMContract{
		backend:  backend,
		address:  common.HexToAddress(cfg.ContractAddress),
		abi:      parsed,
		chainID:  chainID,
		gasLimit: cfg.GasLimit,
		logger:   logger.WithField("component", "settlement_contract"),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, engineerrors.ErrConfigInvalid.Wrap(fmt.Errorf("解析结算私钥失败: %w", err))
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
		c.logger.Infof("结算账户: %s", c.from.Hex())
	} else {
		c.logger.Warn("未配置结算私钥，只能读取合约状态")
	}

	return c, nil
}

func (c *EVMContract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}

	to := c.address
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		metrics.RPCCalls.WithLabelValues("settlement", method, "error").Inc()
		return nil, err
	}
	metrics.RPCCalls.WithLabelValues("settlement", method, "ok").Inc()

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s 没有返回值", method)
	}
	return values, nil
}

// ReadPhase 当前回合阶段
func (c *EVMContract) ReadPhase(ctx context.Context) (string, error) {
	values, err := c.call(ctx, "getCurrentRoundPhase")
	if err != nil {
		return "", err
	}
	phase, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("getCurrentRoundPhase 返回类型异常: %T", values[0])
	}
	return phase, nil
}

// CanDistribute 合约自身的可分配判断
func (c *EVMContract) CanDistribute(ctx context.Context) (bool, error) {
	values, err := c.call(ctx, "canDistribute")
	if err != nil {
		return false, err
	}
	ok, isBool := values[0].(bool)
	if !isBool {
		return false, fmt.Errorf("canDistribute 返回类型异常: %T", values[0])
	}
	return ok, nil
}

// ReadZoneDeposit 某区域的押注总额 (wei)
func (c *EVMContract) ReadZoneDeposit(ctx context.Context, zoneEnum uint8) (*big.Int, error) {
	return c.readUint(ctx, "getZoneTotal", zoneEnum)
}

// ReadTimers 合约侧回合与下注剩余秒数，以及合约是否可以分配
func (c *EVMContract) ReadTimers(ctx context.Context) (*Timers, error) {
	round, err := c.readUint(ctx, "getRoundTimeRemaining")
	if err != nil {
		return nil, err
	}
	betting, err := c.readUint(ctx, "getBettingTimeRemaining")
	if err != nil {
		return nil, err
	}
	canDistribute, err := c.CanDistribute(ctx)
	if err != nil {
		return nil, err
	}
	return &Timers{RoundRemaining: round.Uint64(), BettingRemaining: betting.Uint64(), CanDistribute: canDistribute}, nil
}

func (c *EVMContract) readUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回类型异常: %T", method, values[0])
	}
	return v, nil
}

// CallReset 发送 resetRound 交易
func (c *EVMContract) CallReset(ctx context.Context) (common.Hash, error) {
	return c.send(ctx, "resetRound")
}

// CallDistribute 发送 distribute 交易
func (c *EVMContract) CallDistribute(ctx context.Context, zoneEnum uint8) (common.Hash, error) {
	return c.send(ctx, "distribute", zoneEnum)
}

// send 构造、签名并广播交易，串行执行以免 nonce 冲突
func (c *EVMContract) send(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, engineerrors.ErrMissingCredentials.Wrap(fmt.Errorf("无法发送 %s 交易", method))
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取nonce失败: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取gas价格失败: %w", err)
	}

	to := c.address
	gas := c.gasLimit
	if gas == 0 {
		estimated, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("估算gas失败: %w", err)
		}
		gas = estimated * 12 / 10
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		metrics.RPCCalls.WithLabelValues("settlement", method, "error").Inc()
		return common.Hash{}, fmt.Errorf("广播交易失败: %w", err)
	}
	metrics.RPCCalls.WithLabelValues("settlement", method, "ok").Inc()

	c.logger.Debugf("%s 交易已广播: hash=%s nonce=%d gas=%d", method, signed.Hash().Hex(), nonce, gas)
	return signed.Hash(), nil
}

// WaitForConfirmation 轮询收据直到上链或 ctx 结束
func (c *EVMContract) WaitForConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Debugf("查询交易 %s 收据失败: %v", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close 关闭 RPC 连接
func (c *EVMContract) Close() {
	if c.closer != nil {
		c.closer()
	}
}
