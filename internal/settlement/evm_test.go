package settlement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"cheeznad/internal/config"
	engineerrors "cheeznad/internal/errors"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContract = "0xa02d5EE3B5462be694e7F6Fe9c101434399aD970"

// fakeBackend 按方法选择器返回预先编码的结果
type fakeBackend struct {
	mu       sync.Mutex
	abi      abi.ABI
	results  map[string][]byte
	sent     []*types.Transaction
	receipts int
	pending  int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	require.NoError(t, err)
	return &fakeBackend{abi: parsed, results: make(map[string][]byte)}
}

func (b *fakeBackend) returns(t *testing.T, method string, values ...interface{}) {
	out, err := b.abi.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	b.results[string(b.abi.Methods[method].ID)] = out
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, ok := b.results[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(50_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receipts++
	if b.receipts <= b.pending {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash, BlockNumber: big.NewInt(12)}, nil
}

func newTestContract(t *testing.T, backend Backend, key string) *EVMContract {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	c, err := NewEVMContract(backend, &config.SettlementConfig{
		ContractAddress: testContract,
		PrivateKey:      key,
	}, big.NewInt(10143), logger)
	require.NoError(t, err)
	return c
}

func TestEVMContract_Reads(t *testing.T) {
	backend := newFakeBackend(t)
	backend.returns(t, "getCurrentRoundPhase", "COMPLETE")
	backend.returns(t, "getZoneTotal", big.NewInt(42))
	backend.returns(t, "canDistribute", true)
	backend.returns(t, "getRoundTimeRemaining", big.NewInt(90))
	backend.returns(t, "getBettingTimeRemaining", big.NewInt(30))

	c := newTestContract(t, backend, "")
	ctx := context.Background()

	phase, err := c.ReadPhase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", phase)

	total, err := c.ReadZoneDeposit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), total.Int64())

	timers, err := c.ReadTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, &Timers{RoundRemaining: 90, BettingRemaining: 30, CanDistribute: true}, timers)
}

func TestEVMContract_ReadFailure(t *testing.T) {
	c := newTestContract(t, newFakeBackend(t), "")
	_, err := c.ReadPhase(context.Background())
	assert.Error(t, err)
}

func TestEVMContract_SendWithoutKey(t *testing.T) {
	backend := newFakeBackend(t)
	c := newTestContract(t, backend, "")

	_, err := c.CallReset(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, engineerrors.ErrMissingCredentials))
	assert.Empty(t, backend.sent)
}

func TestEVMContract_Distribute(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	backend := newFakeBackend(t)
	c := newTestContract(t, backend, "0x"+hexKey)

	hash, err := c.CallDistribute(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, common.HexToAddress(testContract), *tx.To())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(10143)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), sender)

	args, err := c.abi.Methods["distribute"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, uint8(3), args[0])
}

func TestEVMContract_InvalidConfig(t *testing.T) {
	logger := logrus.New()

	_, err := NewEVMContract(newFakeBackend(t), &config.SettlementConfig{ContractAddress: "not-an-address"}, big.NewInt(1), logger)
	assert.Error(t, err)

	_, err = NewEVMContract(newFakeBackend(t), &config.SettlementConfig{ContractAddress: testContract, PrivateKey: "zz"}, big.NewInt(1), logger)
	assert.True(t, errors.Is(err, engineerrors.ErrConfigInvalid))
}

func TestEVMContract_WaitForConfirmation(t *testing.T) {
	backend := newFakeBackend(t)
	backend.pending = 1
	c := newTestContract(t, backend, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	receipt, err := c.WaitForConfirmation(ctx, common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, uint64(12), receipt.BlockNumber.Uint64())
	assert.Equal(t, 2, backend.receipts)

	backend.pending = 100
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = c.WaitForConfirmation(short, common.HexToHash("0xdef"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
