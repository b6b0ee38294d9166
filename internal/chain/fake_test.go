package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sirupsen/logrus"
)

// fakeClient 内存节点：最新高度可调，区块按高度生成
type fakeClient struct {
	mu        sync.Mutex
	head      uint64
	headErr   error
	blockErrs map[uint64]error
	subErr    error
	heads     chan<- *types.Header
	subFail   chan error
	calls     int
	closed    bool
}

func newFakeClient(head uint64) *fakeClient {
	return &fakeClient{head: head, blockErrs: make(map[uint64]error)}
}

func (f *fakeClient) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.head, f.headErr
}

func (f *fakeClient) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	n := number.Uint64()
	if err := f.blockErrs[n]; err != nil {
		return nil, err
	}
	if n > f.head {
		return nil, ethereum.NotFound
	}
	return types.NewBlockWithHeader(&types.Header{
		Number:     new(big.Int).SetUint64(n),
		Time:       1_700_000_000 + n,
		Difficulty: big.NewInt(0),
	}), nil
}

func (f *fakeClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.heads = ch
	fail := make(chan error, 1)
	f.subFail = fail
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			return nil
		case err := <-fail:
			return err
		}
	}), nil
}

// announce 通过订阅推送新区块头
func (f *fakeClient) announce(n uint64) {
	f.mu.Lock()
	f.head = n
	ch := f.heads
	f.mu.Unlock()
	ch <- &types.Header{Number: new(big.Int).SetUint64(n)}
}

// breakSubscription 让当前订阅返回错误
func (f *fakeClient) breakSubscription(err error) {
	f.mu.Lock()
	fail := f.subFail
	f.subErr = errors.New("notifications not supported")
	f.mu.Unlock()
	fail <- err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}
