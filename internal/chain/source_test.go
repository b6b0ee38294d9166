package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"cheeznad/internal/config"
	"cheeznad/internal/retry"
	"cheeznad/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, client *fakeClient) *Source {
	t.Helper()
	pool, err := NewPool([]*Node{NewNode("fake", "ws://fake", 1, 0, client)}, quietLogger())
	require.NoError(t, err)

	s := NewSource(pool, &config.ChainConfig{PollInterval: 10 * time.Millisecond, FetchTimeout: time.Second}, quietLogger())
	s.retrier = retry.NewRetrier(&retry.RetryConfig{MaxAttempts: 1}, quietLogger())
	return s
}

func runSource(t *testing.T, s *Source) (chan *models.Block, context.CancelFunc, chan error) {
	t.Helper()
	out := make(chan *models.Block, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, out) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return out, cancel, done
}

func receive(t *testing.T, out <-chan *models.Block, n int) []uint64 {
	t.Helper()
	var got []uint64
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case b := <-out:
			got = append(got, b.Number)
		case <-timeout:
			t.Fatalf("只收到 %d 个区块: %v", len(got), got)
		}
	}
	return got
}

func TestSource_PollingFillsGaps(t *testing.T) {
	client := newFakeClient(10)
	client.subErr = errors.New("notifications not supported")
	s := newTestSource(t, client)

	out, _, _ := runSource(t, s)
	assert.Equal(t, []uint64{10}, receive(t, out, 1))

	client.setHead(13)
	assert.Equal(t, []uint64{11, 12, 13}, receive(t, out, 3))

	require.Eventually(t, func() bool { return s.LastBlock() == 13 }, time.Second, 5*time.Millisecond)
}

func TestSource_Subscription(t *testing.T) {
	client := newFakeClient(20)
	s := newTestSource(t, client)

	out, _, _ := runSource(t, s)
	assert.Equal(t, []uint64{20}, receive(t, out, 1))

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.heads != nil
	}, time.Second, 5*time.Millisecond)

	client.announce(22)
	assert.Equal(t, []uint64{21, 22}, receive(t, out, 2))

	// 订阅期间不轮询
	calls := client.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, client.callCount())
}

func TestSource_FallsBackToPollingWhenSubscriptionDrops(t *testing.T) {
	client := newFakeClient(30)
	s := newTestSource(t, client)

	out, _, _ := runSource(t, s)
	receive(t, out, 1)

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.subFail != nil
	}, time.Second, 5*time.Millisecond)

	client.breakSubscription(errors.New("websocket closed"))
	client.setHead(32)
	assert.Equal(t, []uint64{31, 32}, receive(t, out, 2))
}

func TestSource_SkipsUnfetchableBlock(t *testing.T) {
	client := newFakeClient(40)
	client.subErr = errors.New("notifications not supported")
	client.blockErrs[42] = errors.New("missing trie node")
	s := newTestSource(t, client)

	out, _, _ := runSource(t, s)
	receive(t, out, 1)

	client.setHead(43)
	assert.Equal(t, []uint64{41, 43}, receive(t, out, 2))
	require.Eventually(t, func() bool { return s.LastBlock() == 43 }, time.Second, 5*time.Millisecond)
}

func TestSource_JumpsAheadWhenFarBehind(t *testing.T) {
	client := newFakeClient(50)
	client.subErr = errors.New("notifications not supported")
	s := newTestSource(t, client)
	s.maxCatchUp = 3

	out, _, _ := runSource(t, s)
	receive(t, out, 1)

	client.setHead(60)
	assert.Equal(t, []uint64{58, 59, 60}, receive(t, out, 3))
}

func TestSource_StopsOnCancel(t *testing.T) {
	client := newFakeClient(5)
	client.subErr = errors.New("notifications not supported")
	s := newTestSource(t, client)

	out, cancel, done := runSource(t, s)
	receive(t, out, 1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		done <- err
	case <-time.After(time.Second):
		t.Fatal("区块来源没有停止")
	}
}

func TestSource_InitialHeadFailure(t *testing.T) {
	client := newFakeClient(1)
	client.headErr = errors.New("connection refused")
	s := newTestSource(t, client)

	err := s.Run(context.Background(), make(chan *models.Block, 1))
	assert.Error(t, err)
}
