package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	engineerrors "cheeznad/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_SortsByPriority(t *testing.T) {
	pool, err := NewPool([]*Node{
		NewNode("backup", "http://backup", 5, 0, newFakeClient(1)),
		NewNode("primary", "http://primary", 1, 0, newFakeClient(1)),
	}, quietLogger())
	require.NoError(t, err)

	status := pool.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "primary", status[0].Name)
	assert.Equal(t, "backup", status[1].Name)

	_, err = NewPool(nil, quietLogger())
	assert.ErrorIs(t, err, engineerrors.ErrConfigInvalid)
}

func TestPool_FailsOverToNextNode(t *testing.T) {
	primary := newFakeClient(100)
	primary.headErr = errors.New("connection refused")
	backup := newFakeClient(101)

	pool, err := NewPool([]*Node{
		NewNode("primary", "http://primary", 1, 0, primary),
		NewNode("backup", "http://backup", 2, 0, backup),
	}, quietLogger())
	require.NoError(t, err)

	head, err := pool.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), head)

	// 失败后停留在备用节点
	head, err = pool.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(101), head)
	assert.Equal(t, 1, primary.callCount())
}

func TestPool_AllNodesFail(t *testing.T) {
	a := newFakeClient(1)
	a.headErr = errors.New("boom a")
	b := newFakeClient(1)
	b.headErr = errors.New("boom b")

	pool, err := NewPool([]*Node{
		NewNode("a", "http://a", 1, 0, a),
		NewNode("b", "http://b", 2, 0, b),
	}, quietLogger())
	require.NoError(t, err)

	_, err = pool.BlockNumber(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom b")
}

func TestPool_RateLimitedNodeCoolsDown(t *testing.T) {
	limited := newFakeClient(1)
	limited.headErr = errors.New("429 Too Many Requests")

	pool, err := NewPool([]*Node{NewNode("only", "http://only", 1, 0, limited)}, quietLogger())
	require.NoError(t, err)
	pool.cooldown = 30 * time.Millisecond

	_, err = pool.BlockNumber(context.Background())
	require.Error(t, err)
	assert.True(t, pool.Status()[0].RateLimited)

	_, err = pool.BlockNumber(context.Background())
	assert.ErrorIs(t, err, engineerrors.ErrRateLimitExceeded)
	assert.Equal(t, 1, limited.callCount(), "冷却期间不应再调用节点")

	limited.mu.Lock()
	limited.headErr = nil
	limited.mu.Unlock()
	time.Sleep(40 * time.Millisecond)

	_, err = pool.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.False(t, pool.Status()[0].RateLimited)
}

func TestPool_DisablesNodeAfterRepeatedErrors(t *testing.T) {
	flaky := newFakeClient(1)
	flaky.headErr = errors.New("internal error")
	healthy := newFakeClient(2)

	pool, err := NewPool([]*Node{
		NewNode("flaky", "http://flaky", 1, 0, flaky),
		NewNode("healthy", "http://healthy", 2, 0, healthy),
	}, quietLogger())
	require.NoError(t, err)

	for i := 0; i < maxNodeErrors; i++ {
		pool.mu.Lock()
		pool.current = 0
		pool.mu.Unlock()
		_, err := pool.BlockNumber(context.Background())
		require.NoError(t, err)
	}

	status := pool.Status()
	assert.False(t, status[0].Available)
	assert.Equal(t, maxNodeErrors, status[0].ErrorCount)
	assert.True(t, status[1].Available)
	assert.Zero(t, status[1].ErrorCount)
}

func TestPool_ReenablesWhenAllUnavailable(t *testing.T) {
	c := newFakeClient(7)
	node := NewNode("only", "http://only", 1, 0, c)
	pool, err := NewPool([]*Node{node}, quietLogger())
	require.NoError(t, err)

	node.mu.Lock()
	node.available = false
	node.mu.Unlock()

	head, err := pool.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), head)
	assert.True(t, pool.Status()[0].Available)
}

func TestPool_CancelledContext(t *testing.T) {
	pool, err := NewPool([]*Node{NewNode("only", "http://only", 1, 0, newFakeClient(1))}, quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.BlockNumber(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_Close(t *testing.T) {
	a, b := newFakeClient(1), newFakeClient(1)
	pool, err := NewPool([]*Node{NewNode("a", "", 1, 0, a), NewNode("b", "", 2, 0, b)}, quietLogger())
	require.NoError(t, err)

	pool.Close()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"空错误", nil, false},
		{"状态码", errors.New("429"), true},
		{"大小写不敏感", errors.New("Too Many Requests"), true},
		{"配额", errors.New("daily quota exceeded"), true},
		{"普通错误", errors.New("execution reverted"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRateLimitError(tt.err))
		})
	}
}
